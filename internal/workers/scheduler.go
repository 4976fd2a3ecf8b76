package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finmesh/internal/metrics"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

const defaultStopTimeout = 30 * time.Second

// Scheduler runs every enabled worker on its own ticker
type Scheduler struct {
	workers     []Worker
	stopTimeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	log     *logger.Logger
	started bool
}

// NewScheduler creates a scheduler. Stop waits at most stopTimeout for running
// iterations; zero selects 30s.
func NewScheduler(stopTimeout time.Duration) *Scheduler {
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &Scheduler{
		stopTimeout: stopTimeout,
		log:         logger.Get().With("component", "scheduler"),
	}
}

// RegisterWorker adds w. Workers registered after Start are ignored.
func (s *Scheduler) RegisterWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.log.Warnw("Cannot register worker after scheduler has started", "worker", w.Name())
		return
	}
	s.workers = append(s.workers, w)
	s.log.Infow("Worker registered", "worker", w.Name(), "interval", w.Interval())
}

// Start launches every enabled worker. Each runs once immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrInternal, "scheduler already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	workers := append([]Worker(nil), s.workers...)
	s.mu.Unlock()

	started := 0
	for _, w := range workers {
		if !w.Enabled() {
			s.log.Infow("Skipping disabled worker", "worker", w.Name())
			continue
		}
		if w.Interval() <= 0 {
			s.log.Warnw("Skipping worker without interval", "worker", w.Name())
			continue
		}
		s.wg.Add(1)
		go s.runWorker(w)
		started++
	}

	s.log.Infow("Worker scheduler started", "workers", started)
	return nil
}

// Stop cancels the workers and waits for in-flight iterations
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrInternal, "scheduler not started")
	}
	s.cancel()
	s.mu.Unlock()

	s.log.Info("Stopping worker scheduler")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.log.Info("All workers stopped")
	case <-time.After(s.stopTimeout):
		s.log.Warnw("Worker shutdown timed out", "timeout", s.stopTimeout)
		err = errors.Wrapf(errors.ErrTimeout, "worker shutdown after %s", s.stopTimeout)
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return err
}

func (s *Scheduler) runWorker(w Worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	s.execute(w)
	for {
		select {
		case <-s.ctx.Done():
			s.log.Debugw("Worker stopped", "worker", w.Name())
			return
		case <-ticker.C:
			s.execute(w)
		}
	}
}

// execute runs one iteration; panics count as failed runs
func (s *Scheduler) execute(w Worker) {
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(errors.ErrInternal, "worker panic: %s", fmt.Sprint(r))
			s.log.Errorw("Worker panicked", "worker", w.Name(), "panic", fmt.Sprint(r))
		}

		duration := time.Since(start)
		metrics.RecordWorkerExecution(w.Name(), duration, err)
		if hr, ok := w.(healthRecorder); ok {
			if err != nil {
				hr.RecordError(err, duration)
			} else {
				hr.RecordRun(duration)
			}
		}
	}()

	if err = w.Run(s.ctx); err != nil {
		s.log.Warnw("Worker execution failed", "worker", w.Name(), "error", err, "duration", time.Since(start))
		return
	}
	s.log.Debugw("Worker execution completed", "worker", w.Name(), "duration", time.Since(start))
}

// GetWorkers returns the registered workers
func (s *Scheduler) GetWorkers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Worker(nil), s.workers...)
}

// Health returns the statistics of every worker that records them
func (s *Scheduler) Health() map[string]WorkerHealth {
	out := make(map[string]WorkerHealth)
	for _, w := range s.GetWorkers() {
		if hr, ok := w.(healthRecorder); ok {
			out[w.Name()] = hr.Health()
		}
	}
	return out
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
