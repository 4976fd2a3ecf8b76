package bootstrap

import (
	"context"
	"sync"
	"time"

	redisclient "finmesh/internal/adapters/redis"
	"finmesh/internal/api"
	"finmesh/internal/services/integration"
	"finmesh/internal/workers"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
	log             *logger.Logger
}

// ShutdownTargets are the components Shutdown stops. Nil entries are skipped.
type ShutdownTargets struct {
	HTTPServer   *api.Server
	Scheduler    *workers.Scheduler
	Manager      *integration.Manager
	WG           *sync.WaitGroup
	ErrorTracker errors.Tracker
	Redis        *redisclient.Client
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
		log:             logger.Get().With("component", "lifecycle"),
	}
}

// Shutdown stops components in dependency order:
// 1. No new HTTP requests (mailbox pushes, external requests)
// 2. Workers stop sweeping and heartbeating
// 3. Agents close their transports, failing pending requests
// 4. Goroutines drain
// 5. Errors and logs are flushed
// 6. Redis closes last; the peer store is used until the agents stop
func (l *Lifecycle) Shutdown(t ShutdownTargets) {
	log := l.log
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/6] Stopping HTTP server...")
	if t.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := t.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		} else {
			log.Info("✓ HTTP server stopped")
		}
		httpCancel()
	}

	log.Info("[2/6] Stopping background workers...")
	if t.Scheduler != nil && t.Scheduler.IsRunning() {
		if err := t.Scheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	log.Info("[3/6] Stopping agents...")
	if t.Manager != nil {
		agentCtx, agentCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		if err := t.Manager.Shutdown(agentCtx); err != nil {
			log.Errorw("Agent shutdown failed", "error", err)
		} else {
			log.Info("✓ Agents stopped")
		}
		agentCancel()
	}

	log.Info("[4/6] Waiting for goroutines...")
	if t.WG != nil {
		l.waitForGoroutines(t.WG, 5*time.Second)
	}

	log.Info("[5/6] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, t.ErrorTracker)
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	}

	log.Info("[6/6] Closing Redis...")
	if t.Redis != nil {
		if err := t.Redis.Close(); err != nil {
			log.Errorw("Redis close failed", "error", err)
		} else {
			log.Info("✓ Redis closed")
		}
	}

	log.Info("✅ Graceful shutdown complete")
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		l.log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		l.log.Errorw("Error tracker flush failed", "error", err)
	}
}
