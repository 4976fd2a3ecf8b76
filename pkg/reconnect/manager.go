package reconnect

import (
	"context"
	"sync"
	"time"

	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

// ErrCircuitOpen is returned while the breaker refuses new attempts
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Manager retries connection attempts with exponential backoff and trips a
// circuit breaker after too many consecutive failed rounds.
// One Manager is meant to guard one endpoint.
type Manager struct {
	minBackoff        time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	maxAttempts       int
	failureThreshold  int
	circuitResetAfter time.Duration

	mu                  sync.Mutex
	consecutiveFailures int
	totalConnects       int
	circuitOpen         bool
	circuitOpenedAt     time.Time

	now    func() time.Time
	logger *logger.Logger
}

// Config configures the reconnect manager
type Config struct {
	MinBackoff        time.Duration // wait before the second attempt (e.g. 200ms)
	MaxBackoff        time.Duration // upper bound for a single wait (e.g. 5s)
	BackoffMultiplier float64       // growth factor between attempts (e.g. 2.0)
	MaxAttempts       int           // attempts per Connect call
	FailureThreshold  int           // failed Connect calls before the circuit opens
	CircuitResetAfter time.Duration // how long the circuit stays open
}

// NewManager creates a reconnect manager, filling zero fields with defaults
func NewManager(config Config, log *logger.Logger) *Manager {
	if config.MinBackoff == 0 {
		config.MinBackoff = 200 * time.Millisecond
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 5 * time.Second
	}
	if config.BackoffMultiplier == 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.CircuitResetAfter == 0 {
		config.CircuitResetAfter = time.Minute
	}
	if log == nil {
		log = logger.Get()
	}

	return &Manager{
		minBackoff:        config.MinBackoff,
		maxBackoff:        config.MaxBackoff,
		backoffMultiplier: config.BackoffMultiplier,
		maxAttempts:       config.MaxAttempts,
		failureThreshold:  config.FailureThreshold,
		circuitResetAfter: config.CircuitResetAfter,
		now:               time.Now,
		logger:            log.With("component", "reconnect"),
	}
}

// Connect runs dial until it succeeds, the attempt budget is spent or ctx is done.
// The first attempt is immediate; later attempts wait an exponentially growing backoff.
func (m *Manager) Connect(ctx context.Context, dial func(context.Context) error) error {
	if !m.allow() {
		return ErrCircuitOpen
	}

	var lastErr error
	backoff := m.minBackoff
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if attempt > 1 {
			m.logger.Debugw("Waiting before reconnect attempt", "attempt", attempt, "backoff", backoff)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff = m.next(backoff)
		}

		if lastErr = dial(ctx); lastErr == nil {
			m.recordSuccess()
			return nil
		}
		m.logger.Warnw("Connect attempt failed", "attempt", attempt, "max_attempts", m.maxAttempts, "error", lastErr)
	}

	m.recordFailure()
	return errors.Wrapf(lastErr, "connect failed after %d attempts", m.maxAttempts)
}

func (m *Manager) next(backoff time.Duration) time.Duration {
	n := time.Duration(float64(backoff) * m.backoffMultiplier)
	if n > m.maxBackoff {
		return m.maxBackoff
	}
	return n
}

func (m *Manager) allow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.circuitOpen {
		return true
	}
	if m.now().Sub(m.circuitOpenedAt) >= m.circuitResetAfter {
		// half-open: one more round is allowed
		return true
	}
	return false
}

func (m *Manager) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures++
	if m.consecutiveFailures >= m.failureThreshold {
		if !m.circuitOpen {
			m.logger.Warnw("Circuit breaker opened",
				"consecutive_failures", m.consecutiveFailures,
				"reset_after", m.circuitResetAfter,
			)
		}
		m.circuitOpen = true
		m.circuitOpenedAt = m.now()
	}
}

func (m *Manager) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.circuitOpen {
		m.logger.Infow("Circuit breaker closed", "previous_failures", m.consecutiveFailures)
	}
	m.consecutiveFailures = 0
	m.circuitOpen = false
	m.circuitOpenedAt = time.Time{}
	m.totalConnects++
}

// Reset closes the circuit and clears the failure counter
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitOpen = false
	m.circuitOpenedAt = time.Time{}
	m.consecutiveFailures = 0
}

// Stats contains reconnection statistics
type Stats struct {
	ConsecutiveFailures int
	TotalConnects       int
	CircuitOpen         bool
	CircuitOpenedAt     time.Time
}

// GetStats returns a snapshot of the manager state
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		ConsecutiveFailures: m.consecutiveFailures,
		TotalConnects:       m.totalConnects,
		CircuitOpen:         m.circuitOpen,
		CircuitOpenedAt:     m.circuitOpenedAt,
	}
}
