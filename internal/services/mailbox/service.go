package mailbox

import (
	"context"
	"sync"

	"finmesh/internal/domain/a2a"
	"finmesh/internal/metrics"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

const defaultCapacity = 1000

// Memory is an in-process a2a.Mailbox. Each agent queue holds at most
// capacity envelopes; pushes beyond that are rejected.
type Memory struct {
	capacity int
	log      *logger.Logger

	mu     sync.Mutex
	queues map[string][]*a2a.Envelope
}

// NewMemory creates a mailbox; capacity <= 0 selects the default of 1000
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Memory{
		capacity: capacity,
		log:      logger.Get().With("component", "mailbox"),
		queues:   make(map[string][]*a2a.Envelope),
	}
}

// Push appends env to the receiver queue
func (m *Memory) Push(_ context.Context, receiverID string, env *a2a.Envelope) error {
	if receiverID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "receiver id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[receiverID]
	if len(q) >= m.capacity {
		metrics.RecordDrop("http", "mailbox_full")
		m.log.Warnw("Mailbox full", "receiver_id", receiverID, "capacity", m.capacity)
		return errors.Wrapf(errors.ErrUnavailable, "mailbox for %s is full", receiverID)
	}
	m.queues[receiverID] = append(q, env)
	return nil
}

// Pop removes and returns the oldest envelope, or nil
func (m *Memory) Pop(_ context.Context, agentID string) (*a2a.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[agentID]
	if len(q) == 0 {
		return nil, nil
	}
	env := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(m.queues, agentID)
	} else {
		m.queues[agentID] = q[1:]
	}
	return env, nil
}

// Len returns the queue length for agentID
func (m *Memory) Len(_ context.Context, agentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[agentID]), nil
}
