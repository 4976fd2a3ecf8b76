package a2a

import "context"

// Mailbox queues serialized envelopes for agents that poll over HTTP
type Mailbox interface {
	// Push appends an envelope to the receiver's queue
	Push(ctx context.Context, receiverID string, env *Envelope) error

	// Pop removes and returns the oldest envelope for agentID, or nil when the queue is empty
	Pop(ctx context.Context, agentID string) (*Envelope, error)

	// Len returns the queue length for agentID
	Len(ctx context.Context, agentID string) (int, error)
}
