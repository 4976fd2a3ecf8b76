package a2a

import (
	"context"
	"time"
)

// Peer is the last capability advertisement received from another agent
type Peer struct {
	AgentID      string         `json:"agent_id"`
	Capabilities map[string]any `json:"capabilities"`
	SeenAt       time.Time      `json:"seen_at"`
}

// Role returns the advertised role, if any
func (p Peer) Role() Role {
	return Role(StringField(p.Capabilities, "role"))
}

// PeerStore keeps advertised peers for a bounded time
type PeerStore interface {
	// Put records or overwrites the advertisement of a peer and refreshes its TTL
	Put(ctx context.Context, peer Peer) error

	// Get returns a peer that has not expired
	Get(ctx context.Context, agentID string) (*Peer, error)

	// List returns unexpired peers, filtered by role when role is not empty
	List(ctx context.Context, role Role) ([]Peer, error)

	// Count returns the number of unexpired peers
	Count(ctx context.Context) (int, error)

	// Evict drops expired peers and returns how many were removed
	Evict(ctx context.Context) (int, error)
}
