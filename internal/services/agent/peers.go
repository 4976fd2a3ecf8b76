package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"finmesh/internal/domain/a2a"
	"finmesh/pkg/errors"
)

// MemoryPeerStore keeps peer advertisements in memory with a fixed TTL
type MemoryPeerStore struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	peers map[string]a2a.Peer
}

// NewMemoryPeerStore creates a store. ttl <= 0 disables expiry.
func NewMemoryPeerStore(ttl time.Duration) *MemoryPeerStore {
	return &MemoryPeerStore{
		ttl:   ttl,
		now:   time.Now,
		peers: make(map[string]a2a.Peer),
	}
}

func (s *MemoryPeerStore) expired(p a2a.Peer, now time.Time) bool {
	return s.ttl > 0 && now.Sub(p.SeenAt) > s.ttl
}

// Put records peer, stamping SeenAt when it is zero
func (s *MemoryPeerStore) Put(_ context.Context, peer a2a.Peer) error {
	if peer.AgentID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "peer agent id is empty")
	}
	if peer.SeenAt.IsZero() {
		peer.SeenAt = s.now()
	}
	s.mu.Lock()
	s.peers[peer.AgentID] = peer
	s.mu.Unlock()
	return nil
}

// Get returns an unexpired peer or ErrNotFound
func (s *MemoryPeerStore) Get(_ context.Context, agentID string) (*a2a.Peer, error) {
	s.mu.RLock()
	p, ok := s.peers[agentID]
	s.mu.RUnlock()
	if !ok || s.expired(p, s.now()) {
		return nil, errors.Wrapf(errors.ErrNotFound, "peer %s", agentID)
	}
	return &p, nil
}

// List returns unexpired peers sorted by agent id
func (s *MemoryPeerStore) List(_ context.Context, role a2a.Role) ([]a2a.Peer, error) {
	now := s.now()
	s.mu.RLock()
	out := make([]a2a.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		if s.expired(p, now) {
			continue
		}
		if role != "" && p.Role() != role {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// Count returns the number of unexpired peers
func (s *MemoryPeerStore) Count(ctx context.Context) (int, error) {
	peers, err := s.List(ctx, "")
	return len(peers), err
}

// Evict drops expired peers
func (s *MemoryPeerStore) Evict(_ context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.peers {
		if s.expired(p, now) {
			delete(s.peers, id)
			n++
		}
	}
	return n, nil
}
