package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"finmesh/internal/domain/a2a"
	"finmesh/pkg/errors"
)

// PeerStoreRepository implements a2a.PeerStore with one Redis key per peer.
// Expiry is delegated to the key TTL, so Evict has nothing to do.
type PeerStoreRepository struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

// NewPeerStoreRepository creates a peer table owned by agent owner
func NewPeerStoreRepository(client *redis.Client, owner string, ttl time.Duration) *PeerStoreRepository {
	return &PeerStoreRepository{
		client: client,
		owner:  owner,
		ttl:    ttl,
	}
}

// Put stores the peer and refreshes its TTL
func (r *PeerStoreRepository) Put(ctx context.Context, peer a2a.Peer) error {
	if peer.AgentID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "peer agent id is empty")
	}
	if peer.SeenAt.IsZero() {
		peer.SeenAt = time.Now().UTC()
	}

	data, err := json.Marshal(peer)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal peer: agent_id=%s", peer.AgentID)
	}

	if err := r.client.Set(ctx, r.getKey(peer.AgentID), data, r.ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to save peer to redis: agent_id=%s", peer.AgentID)
	}
	return nil
}

// Get returns a peer or ErrNotFound once its key expired
func (r *PeerStoreRepository) Get(ctx context.Context, agentID string) (*a2a.Peer, error) {
	data, err := r.client.Get(ctx, r.getKey(agentID)).Bytes()
	if err == redis.Nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "peer %s", agentID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get peer from redis: agent_id=%s", agentID)
	}

	var peer a2a.Peer
	if err := json.Unmarshal(data, &peer); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal peer: agent_id=%s", agentID)
	}
	return &peer, nil
}

// List scans the owner's peers, filtered by role when role is not empty
func (r *PeerStoreRepository) List(ctx context.Context, role a2a.Role) ([]a2a.Peer, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []a2a.Peer{}, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load peers from redis")
	}

	peers := make([]a2a.Peer, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var peer a2a.Peer
		if err := json.Unmarshal([]byte(raw), &peer); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal peer: key=%s", keys[i])
		}
		if role != "" && peer.Role() != role {
			continue
		}
		peers = append(peers, peer)
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].AgentID < peers[j].AgentID })
	return peers, nil
}

// Count returns the number of live peer keys
func (r *PeerStoreRepository) Count(ctx context.Context) (int, error) {
	keys, err := r.keys(ctx)
	return len(keys), err
}

// Evict is a no-op; Redis expires keys on its own
func (r *PeerStoreRepository) Evict(context.Context) (int, error) {
	return 0, nil
}

func (r *PeerStoreRepository) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.getKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan peer keys")
	}
	return keys, nil
}

func (r *PeerStoreRepository) getKey(agentID string) string {
	return fmt.Sprintf("a2a:peers:%s:%s", r.owner, agentID)
}
