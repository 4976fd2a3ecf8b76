package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"finmesh/internal/domain/a2a"
	"finmesh/pkg/errors"
)

// MailboxRepository implements a2a.Mailbox with one Redis list per agent
type MailboxRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMailboxRepository creates a mailbox. Idle queues expire after ttl; 0 keeps them.
func NewMailboxRepository(client *redis.Client, ttl time.Duration) *MailboxRepository {
	return &MailboxRepository{
		client: client,
		ttl:    ttl,
	}
}

// Push appends env to the receiver queue
func (r *MailboxRepository) Push(ctx context.Context, receiverID string, env *a2a.Envelope) error {
	data, err := a2a.Encode(env)
	if err != nil {
		return err
	}

	key := r.getKey(receiverID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to push message to redis: receiver_id=%s", receiverID)
	}
	return nil
}

// Pop removes the oldest envelope for agentID; nil when the queue is empty
func (r *MailboxRepository) Pop(ctx context.Context, agentID string) (*a2a.Envelope, error) {
	data, err := r.client.LPop(ctx, r.getKey(agentID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pop message from redis: agent_id=%s", agentID)
	}
	return a2a.Decode(data)
}

// Len returns the queue length
func (r *MailboxRepository) Len(ctx context.Context, agentID string) (int, error) {
	n, err := r.client.LLen(ctx, r.getKey(agentID)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read mailbox length: agent_id=%s", agentID)
	}
	return int(n), nil
}

func (r *MailboxRepository) getKey(agentID string) string {
	return fmt.Sprintf("a2a:mailbox:%s", agentID)
}
