package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finmesh/internal/domain/a2a"
	"finmesh/pkg/errors"
)

// testClient connects to REDIS_TEST_ADDR and skips when it is not set
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPeerStoreRepository(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	owner := "test-" + uuid.NewString()
	repo := NewPeerStoreRepository(client, owner, time.Minute)

	require.NoError(t, repo.Put(ctx, a2a.Peer{AgentID: "risk", Capabilities: map[string]any{"role": "risk_assessor"}}))
	require.NoError(t, repo.Put(ctx, a2a.Peer{AgentID: "pf", Capabilities: map[string]any{"role": "portfolio_manager"}}))

	peer, err := repo.Get(ctx, "risk")
	require.NoError(t, err)
	assert.Equal(t, a2a.RoleRiskAssessor, peer.Role())

	all, err := repo.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "pf", all[0].AgentID)

	onlyPF, err := repo.List(ctx, a2a.RolePortfolioManager)
	require.NoError(t, err)
	require.Len(t, onlyPF, 1)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestMailboxRepository(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	repo := NewMailboxRepository(client, time.Minute)
	agentID := "agent-" + uuid.NewString()
	p := a2a.NewProtocol("sender", a2a.RoleRiskAssessor)

	first := p.CreateHeartbeat(agentID)
	second := p.CreateHeartbeat(agentID)
	require.NoError(t, repo.Push(ctx, agentID, first))
	require.NoError(t, repo.Push(ctx, agentID, second))

	n, err := repo.Len(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.Pop(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = repo.Pop(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	got, err = repo.Pop(ctx, agentID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
