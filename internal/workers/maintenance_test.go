package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finmesh/internal/adapters/transport"
	"finmesh/internal/domain/a2a"
	"finmesh/internal/services/agent"
	"finmesh/pkg/errors"
)

type staticSource []*agent.Adapter

func (s staticSource) Adapters() []*agent.Adapter { return s }

func TestCleanupWorker_SweepsStaleRequests(t *testing.T) {
	hub := transport.NewLocalHub()
	silent := hub.Transport("silent")
	defer silent.Close()

	client := agent.NewAdapter("client", a2a.RoleMarketResearcher, hub.Transport("client"), agent.Config{
		RequestTimeout: time.Second,
		CleanupMaxAge:  10 * time.Millisecond,
	}, nil)
	defer client.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := client.RequestStockAnalysis(context.Background(), "silent", "AAPL", "", "", nil)
		assert.ErrorIs(t, err, errors.ErrRequestTimeout)
	}()

	require.Eventually(t, func() bool { return client.PendingCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	w := NewCleanupWorker(staticSource{client}, time.Minute)
	assert.Equal(t, "a2a_cleanup", w.Name())
	require.NoError(t, w.Run(context.Background()))
	assert.Zero(t, client.PendingCount())

	wg.Wait()
}

func TestCleanupWorker_StopsOnCancelledContext(t *testing.T) {
	hub := transport.NewLocalHub()
	a := agent.NewAdapter("a", a2a.RoleRiskAssessor, hub.Transport("a"), agent.DefaultConfig(), nil)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewCleanupWorker(staticSource{a}, time.Minute).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHeartbeatWorker(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		peers     []string
		listeners []string
		wantErr   bool
		wantBeats int
	}{
		{name: "no peers", wantBeats: 0},
		{name: "reachable peers", peers: []string{"beta", "gamma"}, listeners: []string{"beta", "gamma"}, wantBeats: 2},
		{name: "some unreachable", peers: []string{"beta", "ghost"}, listeners: []string{"beta"}, wantBeats: 1},
		{name: "all unreachable", peers: []string{"ghost"}, wantErr: true},
		{name: "self is skipped", peers: []string{"alpha"}, wantBeats: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := transport.NewLocalHub()
			alpha := agent.NewAdapter("alpha", a2a.RoleInvestmentAnalyst, hub.Transport("alpha"), agent.DefaultConfig(), nil)
			defer alpha.Close()

			inboxes := make(map[string]*transport.LocalTransport)
			for _, id := range tt.listeners {
				tr := hub.Transport(id)
				defer tr.Close()
				inboxes[id] = tr
			}
			for _, id := range tt.peers {
				require.NoError(t, alpha.Peers().Put(ctx, a2a.Peer{AgentID: id, SeenAt: time.Now()}))
			}

			w := NewHeartbeatWorker(staticSource{alpha}, time.Minute, true)
			err := w.Run(ctx)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrSendFailed)
				return
			}
			require.NoError(t, err)

			beats := 0
			for _, tr := range inboxes {
				short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
				if env := tr.Receive(short); env != nil {
					assert.Equal(t, a2a.KindHeartbeat, env.Kind)
					assert.Equal(t, "alpha", env.SenderID)
					beats++
				}
				cancel()
			}
			assert.Equal(t, tt.wantBeats, beats)
		})
	}
}
