package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finmesh/internal/domain/a2a"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

// collector records every envelope handed to its handler
type collector struct {
	mu   sync.Mutex
	envs []*a2a.Envelope
}

func (c *collector) handle(_ context.Context, env *a2a.Envelope) error {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
	return nil
}

func (c *collector) all() []*a2a.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*a2a.Envelope(nil), c.envs...)
}

func (c *collector) waitFor(t *testing.T, n int) []*a2a.Envelope {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.all()) >= n }, 3*time.Second, 10*time.Millisecond)
	return c.all()
}

func message(sender, receiver string, payload map[string]any) *a2a.Envelope {
	p := a2a.NewProtocol(sender, a2a.RoleInvestmentAnalyst)
	return p.CreateMessage(receiver, a2a.KindRequest, payload, a2a.PriorityNormal, "")
}

func TestNew(t *testing.T) {
	hub := NewLocalHub()

	tests := []struct {
		name    string
		kind    string
		opts    Options
		want    any
		wantErr error
	}{
		{name: "websocket", kind: KindWebSocket, want: &WebSocketTransport{}},
		{name: "http", kind: KindHTTP, opts: Options{HTTPBaseURL: "http://localhost:8080"}, want: &HTTPTransport{}},
		{name: "local", kind: KindLocal, opts: Options{Hub: hub}, want: &LocalTransport{}},
		{name: "local without hub", kind: KindLocal, wantErr: errors.ErrInvalidInput},
		{name: "kafka", kind: KindKafka, opts: Options{KafkaBrokers: []string{"localhost:9092"}}, want: &KafkaTransport{}},
		{name: "kafka without brokers", kind: KindKafka, wantErr: errors.ErrInvalidInput},
		{name: "nats", kind: KindNATS, opts: Options{NATSURL: "nats://127.0.0.1:4222"}, want: &NATSTransport{}},
		{name: "unknown", kind: "smoke_signals", wantErr: errors.ErrUnknownTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.kind, "agent_x", tt.opts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, tr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, tr)
			assert.NoError(t, tr.Close())
		})
	}
}

func TestAddressedToMe(t *testing.T) {
	assert.True(t, addressedToMe("a", &a2a.Envelope{ReceiverID: "a"}))
	assert.True(t, addressedToMe("a", &a2a.Envelope{ReceiverID: a2a.RegistryID}))
	assert.False(t, addressedToMe("a", &a2a.Envelope{ReceiverID: "b"}))
}

func TestDispatchRecoversPanics(t *testing.T) {
	env := message("a", "b", nil)
	assert.NotPanics(t, func() {
		dispatch(context.Background(), KindLocal, logger.Nop(), func(context.Context, *a2a.Envelope) error {
			panic("boom")
		}, env)
	})
	assert.NotPanics(t, func() {
		dispatch(context.Background(), KindLocal, logger.Nop(), func(context.Context, *a2a.Envelope) error {
			return errors.New("handler failed")
		}, env)
	})
}
