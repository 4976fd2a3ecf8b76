package transport

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finmesh/internal/domain/a2a"
	"finmesh/pkg/errors"
)

func TestKafkaTransport_GroupPerAgent(t *testing.T) {
	tests := []struct {
		name    string
		groupID string
		want    string
	}{
		{name: "default group", groupID: "", want: "finmesh.risk_agent_001"},
		{name: "custom group", groupID: "desk", want: "desk.risk_agent_001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewKafkaTransport("risk_agent_001", []string{"127.0.0.1:1"}, tt.groupID)
			defer tr.Close()
			assert.Equal(t, tt.want, tr.groupID)
		})
	}
}

func TestKafkaTransport_OfflineBehaviour(t *testing.T) {
	tr := NewKafkaTransport("risk_agent_001", []string{"127.0.0.1:1"}, "")
	ctx := context.Background()

	assert.False(t, tr.Connect(ctx, ""))

	require.NoError(t, tr.StartListener(ctx, 0, (&collector{}).handle))
	assert.ErrorIs(t, tr.StartListener(ctx, 0, (&collector{}).handle), errors.ErrListenerRunning)

	_ = tr.Close()
	assert.ErrorIs(t, tr.StartListener(ctx, 0, nil), errors.ErrNotConnected)
}

// Needs a broker with topic auto-creation, e.g. KAFKA_TEST_BROKERS=localhost:9092
func TestKafkaTransport_RoundTrip(t *testing.T) {
	raw := os.Getenv("KAFKA_TEST_BROKERS")
	if raw == "" {
		t.Skip("KAFKA_TEST_BROKERS not set")
	}
	brokers := strings.Split(raw, ",")
	suffix := time.Now().Format("150405.000000")

	receiverID := "risk_" + suffix
	receiver := NewKafkaTransport(receiverID, brokers, "finmesh_test")
	defer receiver.Close()
	got := &collector{}
	require.NoError(t, receiver.StartListener(context.Background(), 0, got.handle))

	sender := NewKafkaTransport("investment_"+suffix, brokers, "finmesh_test")
	defer sender.Close()
	require.True(t, sender.Connect(context.Background(), ""))

	// the receiver group starts at the latest offset, so keep publishing until it has joined
	require.Eventually(t, func() bool {
		sender.Send(context.Background(), message(sender.agentID, receiverID, map[string]any{"ticker": "AMZN"}))
		return len(got.all()) > 0
	}, 60*time.Second, time.Second)

	first := got.all()[0]
	assert.Equal(t, sender.agentID, first.SenderID)
	assert.Equal(t, "AMZN", a2a.StringField(first.Payload, "ticker"))
}
