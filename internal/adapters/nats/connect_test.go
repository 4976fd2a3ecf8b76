package nats

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finmesh/pkg/errors"
)

func startServer(t *testing.T) *natsserver.Server {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   natsserver.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	require.True(t, ns.ReadyForConnections(10*time.Second), "nats server failed to start")

	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestConnect(t *testing.T) {
	ns := startServer(t)

	nc, err := Connect(ns.ClientURL(), "investment_agent_001")
	require.NoError(t, err)
	defer nc.Close()

	assert.True(t, nc.IsConnected())
}

func TestConnect_InvalidURL(t *testing.T) {
	nc, err := Connect("invalid://not-a-nats-server", "test-client")

	require.Error(t, err)
	assert.Nil(t, nc)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestAgentSubject(t *testing.T) {
	assert.Equal(t, "a2a.agent.risk_agent_001", AgentSubject("risk_agent_001"))
}
