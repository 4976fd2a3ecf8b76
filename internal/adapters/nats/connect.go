package nats

import (
	"time"

	natsgo "github.com/nats-io/nats.go"

	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

// SubjectAgentPrefix prefixes every per-agent inbox subject
const SubjectAgentPrefix = "a2a.agent."

// AgentSubject returns the inbox subject of an agent
func AgentSubject(agentID string) string {
	return SubjectAgentPrefix + agentID
}

// Connect opens a NATS connection named after the agent, with reconnect handlers that log
func Connect(url, name string) (*natsgo.Conn, error) {
	log := logger.Get().With("component", "nats", "name", name)
	log.Infow("Connecting to NATS", "url", url)

	nc, err := natsgo.Connect(url,
		natsgo.Name(name),
		natsgo.Timeout(5*time.Second),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.MaxReconnects(60),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				log.Warnw("NATS disconnected", "error", err)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			log.Infow("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		natsgo.ClosedHandler(func(*natsgo.Conn) {
			log.Debug("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUnavailable, "nats connect %s: %v", url, err)
	}

	log.Infow("Connected to NATS", "url", nc.ConnectedUrl())
	return nc, nil
}
