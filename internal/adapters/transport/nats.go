package transport

import (
	"context"
	"sync"

	natsgo "github.com/nats-io/nats.go"

	natsadapter "finmesh/internal/adapters/nats"
	"finmesh/internal/domain/a2a"
	"finmesh/internal/metrics"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

const subjectRegistry = "a2a.registry"

// NATSTransport publishes to per-agent subjects on a NATS server
type NATSTransport struct {
	agentID string
	url     string
	log     *logger.Logger

	mu       sync.Mutex
	nc       *natsgo.Conn
	subs    []*natsgo.Subscription
	syncSub *natsgo.Subscription
	closed  bool
	// handle is the listener callback; it follows the transport across reconnects
	handle natsgo.MsgHandler
}

// NewNATSTransport creates a transport that connects to url on first use
func NewNATSTransport(agentID, url string) *NATSTransport {
	return &NATSTransport{
		agentID: agentID,
		url:     url,
		log:     logger.Get().With("component", "nats_transport", "agent_id", agentID),
	}
}

func subjectFor(receiverID string) string {
	if receiverID == a2a.RegistryID {
		return subjectRegistry
	}
	return natsadapter.AgentSubject(receiverID)
}

func (t *NATSTransport) conn() *natsgo.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nc
}

// Connect opens the NATS connection to endpoint, or to the configured URL when empty
func (t *NATSTransport) Connect(_ context.Context, endpoint string) bool {
	if endpoint == "" {
		endpoint = t.url
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if t.nc != nil && t.nc.IsConnected() && t.nc.ConnectedUrl() == endpoint {
		return true
	}

	nc, err := natsadapter.Connect(endpoint, t.agentID)
	if err != nil {
		t.log.Warnw("Failed to connect", "endpoint", endpoint, "error", err)
		return false
	}

	var subs []*natsgo.Subscription
	if t.handle != nil {
		subs, err = t.subscribe(nc)
		if err != nil {
			nc.Close()
			t.log.Warnw("Failed to move listener", "endpoint", endpoint, "error", err)
			return false
		}
	}

	if t.nc != nil {
		t.nc.Close()
	}
	t.nc = nc
	t.subs = subs
	t.syncSub = nil
	if t.handle != nil {
		t.log.Infow("NATS listener moved", "endpoint", endpoint)
	}
	return true
}

// subscribe binds the listener callback to the agent and registry subjects on nc
func (t *NATSTransport) subscribe(nc *natsgo.Conn) ([]*natsgo.Subscription, error) {
	var subs []*natsgo.Subscription
	for _, subject := range []string{natsadapter.AgentSubject(t.agentID), subjectRegistry} {
		sub, err := nc.Subscribe(subject, t.handle)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, errors.Wrapf(err, "subscribe %s", subject)
		}
		subs = append(subs, sub)
	}
	if err := nc.Flush(); err != nil {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		return nil, errors.Wrap(err, "flush subscriptions")
	}
	return subs, nil
}

// Send publishes env on the receiver subject
func (t *NATSTransport) Send(_ context.Context, env *a2a.Envelope) bool {
	nc := t.conn()
	if nc == nil {
		t.log.Warnw("NATS connection not available", "receiver_id", env.ReceiverID)
		recordSend(KindNATS, env, false)
		return false
	}

	data, err := a2a.Encode(env)
	if err != nil {
		t.log.Warnw("Failed to encode envelope", "message_id", env.ID, "error", err)
		recordSend(KindNATS, env, false)
		return false
	}

	if err := nc.Publish(subjectFor(env.ReceiverID), data); err != nil {
		t.log.Warnw("Failed to publish envelope", "receiver_id", env.ReceiverID, "error", err)
		recordSend(KindNATS, env, false)
		return false
	}
	recordSend(KindNATS, env, true)
	return true
}

// Receive reads the agent subject through a synchronous subscription
func (t *NATSTransport) Receive(ctx context.Context) *a2a.Envelope {
	t.mu.Lock()
	if t.nc == nil {
		t.mu.Unlock()
		return nil
	}
	if t.syncSub == nil {
		sub, err := t.nc.SubscribeSync(natsadapter.AgentSubject(t.agentID))
		if err != nil {
			t.mu.Unlock()
			t.log.Warnw("Failed to subscribe", "error", err)
			return nil
		}
		t.syncSub = sub
	}
	sub := t.syncSub
	t.mu.Unlock()

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			return nil
		}
		env, err := a2a.Decode(msg.Data)
		if err != nil {
			metrics.RecordDrop(KindNATS, "malformed")
			continue
		}
		metrics.RecordReceive(KindNATS, string(env.Kind))
		return env
	}
}

// StartListener subscribes to the agent and registry subjects; port is ignored.
// NATS delivers each subscription's messages in order on its own goroutine.
func (t *NATSTransport) StartListener(ctx context.Context, _ int, onMessage OnMessage) error {
	if t.conn() == nil && !t.Connect(ctx, "") {
		return errors.Wrapf(errors.ErrNotConnected, "nats %s", t.url)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle != nil {
		return errors.Wrapf(errors.ErrListenerRunning, "agent %s", t.agentID)
	}

	t.handle = func(msg *natsgo.Msg) {
		env, err := a2a.Decode(msg.Data)
		if err != nil {
			metrics.RecordDrop(KindNATS, "malformed")
			t.log.Warnw("Dropping malformed message", "subject", msg.Subject, "error", err)
			return
		}
		if !addressedToMe(t.agentID, env) {
			metrics.RecordDrop(KindNATS, "misaddressed")
			return
		}
		if env.Kind == a2a.KindRegistration && env.SenderID == t.agentID {
			return
		}
		dispatch(ctx, KindNATS, t.log, onMessage, env)
	}

	subs, err := t.subscribe(t.nc)
	if err != nil {
		t.handle = nil
		return err
	}
	t.subs = subs

	t.log.Infow("NATS listener started", "subject", natsadapter.AgentSubject(t.agentID))
	return nil
}

// Close drains subscriptions and closes the connection
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.nc == nil {
		return nil
	}
	for _, s := range t.subs {
		_ = s.Unsubscribe()
	}
	t.nc.Close()
	return nil
}
