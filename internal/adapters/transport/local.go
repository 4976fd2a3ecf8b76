package transport

import (
	"context"
	"strings"
	"sync"

	"finmesh/internal/domain/a2a"
	"finmesh/internal/metrics"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

const defaultLocalBuffer = 256

// LocalHub connects transports living in one process.
// Envelopes still go through the codec so behavior matches the network variants.
type LocalHub struct {
	mu         sync.RWMutex
	endpoints  map[string]*localEndpoint
	bufferSize int
}

type localEndpoint struct {
	queue chan []byte
}

// NewLocalHub creates an empty hub
func NewLocalHub() *LocalHub {
	return &LocalHub{
		endpoints:  make(map[string]*localEndpoint),
		bufferSize: defaultLocalBuffer,
	}
}

// Transport registers agentID on the hub and returns its transport
func (h *LocalHub) Transport(agentID string) *LocalTransport {
	h.mu.Lock()
	ep, ok := h.endpoints[agentID]
	if !ok {
		ep = &localEndpoint{queue: make(chan []byte, h.bufferSize)}
		h.endpoints[agentID] = ep
	}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	return &LocalTransport{
		agentID: agentID,
		hub:     h,
		ep:      ep,
		log:     logger.Get().With("component", "local_transport", "agent_id", agentID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (h *LocalHub) has(agentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.endpoints[agentID]
	return ok
}

// deliver queues data for receiver without blocking
func (h *LocalHub) deliver(receiver string, data []byte) bool {
	h.mu.RLock()
	ep, ok := h.endpoints[receiver]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case ep.queue <- data:
		return true
	default:
		metrics.RecordDrop(KindLocal, "queue_full")
		return false
	}
}

func (h *LocalHub) remove(agentID string, ep *localEndpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.endpoints[agentID] == ep {
		delete(h.endpoints, agentID)
	}
}

// LocalTransport is one agent's view of a LocalHub
type LocalTransport struct {
	agentID string
	hub     *LocalHub
	ep      *localEndpoint
	log     *logger.Logger

	mu        sync.Mutex
	connected []string
	listening bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Send queues env for its receiver. Receivers unknown to the hub, such as the
// registry, go to the most recently connected endpoint.
func (t *LocalTransport) Send(_ context.Context, env *a2a.Envelope) bool {
	data, err := a2a.Encode(env)
	if err != nil {
		t.log.Warnw("Failed to encode envelope", "message_id", env.ID, "error", err)
		recordSend(KindLocal, env, false)
		return false
	}

	target := env.ReceiverID
	if !t.hub.has(target) {
		target = t.lastConnected()
	}
	if target == "" || t.isClosed() {
		t.log.Warnw("No route to receiver", "receiver_id", env.ReceiverID, "kind", env.Kind)
		recordSend(KindLocal, env, false)
		return false
	}

	ok := t.hub.deliver(target, data)
	if !ok {
		t.log.Warnw("Delivery refused", "receiver_id", env.ReceiverID, "target", target)
	}
	recordSend(KindLocal, env, ok)
	return ok
}

// Receive takes the next envelope from the local queue
func (t *LocalTransport) Receive(ctx context.Context) *a2a.Envelope {
	for {
		select {
		case data := <-t.ep.queue:
			env, err := a2a.Decode(data)
			if err != nil {
				metrics.RecordDrop(KindLocal, "malformed")
				continue
			}
			metrics.RecordReceive(KindLocal, string(env.Kind))
			return env
		case <-ctx.Done():
			return nil
		case <-t.ctx.Done():
			return nil
		}
	}
}

// StartListener starts the ordered delivery goroutine; port is ignored
func (t *LocalTransport) StartListener(ctx context.Context, _ int, onMessage OnMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.Wrap(errors.ErrNotConnected, "transport closed")
	}
	if t.listening {
		t.mu.Unlock()
		return errors.Wrapf(errors.ErrListenerRunning, "agent %s", t.agentID)
	}
	t.listening = true
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.ctx.Done():
				return
			case data := <-t.ep.queue:
				env, err := a2a.Decode(data)
				if err != nil {
					metrics.RecordDrop(KindLocal, "malformed")
					t.log.Warnw("Dropping malformed message", "error", err)
					continue
				}
				if !addressedToMe(t.agentID, env) {
					metrics.RecordDrop(KindLocal, "misaddressed")
					t.log.Warnw("Message not for this agent", "receiver_id", env.ReceiverID)
					continue
				}
				dispatch(t.ctx, KindLocal, t.log, onMessage, env)
			}
		}
	}()

	t.log.Debug("Local listener started")
	return nil
}

// Connect accepts "local://<agent_id>" or a bare agent id registered on the hub
func (t *LocalTransport) Connect(_ context.Context, endpoint string) bool {
	id := strings.TrimSuffix(strings.TrimPrefix(endpoint, "local://"), "/")
	if !t.hub.has(id) {
		t.log.Warnw("Failed to connect, unknown endpoint", "endpoint", endpoint)
		return false
	}
	t.mu.Lock()
	t.connected = append(t.connected, id)
	t.mu.Unlock()
	return true
}

func (t *LocalTransport) lastConnected() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.connected) - 1; i >= 0; i-- {
		if t.hub.has(t.connected[i]) {
			return t.connected[i]
		}
	}
	return ""
}

func (t *LocalTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close stops the listener and unregisters the endpoint
func (t *LocalTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	t.hub.remove(t.agentID, t.ep)
	return nil
}
