package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"finmesh/internal/domain/a2a"
	"finmesh/internal/metrics"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
	"finmesh/pkg/reconnect"
)

const (
	directionInbound  = "inbound"
	directionOutbound = "outbound"
	directionSelf     = "self"

	// selfTokenHeader marks the transport's own dial so it does not occupy the peer slot
	selfTokenHeader = "X-A2A-Self-Token"
)

// WebSocketConfig tunes the stream transport
type WebSocketConfig struct {
	ConnectRetries   int
	SelfConnect      bool
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	InboxSize        int
}

// WebSocketTransport keeps persistent bidirectional connections.
// The listener serves one inbound peer at a time; any number of outbound
// connections may be dialed with Connect.
type WebSocketTransport struct {
	agentID  string
	cfg      WebSocketConfig
	log      *logger.Logger
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader

	mu          sync.Mutex
	conns       []*wsConn          // most recent last
	routes      map[string]*wsConn // peer agent id -> connection it last spoke on
	inbound     *wsConn
	inboundBusy bool
	handler     OnMessage
	server      *http.Server
	listener    net.Listener
	backoff     map[string]*reconnect.Manager
	closed      bool
	selfToken   string

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan *a2a.Envelope
	wg     sync.WaitGroup
}

type wsConn struct {
	conn      *websocket.Conn
	direction string
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewWebSocketTransport creates a stream transport for agentID
func NewWebSocketTransport(agentID string, cfg WebSocketConfig) *WebSocketTransport {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.InboxSize == 0 {
		cfg.InboxSize = 256
	}
	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketTransport{
		agentID: agentID,
		cfg:     cfg,
		log:     logger.Get().With("component", "ws_transport", "agent_id", agentID),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers are not authenticated
			CheckOrigin: func(*http.Request) bool { return true },
		},
		routes:    make(map[string]*wsConn),
		backoff:   make(map[string]*reconnect.Manager),
		selfToken: uuid.NewString(),
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan *a2a.Envelope, cfg.InboxSize),
	}
}

// StartListener serves websocket upgrades on every path of port.
// Port 0 picks a free port, see ListenAddr.
func (t *WebSocketTransport) StartListener(ctx context.Context, port int, onMessage OnMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.Wrap(errors.ErrNotConnected, "transport closed")
	}
	if t.server != nil {
		t.mu.Unlock()
		return errors.Wrapf(errors.ErrListenerRunning, "agent %s", t.agentID)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		t.mu.Unlock()
		return errors.Wrapf(err, "listen on port %d", port)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleUpgrade)
	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	t.listener = ln
	t.handler = onMessage
	server := t.server
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.log.Errorw("Listener stopped", "error", err)
		}
	}()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		select {
		case <-ctx.Done():
			t.stopServer()
		case <-t.ctx.Done():
		}
	}()

	t.log.Infow("A2A websocket listener started", "addr", ln.Addr().String())

	if t.cfg.SelfConnect {
		self := fmt.Sprintf("ws://127.0.0.1:%d/", ln.Addr().(*net.TCPAddr).Port)
		wc := t.dial(ctx, self, http.Header{selfTokenHeader: []string{t.selfToken}})
		if wc == nil {
			return errors.Wrapf(errors.ErrNotConnected, "self connect to %s", self)
		}
		// later outbound connections must not capture self-addressed traffic
		t.learnRoute(t.agentID, wc)
	}
	return nil
}

// ListenAddr returns the bound listener address, or "" before StartListener
func (t *WebSocketTransport) ListenAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *WebSocketTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(selfTokenHeader) == t.selfToken {
		t.serveSelf(w, r)
		return
	}

	t.mu.Lock()
	if t.inboundBusy || t.closed {
		t.mu.Unlock()
		t.log.Warnw("Refusing second inbound peer", "remote", r.RemoteAddr)
		http.Error(w, "peer already connected", http.StatusConflict)
		return
	}
	t.inboundBusy = true
	t.mu.Unlock()

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warnw("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		t.mu.Lock()
		t.inboundBusy = false
		t.mu.Unlock()
		return
	}

	wc := &wsConn{conn: conn, direction: directionInbound}
	t.mu.Lock()
	t.inbound = wc
	t.mu.Unlock()
	t.addConn(wc)

	t.log.Infow("A2A peer connected", "remote", r.RemoteAddr)
	t.readLoop(wc)
	t.log.Infow("A2A peer disconnected", "remote", r.RemoteAddr)
}

// serveSelf accepts the loopback connection dialed by StartListener.
// It sits beside the single peer slot instead of taking it.
func (t *WebSocketTransport) serveSelf(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warnw("Self connection upgrade failed", "error", err)
		return
	}

	wc := &wsConn{conn: conn, direction: directionSelf}
	if !t.addConn(wc) {
		wc.close()
		return
	}
	t.readLoop(wc)
}

// Connect dials endpoint with exponential backoff
func (t *WebSocketTransport) Connect(ctx context.Context, endpoint string) bool {
	return t.dial(ctx, endpoint, nil) != nil
}

func (t *WebSocketTransport) dial(ctx context.Context, endpoint string, header http.Header) *wsConn {
	var conn *websocket.Conn
	err := t.backoffFor(endpoint).Connect(ctx, func(ctx context.Context) error {
		c, _, err := t.dialer.DialContext(ctx, endpoint, header)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		t.log.Warnw("Failed to connect", "endpoint", endpoint, "error", err)
		return nil
	}

	wc := &wsConn{conn: conn, direction: directionOutbound}
	if !t.addConn(wc) {
		wc.close()
		return nil
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop(wc)
	}()

	t.log.Infow("Connected to A2A endpoint", "endpoint", endpoint)
	return wc
}

func (t *WebSocketTransport) backoffFor(endpoint string) *reconnect.Manager {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.backoff[endpoint]
	if !ok {
		m = reconnect.NewManager(reconnect.Config{MaxAttempts: t.cfg.ConnectRetries}, t.log)
		t.backoff[endpoint] = m
	}
	return m
}

// Send writes a frame on the connection the receiver last spoke on,
// falling back to the most recent connection.
func (t *WebSocketTransport) Send(ctx context.Context, env *a2a.Envelope) bool {
	wc := t.pick(env.ReceiverID)
	if wc == nil {
		t.log.Warnw("No open connection", "receiver_id", env.ReceiverID, "kind", env.Kind)
		recordSend(KindWebSocket, env, false)
		return false
	}

	frame, err := a2a.EncodeFrame(env)
	if err != nil {
		t.log.Warnw("Failed to encode envelope", "message_id", env.ID, "error", err)
		recordSend(KindWebSocket, env, false)
		return false
	}

	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	wc.writeMu.Lock()
	_ = wc.conn.SetWriteDeadline(deadline)
	err = wc.conn.WriteMessage(websocket.TextMessage, frame)
	wc.writeMu.Unlock()

	if err != nil {
		t.log.Warnw("Failed to send message", "receiver_id", env.ReceiverID, "error", err)
		recordSend(KindWebSocket, env, false)
		t.removeConn(wc)
		return false
	}

	t.log.Debugw("Message sent", "receiver_id", env.ReceiverID, "kind", env.Kind, "message_id", env.ID)
	recordSend(KindWebSocket, env, true)
	return true
}

// Receive returns the next envelope read while no listener handler was set
func (t *WebSocketTransport) Receive(ctx context.Context) *a2a.Envelope {
	select {
	case env := <-t.inbox:
		return env
	case <-ctx.Done():
		return nil
	case <-t.ctx.Done():
		return nil
	}
}

func (t *WebSocketTransport) readLoop(wc *wsConn) {
	defer t.removeConn(wc)

	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && t.ctx.Err() == nil {
				t.log.Warnw("Connection read failed", "direction", wc.direction, "error", err)
			}
			return
		}

		env, prefix, err := a2a.DecodeFrame(data)
		if err != nil {
			metrics.RecordDrop(KindWebSocket, "malformed")
			t.log.Warnw("Dropping malformed frame", "error", err)
			continue
		}
		if prefix != env.SenderID {
			t.log.Debugw("Frame prefix differs from sender_id", "prefix", prefix, "sender_id", env.SenderID)
		}
		if !addressedToMe(t.agentID, env) {
			metrics.RecordDrop(KindWebSocket, "misaddressed")
			t.log.Warnw("Message not for this agent", "receiver_id", env.ReceiverID, "message_id", env.ID)
			continue
		}

		t.learnRoute(env.SenderID, wc)

		if handler := t.currentHandler(); handler != nil {
			dispatch(t.ctx, KindWebSocket, t.log, handler, env)
			continue
		}

		select {
		case t.inbox <- env:
			metrics.RecordReceive(KindWebSocket, string(env.Kind))
		default:
			metrics.RecordDrop(KindWebSocket, "queue_full")
			t.log.Warnw("Inbox full, dropping message", "message_id", env.ID)
		}
	}
}

func (t *WebSocketTransport) currentHandler() OnMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

func (t *WebSocketTransport) learnRoute(peerID string, wc *wsConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[peerID] = wc
}

func (t *WebSocketTransport) pick(receiverID string) *wsConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if wc, ok := t.routes[receiverID]; ok {
		return wc
	}
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func (t *WebSocketTransport) addConn(wc *wsConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns = append(t.conns, wc)
	metrics.Connections.WithLabelValues(t.agentID, wc.direction).Inc()
	return true
}

func (t *WebSocketTransport) removeConn(wc *wsConn) {
	t.mu.Lock()
	found := false
	for i, c := range t.conns {
		if c == wc {
			t.conns = append(t.conns[:i], t.conns[i+1:]...)
			found = true
			break
		}
	}
	for id, c := range t.routes {
		if c == wc {
			delete(t.routes, id)
		}
	}
	if t.inbound == wc {
		t.inbound = nil
		t.inboundBusy = false
	}
	t.mu.Unlock()

	if found {
		metrics.Connections.WithLabelValues(t.agentID, wc.direction).Dec()
	}
	wc.close()
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

func (t *WebSocketTransport) stopServer() {
	t.mu.Lock()
	server := t.server
	t.mu.Unlock()
	if server == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		t.log.Warnw("Listener shutdown failed", "error", err)
	}
}

// Close stops the listener and closes every connection
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := append([]*wsConn(nil), t.conns...)
	t.mu.Unlock()

	t.cancel()
	t.stopServer()
	for _, wc := range conns {
		t.removeConn(wc)
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.log.Debug("Websocket transport closed")
		return nil
	case <-time.After(5 * time.Second):
		return errors.Wrap(errors.ErrTimeout, "websocket transport shutdown")
	}
}
