package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"finmesh/internal/adapters/ratelimit"
	"finmesh/internal/adapters/transport"
	"finmesh/internal/domain/a2a"
	"finmesh/internal/metrics"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

// HandlerFunc handles one inbound envelope of a given kind.
// A returned *errors.DomainError chooses the error code sent back to the requester.
type HandlerFunc func(ctx context.Context, env *a2a.Envelope) error

// Config holds the adapter timing knobs
type Config struct {
	RequestTimeout time.Duration
	CleanupMaxAge  time.Duration
	DiscoveryGrace time.Duration
	PeerTTL        time.Duration
	OutboundRPS    float64
	OutboundBurst  int
}

// DefaultConfig returns the standard timings: 30s wait, 5m sweep, 1s discovery grace
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		CleanupMaxAge:  5 * time.Minute,
		DiscoveryGrace: time.Second,
		PeerTTL:        10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.CleanupMaxAge <= 0 {
		c.CleanupMaxAge = d.CleanupMaxAge
	}
	if c.DiscoveryGrace < 0 {
		c.DiscoveryGrace = d.DiscoveryGrace
	}
	return c
}

// AdapterStatus is a read-only snapshot of one adapter
type AdapterStatus struct {
	AgentID          string `json:"agent_id"`
	Role             string `json:"role"`
	Capabilities     string `json:"capabilities,omitempty"` // registered descriptor role
	PendingRequests  int    `json:"pending_requests"`
	RegisteredAgents int    `json:"registered_agents"`
	Serving          bool   `json:"serving"`
}

// Adapter binds one agent identity to a transport. It dispatches inbound
// envelopes by kind and correlates outbound requests with their replies.
type Adapter struct {
	id        string
	role      a2a.Role
	transport transport.Transport
	protocol  *a2a.Protocol
	peers     a2a.PeerStore
	pending   *pendingTable
	limiter   *ratelimit.PeerLimiter
	cfg       Config
	log       *logger.Logger
	now       func() time.Time

	mu       sync.RWMutex
	handlers map[a2a.Kind]HandlerFunc
	serving  bool
	closed   bool

	pollCancel context.CancelFunc
	pollWG     sync.WaitGroup
}

// NewAdapter creates an adapter. A nil peer store becomes an in-memory store with cfg.PeerTTL.
func NewAdapter(agentID string, role a2a.Role, tr transport.Transport, cfg Config, peers a2a.PeerStore) *Adapter {
	cfg = cfg.withDefaults()
	if peers == nil {
		peers = NewMemoryPeerStore(cfg.PeerTTL)
	}

	a := &Adapter{
		id:        agentID,
		role:      role,
		transport: tr,
		protocol:  a2a.NewProtocol(agentID, role),
		peers:     peers,
		pending:   newPendingTable(),
		limiter:   ratelimit.NewPeerLimiter(agentID, cfg.OutboundRPS, cfg.OutboundBurst),
		cfg:       cfg,
		log:       logger.Get().With("component", "a2a_adapter", "agent_id", agentID),
		now:       time.Now,
		handlers:  make(map[a2a.Kind]HandlerFunc, len(a2a.Kinds)),
	}

	a.handlers[a2a.KindRequest] = a.handleRequest
	a.handlers[a2a.KindResponse] = a.handleResponse
	a.handlers[a2a.KindError] = a.handleError
	a.handlers[a2a.KindHeartbeat] = a.handleHeartbeat
	a.handlers[a2a.KindRegistration] = a.handleRegistration
	a.handlers[a2a.KindCapabilityQuery] = a.handleCapabilityQuery
	a.handlers[a2a.KindCapabilityResponse] = a.handleCapabilityResponse

	return a
}

func (a *Adapter) ID() string              { return a.id }
func (a *Adapter) Role() a2a.Role          { return a.role }
func (a *Adapter) Protocol() *a2a.Protocol { return a.protocol }
func (a *Adapter) Peers() a2a.PeerStore    { return a.peers }
func (a *Adapter) PendingCount() int       { return a.pending.len() }

// RegisterCapabilities validates and stores the descriptor. It must precede ConnectToRegistry.
func (a *Adapter) RegisterCapabilities(desc a2a.CapabilityDescriptor) error {
	if err := a.protocol.RegisterCapabilities(desc); err != nil {
		return err
	}
	a.log.Infow("Capabilities registered",
		"role", desc.Role,
		"capabilities", desc.Capabilities,
		"version", desc.Version,
	)
	return nil
}

// RegisterHandler replaces the handler for kind
func (a *Adapter) RegisterHandler(kind a2a.Kind, fn HandlerFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[kind] = fn
}

func (a *Adapter) handler(kind a2a.Kind) HandlerFunc {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.handlers[kind]
}

// StartServer starts the transport listener with the adapter router
func (a *Adapter) StartServer(ctx context.Context, port int) error {
	if err := a.transport.StartListener(ctx, port, a.route); err != nil {
		return errors.Wrapf(err, "start server for %s", a.id)
	}
	a.mu.Lock()
	a.serving = true
	a.mu.Unlock()
	a.log.Infow("A2A server started", "port", port)
	return nil
}

// StartPolling drives the router from Transport.Receive for transports
// that cannot listen. Each empty poll waits interval.
func (a *Adapter) StartPolling(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.Wrap(errors.ErrNotConnected, "adapter closed")
	}
	if a.serving {
		a.mu.Unlock()
		return errors.Wrapf(errors.ErrListenerRunning, "agent %s", a.id)
	}
	pollCtx, cancel := context.WithCancel(ctx)
	a.pollCancel = cancel
	a.serving = true
	a.mu.Unlock()

	a.pollWG.Add(1)
	go func() {
		defer a.pollWG.Done()
		for {
			if env := a.transport.Receive(pollCtx); env != nil {
				_ = a.route(pollCtx, env)
				continue
			}
			select {
			case <-pollCtx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()

	a.log.Infow("A2A polling started", "interval", interval)
	return nil
}

// route dispatches env by kind. Handler errors and panics become Error envelopes.
func (a *Adapter) route(ctx context.Context, env *a2a.Envelope) error {
	fn := a.handler(env.Kind)
	if fn == nil {
		a.log.Debugw("No handler for message kind", "kind", env.Kind, "message_id", env.ID)
		return nil
	}

	err := a.invoke(ctx, fn, env)
	if err == nil {
		return nil
	}

	code := errors.CodeOf(err, a2a.CodeHandlerError)
	metrics.RecordHandlerError(a.id, string(env.Kind), code)
	a.log.Warnw("Message handler failed",
		"kind", env.Kind,
		"message_id", env.ID,
		"sender_id", env.SenderID,
		"code", code,
		"error", err,
	)

	// Replies are never answered, otherwise two agents could bounce errors forever
	if env.IsReply() || env.Kind == a2a.KindCapabilityResponse {
		return nil
	}

	reply := a.protocol.CreateErrorResponse(env, errorMessage(err), code)
	if !a.send(ctx, reply) {
		a.log.Warnw("Failed to send error response", "receiver_id", reply.ReceiverID, "correlation_id", reply.CorrelationID)
	}
	return nil
}

func (a *Adapter) invoke(ctx context.Context, fn HandlerFunc, env *a2a.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Errorw("Handler panicked",
				"kind", env.Kind,
				"message_id", env.ID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = errors.NewDomainError(a2a.CodeHandlerError, fmt.Sprintf("handler panic: %v", r), errors.ErrInternal)
		}
	}()
	return fn(ctx, env)
}

func errorMessage(err error) string {
	var de *errors.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

// send applies the outbound rate limit, then hands env to the transport
func (a *Adapter) send(ctx context.Context, env *a2a.Envelope) bool {
	if err := a.limiter.Wait(ctx, env.ReceiverID); err != nil {
		a.log.Warnw("Outbound rate limit wait aborted", "receiver_id", env.ReceiverID, "error", err)
		return false
	}
	return a.transport.Send(ctx, env)
}

// Reply sends a Response to original carrying payload
func (a *Adapter) Reply(ctx context.Context, original *a2a.Envelope, payload map[string]any) bool {
	resp := a.protocol.CreateResponse(original, payload)
	if !a.send(ctx, resp) {
		a.log.Warnw("Failed to send response", "receiver_id", resp.ReceiverID, "correlation_id", resp.CorrelationID)
		return false
	}
	return true
}

// Connect opens the adapter transport to endpoint
func (a *Adapter) Connect(ctx context.Context, endpoint string) bool {
	return a.transport.Connect(ctx, endpoint)
}

// ConnectToRegistry connects to endpoint and announces the registered descriptor.
// Without a descriptor it fails before touching the network.
func (a *Adapter) ConnectToRegistry(ctx context.Context, endpoint string) error {
	reg, err := a.protocol.RegistrationMessage()
	if err != nil {
		return err
	}

	if !a.transport.Connect(ctx, endpoint) {
		return errors.Wrapf(errors.ErrRegistryUnreachable, "%s", endpoint)
	}
	if !a.send(ctx, reg) {
		return errors.Wrapf(errors.ErrSendFailed, "registration to %s", endpoint)
	}

	a.log.Infow("Registered with A2A registry", "endpoint", endpoint)
	return nil
}

// DiscoverAgents broadcasts a capability query, waits the discovery grace
// period and returns the known peers advertising role (all peers when empty).
func (a *Adapter) DiscoverAgents(ctx context.Context, role a2a.Role) []map[string]any {
	query := a.protocol.CapabilityQueryMessage(role)
	if !a.send(ctx, query) {
		a.log.Warnw("Capability query not sent, returning cached peers", "role", role)
	} else if a.cfg.DiscoveryGrace > 0 {
		timer := time.NewTimer(a.cfg.DiscoveryGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	peers, err := a.peers.List(context.WithoutCancel(ctx), role)
	if err != nil {
		a.log.Warnw("Failed to list peers", "error", err)
		return []map[string]any{}
	}

	out := make([]map[string]any, 0, len(peers))
	for _, p := range peers {
		entry := make(map[string]any, len(p.Capabilities)+1)
		for k, v := range p.Capabilities {
			entry[k] = v
		}
		entry["agent_id"] = p.AgentID
		out = append(out, entry)
	}
	return out
}

// RequestStockAnalysis asks receiver for a stock analysis and waits for the reply
func (a *Adapter) RequestStockAnalysis(ctx context.Context, receiver, ticker, analysisType, timeframe string, userProfile map[string]any) (map[string]any, error) {
	env := a.protocol.CreateStockAnalysisRequest(receiver, ticker, analysisType, timeframe, userProfile)
	return a.request(ctx, env, a2a.RequestTypeStockAnalysis)
}

// RequestPortfolioAnalysis asks receiver to evaluate a portfolio and waits for the reply
func (a *Adapter) RequestPortfolioAnalysis(ctx context.Context, receiver, userID string, portfolioData map[string]any, goals []string) (map[string]any, error) {
	env := a.protocol.CreatePortfolioAnalysisRequest(receiver, userID, portfolioData, goals)
	return a.request(ctx, env, a2a.RequestTypePortfolioAnalysis)
}

// RequestRiskAnalysis asks receiver for a risk scan and waits for the reply
func (a *Adapter) RequestRiskAnalysis(ctx context.Context, receiver, ticker string, eventSources []string, timeHorizon string) (map[string]any, error) {
	env := a.protocol.CreateRiskAnalysisRequest(receiver, ticker, eventSources, timeHorizon)
	return a.request(ctx, env, a2a.RequestTypeRiskAnalysis)
}

// request tracks env, sends it and waits only when the send succeeded
func (a *Adapter) request(ctx context.Context, env *a2a.Envelope, requestType string) (map[string]any, error) {
	started := time.Now()
	a.pending.add(newPendingRequest(env, requestType, a.now()))

	if !a.send(ctx, env) {
		a.pending.remove(env.ID)
		metrics.RecordRequest(a.id, requestType, "send_failed", time.Since(started))
		return nil, errors.Wrapf(errors.ErrSendFailed, "%s to %s", requestType, env.ReceiverID)
	}

	payload, err := a.WaitForResponse(ctx, env.ID, a.cfg.RequestTimeout)
	outcome := "ok"
	switch {
	case errors.Is(err, errors.ErrRemoteError):
		outcome = "remote_error"
	case errors.Is(err, errors.ErrRequestTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "failed"
	}
	metrics.RecordRequest(a.id, requestType, outcome, time.Since(started))
	return payload, err
}

// WaitForResponse blocks until the request id is answered, timeout elapses or
// ctx ends. The pending record is removed in every case.
func (a *Adapter) WaitForResponse(ctx context.Context, id string, timeout time.Duration) (map[string]any, error) {
	p, ok := a.pending.get(id)
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownRequest, "%s", id)
	}
	defer a.pending.remove(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		if p.errResp != nil {
			code := a2a.StringField(p.errResp, "error_code")
			msg := a2a.StringField(p.errResp, "error_message")
			a.log.Warnw("Request answered with error",
				"request_id", id,
				"request_type", p.requestType,
				"error_code", code,
				"error_message", msg,
			)
			return nil, errors.NewDomainError(code, msg, errors.ErrRemoteError)
		}
		return p.response, nil
	case <-timer.C:
		a.log.Warnw("Request timed out", "request_id", id, "request_type", p.requestType, "timeout", timeout)
		return nil, errors.Wrapf(errors.ErrRequestTimeout, "%s after %s", id, timeout)
	case <-ctx.Done():
		a.log.Warnw("Request wait cancelled", "request_id", id, "request_type", p.requestType, "error", ctx.Err())
		return nil, errors.Wrapf(errors.ErrRequestTimeout, "%s: %v", id, ctx.Err())
	}
}

// CleanupExpiredRequests drops pending records older than the cleanup age
// and evicts expired peers. It returns the number of records removed.
func (a *Adapter) CleanupExpiredRequests(ctx context.Context) int {
	removed := a.pending.sweep(a.now().Add(-a.cfg.CleanupMaxAge))
	for _, p := range removed {
		a.log.Debugw("Expired pending request removed",
			"request_id", p.envelope.ID,
			"request_type", p.requestType,
			"age", a.now().Sub(p.createdAt),
		)
	}

	evicted, err := a.peers.Evict(ctx)
	if err != nil {
		a.log.Warnw("Peer eviction failed", "error", err)
	}
	if len(removed) > 0 || evicted > 0 {
		a.log.Infow("Cleanup finished", "expired_requests", len(removed), "evicted_peers", evicted)
	}
	return len(removed)
}

// SendHeartbeat pings target
func (a *Adapter) SendHeartbeat(ctx context.Context, target string) bool {
	return a.send(ctx, a.protocol.CreateHeartbeat(target))
}

// Status returns a snapshot of the adapter state
func (a *Adapter) Status(ctx context.Context) AdapterStatus {
	registered, err := a.peers.Count(ctx)
	if err != nil {
		a.log.Warnw("Failed to count peers", "error", err)
	}

	a.mu.RLock()
	serving := a.serving
	a.mu.RUnlock()

	st := AdapterStatus{
		AgentID:          a.id,
		Role:             string(a.role),
		PendingRequests:  a.pending.len(),
		RegisteredAgents: registered,
		Serving:          serving,
	}
	if desc, ok := a.protocol.Capabilities(); ok {
		st.Capabilities = string(desc.Role)
	}
	return st
}

// Close stops polling and closes the transport
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.serving = false
	cancel := a.pollCancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.pollWG.Wait()

	if err := a.transport.Close(); err != nil {
		return errors.Wrapf(err, "close transport for %s", a.id)
	}
	a.log.Infow("A2A adapter closed")
	return nil
}

// Default handlers

func (a *Adapter) handleRequest(_ context.Context, env *a2a.Envelope) error {
	a.log.Infow("Request received with no domain handler", "sender_id", env.SenderID, "message_id", env.ID)
	return nil
}

func (a *Adapter) handleResponse(_ context.Context, env *a2a.Envelope) error {
	a.resolve(env, env.Payload, nil)
	return nil
}

func (a *Adapter) handleError(_ context.Context, env *a2a.Envelope) error {
	a.resolve(env, nil, env.Payload)
	return nil
}

func (a *Adapter) resolve(env *a2a.Envelope, response, errResp map[string]any) {
	p, ok := a.pending.get(env.CorrelationID)
	if !ok {
		a.log.Debugw("Reply for unknown or expired request dropped",
			"correlation_id", env.CorrelationID,
			"kind", env.Kind,
			"sender_id", env.SenderID,
		)
		return
	}
	if !p.resolve(response, errResp) {
		a.log.Warnw("Duplicate reply ignored", "correlation_id", env.CorrelationID, "kind", env.Kind)
	}
}

func (a *Adapter) handleHeartbeat(_ context.Context, env *a2a.Envelope) error {
	a.log.Debugw("Heartbeat received", "sender_id", env.SenderID)
	return nil
}

func (a *Adapter) handleRegistration(ctx context.Context, env *a2a.Envelope) error {
	if env.SenderID == a.id {
		return nil
	}
	if err := a.peers.Put(ctx, a2a.Peer{AgentID: env.SenderID, Capabilities: env.Payload, SeenAt: a.now()}); err != nil {
		return errors.Wrapf(err, "store registration of %s", env.SenderID)
	}
	a.log.Infow("Agent registered", "peer_id", env.SenderID, "role", a2a.StringField(env.Payload, "role"))
	return nil
}

func (a *Adapter) handleCapabilityQuery(ctx context.Context, env *a2a.Envelope) error {
	if env.SenderID == a.id {
		return nil
	}
	desc, ok := a.protocol.Capabilities()
	if !ok {
		a.log.Debugw("Capability query ignored, nothing registered", "sender_id", env.SenderID)
		return nil
	}
	if target := a2a.Role(a2a.StringField(env.Payload, "target_role")); target != "" && target != desc.Role {
		return nil
	}

	reply, err := a.protocol.CreateCapabilityResponse(env)
	if err != nil {
		return err
	}
	if !a.send(ctx, reply) {
		a.log.Warnw("Failed to answer capability query", "receiver_id", env.SenderID)
	}
	return nil
}

// handleCapabilityResponse records the advertiser as a peer. Discovery reads
// the peer store, so capability responses never complete pending requests.
func (a *Adapter) handleCapabilityResponse(ctx context.Context, env *a2a.Envelope) error {
	if env.SenderID == a.id {
		return nil
	}
	if err := a.peers.Put(ctx, a2a.Peer{AgentID: env.SenderID, Capabilities: env.Payload, SeenAt: a.now()}); err != nil {
		a.log.Warnw("Failed to store peer capabilities", "peer_id", env.SenderID, "error", err)
	}
	return nil
}
