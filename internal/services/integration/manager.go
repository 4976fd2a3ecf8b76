package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"finmesh/internal/adapters/config"
	"finmesh/internal/adapters/transport"
	"finmesh/internal/domain/a2a"
	"finmesh/internal/domain/analysis"
	"finmesh/internal/metrics"
	"finmesh/internal/services/agent"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

const defaultExternalUser = "external_user"

var portfolioGoals = []string{"risk_assessment", "optimization"}

// Deps are the collaborators and wiring the manager builds adapters from
type Deps struct {
	Investment analysis.InvestmentAnalyzer
	Risk       analysis.RiskAnalyzer
	Portfolio  analysis.PortfolioAnalyzer
	Profiles   analysis.ProfileStore

	TransportOptions transport.Options
	// PeerStore builds the peer table for one agent; nil selects the in-memory store
	PeerStore func(agentID string) a2a.PeerStore
}

// Manager owns the investment, risk and portfolio adapters and runs
// collaborative analyses across them.
type Manager struct {
	cfg  config.A2AConfig
	deps Deps
	log  *logger.Logger
	now  func() time.Time

	mu          sync.RWMutex
	adapters    map[string]*agent.Adapter
	initialized bool
	startedAt   time.Time
	cancel      context.CancelFunc
}

// NewManager creates an uninitialized manager
func NewManager(cfg config.A2AConfig, deps Deps) *Manager {
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		log:      logger.Get().With("component", "integration_manager"),
		now:      time.Now,
		adapters: make(map[string]*agent.Adapter),
	}
}

func (m *Manager) agentConfig() agent.Config {
	return agent.Config{
		RequestTimeout: m.cfg.RequestTimeout,
		CleanupMaxAge:  m.cfg.CleanupMaxAge,
		DiscoveryGrace: m.cfg.DiscoveryGrace,
		PeerTTL:        m.cfg.PeerTTL,
		OutboundRPS:    m.cfg.OutboundRPS,
		OutboundBurst:  m.cfg.OutboundBurst,
	}
}

func (m *Manager) agentID(name string) string {
	switch name {
	case BranchInvestment:
		return m.cfg.InvestmentAgentID
	case BranchRisk:
		return m.cfg.RiskAgentID
	default:
		return m.cfg.PortfolioAgentID
	}
}

func (m *Manager) port(name string) int {
	switch name {
	case BranchInvestment:
		return m.cfg.InvestmentPort
	case BranchRisk:
		return m.cfg.RiskPort
	default:
		return m.cfg.PortfolioPort
	}
}

func (m *Manager) build(name string, tr transport.Transport) *agent.Adapter {
	id := m.agentID(name)
	var peers a2a.PeerStore
	if m.deps.PeerStore != nil {
		peers = m.deps.PeerStore(id)
	}
	cfg := m.agentConfig()

	switch name {
	case BranchInvestment:
		return agent.NewInvestmentAdapter(id, tr, m.deps.Investment, cfg, peers)
	case BranchRisk:
		return agent.NewRiskAdapter(id, tr, m.deps.Risk, cfg, peers)
	default:
		return agent.NewPortfolioAdapter(id, tr, m.deps.Portfolio, cfg, peers)
	}
}

// Initialize builds the three adapters, registers their descriptors and
// starts their listeners. It is idempotent. On failure every adapter started
// so far is closed.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	if m.deps.Investment == nil || m.deps.Risk == nil || m.deps.Portfolio == nil || m.deps.Profiles == nil {
		return errors.Wrap(errors.ErrInvalidInput, "integration manager requires all collaborators")
	}

	descs, err := LoadDescriptors(m.cfg.CapabilitiesFile)
	if err != nil {
		return err
	}

	lifeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	built := make(map[string]*agent.Adapter, len(branchOrder))
	rollback := func() {
		cancel()
		for name, a := range built {
			if err := a.Close(); err != nil {
				m.log.Warnw("Failed to close adapter during rollback", "adapter", name, "error", err)
			}
		}
	}

	for _, name := range branchOrder {
		tr, err := transport.New(m.cfg.Transport, m.agentID(name), m.deps.TransportOptions)
		if err != nil {
			rollback()
			return errors.Wrapf(err, "build %s transport", name)
		}

		a := m.build(name, tr)
		built[name] = a

		if err := a.RegisterCapabilities(descs[name]); err != nil {
			rollback()
			return errors.Wrapf(err, "register %s capabilities", name)
		}
		if err := m.start(lifeCtx, a, m.port(name)); err != nil {
			rollback()
			return errors.Wrapf(err, "start %s adapter", name)
		}
		m.log.Infow("Adapter started", "adapter", name, "agent_id", a.ID(), "port", m.port(name))
	}

	m.adapters = built
	m.cancel = cancel
	m.initialized = true
	m.startedAt = m.now()
	m.log.Infow("A2A integration initialized", "transport", m.cfg.Transport, "adapters", len(built))
	return nil
}

// start runs the listener, falling back to polling for transports without one
func (m *Manager) start(ctx context.Context, a *agent.Adapter, port int) error {
	err := a.StartServer(ctx, port)
	if errors.Is(err, errors.ErrListenerUnsupported) {
		return a.StartPolling(ctx, m.cfg.PollInterval)
	}
	return err
}

// Adapters returns the running adapters in branch order
func (m *Manager) Adapters() []*agent.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*agent.Adapter, 0, len(m.adapters))
	for _, name := range branchOrder {
		if a, ok := m.adapters[name]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (m *Manager) adapter(name string) *agent.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adapters[name]
}

// StartCollaborativeAnalysis fans the query out to the investment and risk
// agents, and to the portfolio agent when userID has a profile. Each branch
// has its own timeout and failed branches are left out of the merge.
func (m *Manager) StartCollaborativeAnalysis(ctx context.Context, ticker, userID, analysisType string) *AggregatedResult {
	started := time.Now()
	if analysisType == "" {
		analysisType = "comprehensive"
	}

	if err := m.Initialize(ctx); err != nil {
		m.log.Errorw("Collaborative analysis could not initialize", "ticker", ticker, "error", err)
		res := Merge(ticker, nil, m.now())
		res.Error = err.Error()
		return res
	}

	profile, err := m.deps.Profiles.GetUserProfile(ctx, userID)
	if err != nil {
		m.log.Warnw("Failed to load user profile", "user_id", userID, "error", err)
		profile = nil
	}

	var (
		mu      sync.Mutex
		results = make(map[string]map[string]any, len(branchOrder))
		g       errgroup.Group
	)

	branch := func(name string, call func(ctx context.Context) (map[string]any, error)) {
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					metrics.RecordBranch(name, "panic")
					m.log.Errorw("Analysis branch panicked", "branch", name, "panic", fmt.Sprint(r))
				}
			}()

			res, err := call(bctx)
			if err != nil {
				outcome := "failed"
				if errors.Is(err, errors.ErrRequestTimeout) {
					outcome = "timeout"
				}
				metrics.RecordBranch(name, outcome)
				m.log.Warnw("Analysis branch dropped", "branch", name, "ticker", ticker, "error", err)
				return nil
			}
			if res == nil {
				res = map[string]any{}
			}

			mu.Lock()
			results[name] = res
			mu.Unlock()
			metrics.RecordBranch(name, "ok")
			m.log.Infow("Analysis branch completed", "branch", name, "ticker", ticker)
			return nil
		})
	}

	if inv := m.adapter(BranchInvestment); inv != nil {
		branch(BranchInvestment, func(ctx context.Context) (map[string]any, error) {
			return inv.RequestStockAnalysis(ctx, m.cfg.InvestmentAgentID, ticker, analysisType, a2a.DefaultTimeframe, profile)
		})
	}
	if risk := m.adapter(BranchRisk); risk != nil {
		branch(BranchRisk, func(ctx context.Context) (map[string]any, error) {
			return risk.RequestRiskAnalysis(ctx, m.cfg.RiskAgentID, ticker, a2a.DefaultEventSources, a2a.DefaultTimeHorizon)
		})
	}
	if pf := m.adapter(BranchPortfolio); pf != nil && profile != nil {
		data := m.portfolioData(ctx, userID)
		branch(BranchPortfolio, func(ctx context.Context) (map[string]any, error) {
			return pf.RequestPortfolioAnalysis(ctx, m.cfg.PortfolioAgentID, userID, data, portfolioGoals)
		})
	}

	_ = g.Wait()

	res := Merge(ticker, results, m.now())
	metrics.CollaborativeDuration.Observe(time.Since(started).Seconds())
	m.log.Infow("Collaborative analysis finished",
		"ticker", ticker,
		"user_id", userID,
		"agents_used", res.AgentsUsed,
		"integrated_score", res.IntegratedScore,
		"confidence", res.ConfidenceScore,
		"duration", time.Since(started),
	)
	return res
}

// portfolioData returns the stored holdings of userID, never nil
func (m *Manager) portfolioData(ctx context.Context, userID string) map[string]any {
	data, err := m.deps.Profiles.GetPortfolioData(ctx, userID)
	if err != nil {
		m.log.Warnw("Failed to load portfolio data", "user_id", userID, "error", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data
}

// RegisterWithExternalAgents connects one local adapter to each external
// endpoint, trying investment, risk and portfolio in turn. It returns the
// ids of the agents that were reached.
func (m *Manager) RegisterWithExternalAgents(ctx context.Context, agents []ExternalAgent) []string {
	if err := m.Initialize(ctx); err != nil {
		m.log.Errorw("External registration could not initialize", "error", err)
		return []string{}
	}

	connected := []string{}
	for _, ext := range agents {
		if ext.AgentID == "" || ext.Endpoint == "" {
			m.log.Warnw("Skipping external agent without id or endpoint", "agent_id", ext.AgentID)
			continue
		}
		for _, a := range m.Adapters() {
			if a.Connect(ctx, ext.Endpoint) {
				connected = append(connected, ext.AgentID)
				m.log.Infow("Connected to external agent", "agent_id", ext.AgentID, "via", a.ID(), "role", ext.Role)
				break
			}
		}
	}
	return connected
}

// ConnectToRegistry announces every adapter to the configured registry and
// returns the ids that registered
func (m *Manager) ConnectToRegistry(ctx context.Context) []string {
	if err := m.Initialize(ctx); err != nil {
		m.log.Errorw("Registry connect could not initialize", "error", err)
		return []string{}
	}

	registered := []string{}
	for _, a := range m.Adapters() {
		if err := a.ConnectToRegistry(ctx, m.cfg.RegistryEndpoint); err != nil {
			m.log.Warnw("Registry registration failed", "agent_id", a.ID(), "endpoint", m.cfg.RegistryEndpoint, "error", err)
			continue
		}
		registered = append(registered, a.ID())
	}
	return registered
}

// HandleExternalRequest serves a request arriving from outside the mesh
func (m *Manager) HandleExternalRequest(ctx context.Context, req ExternalRequest) *ExternalResponse {
	userID := req.UserID
	if userID == "" {
		userID = defaultExternalUser
	}

	switch {
	case req.Type == a2a.RequestTypeStockAnalysis && req.Ticker != "":
		res := m.StartCollaborativeAnalysis(ctx, req.Ticker, userID, "comprehensive")
		return &ExternalResponse{Analysis: res, UserID: userID, Error: res.Error}

	case req.Type == a2a.RequestTypePortfolioAnalysis:
		data := m.portfolioData(ctx, userID)
		if m.deps.Portfolio == nil {
			return &ExternalResponse{Error: "portfolio analysis unavailable"}
		}
		result, err := m.deps.Portfolio.AnalyzePortfolio(ctx, userID, data, portfolioGoals)
		if err != nil {
			m.log.Warnw("External portfolio analysis failed", "user_id", userID, "error", err)
			return &ExternalResponse{UserID: userID, Error: err.Error()}
		}
		return &ExternalResponse{UserID: userID, PortfolioAnalysis: result, PortfolioData: data}

	default:
		return &ExternalResponse{Error: "invalid request type or missing parameters"}
	}
}

// GetAgentStatus returns a snapshot of the manager and its adapters
func (m *Manager) GetAgentStatus(ctx context.Context) Status {
	m.mu.RLock()
	initialized := m.initialized
	startedAt := m.startedAt
	m.mu.RUnlock()

	st := Status{
		Initialized:      initialized,
		Transport:        m.cfg.Transport,
		RegistryEndpoint: m.cfg.RegistryEndpoint,
		Adapters:         make(map[string]agent.AdapterStatus),
		Timestamp:        m.now().UTC(),
	}
	if initialized {
		t := startedAt.UTC()
		st.StartedAt = &t
		st.Uptime = humanize.RelTime(startedAt, m.now(), "ago", "from now")
	}

	for _, name := range branchOrder {
		if a := m.adapter(name); a != nil {
			st.Adapters[name] = a.Status(ctx)
		}
	}
	return st
}

// Shutdown sweeps and closes every adapter and clears the initialized flag.
// A later call to Initialize starts fresh adapters.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil
	}

	m.log.Info("Shutting down A2A integration")
	var errs []error
	for _, name := range branchOrder {
		a, ok := m.adapters[name]
		if !ok {
			continue
		}
		a.CleanupExpiredRequests(ctx)
		if err := a.Close(); err != nil {
			m.log.Warnw("Failed to close adapter", "adapter", name, "error", err)
			errs = append(errs, err)
		}
	}

	if m.cancel != nil {
		m.cancel()
	}
	m.adapters = make(map[string]*agent.Adapter)
	m.initialized = false
	m.log.Info("A2A integration shutdown complete")
	return errors.Join(errs...)
}
