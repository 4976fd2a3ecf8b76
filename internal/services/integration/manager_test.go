package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finmesh/internal/adapters/config"
	"finmesh/internal/adapters/fixtures"
	"finmesh/internal/adapters/transport"
	"finmesh/internal/domain/a2a"
	"finmesh/internal/domain/analysis"
	"finmesh/pkg/errors"
)

func testConfig() config.A2AConfig {
	return config.A2AConfig{
		Transport:         transport.KindLocal,
		RegistryEndpoint:  "local://registry_sink",
		InvestmentAgentID: "investment_test",
		RiskAgentID:       "risk_test",
		PortfolioAgentID:  "portfolio_test",
		RequestTimeout:    2 * time.Second,
		CleanupMaxAge:     time.Minute,
		DiscoveryGrace:    10 * time.Millisecond,
		PeerTTL:           time.Minute,
		PollInterval:      20 * time.Millisecond,
		OutboundRPS:       1000,
		OutboundBurst:     1000,
	}
}

func testFixtures(t *testing.T) *fixtures.Fixtures {
	t.Helper()
	f, err := fixtures.Parse([]byte(`
investment:
  default:
    overall_score: 80
    confidence_score: 0.9
risk:
  default:
    overall_risk_score: 20
    risk_level: low
    confidence: medium
portfolio:
  default:
    overall_score: 60
    confidence: high
profiles:
  alice:
    risk_tolerance: moderate
portfolios:
  alice:
    cash: 1000
`))
	require.NoError(t, err)
	return f
}

func depsFor(f *fixtures.Fixtures, hub *transport.LocalHub) Deps {
	return Deps{
		Investment:       f,
		Risk:             f,
		Portfolio:        f,
		Profiles:         f,
		TransportOptions: transport.Options{Hub: hub},
	}
}

// slowRisk holds every risk analysis until ctx ends or delay passes
type slowRisk struct {
	analysis.RiskAnalyzer
	delay time.Duration
}

func (s slowRisk) AnalyzeRisk(ctx context.Context, ticker string, sources []string, horizon string) (analysis.Result, error) {
	select {
	case <-time.After(s.delay):
		return s.RiskAnalyzer.AnalyzeRisk(ctx, ticker, sources, horizon)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestManager(t *testing.T, cfg config.A2AConfig, deps Deps) *Manager {
	t.Helper()
	m := NewManager(cfg, deps)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestManager_CollaborativeAnalysis(t *testing.T) {
	f := testFixtures(t)

	tests := []struct {
		name       string
		cfg        func() config.A2AConfig
		deps       func(hub *transport.LocalHub) Deps
		userID     string
		wantAgents []string
		wantScore  float64
		wantAction string
		wantConf   float64
	}{
		{
			name:       "all branches answer",
			cfg:        testConfig,
			deps:       func(hub *transport.LocalHub) Deps { return depsFor(f, hub) },
			userID:     "alice",
			wantAgents: []string{BranchInvestment, BranchRisk, BranchPortfolio},
			wantScore:  26,
			wantAction: "SELL",
			wantConf:   (0.9 + 0.6 + 0.8) / 3,
		},
		{
			name:       "unknown user skips portfolio",
			cfg:        testConfig,
			deps:       func(hub *transport.LocalHub) Deps { return depsFor(f, hub) },
			userID:     "nobody",
			wantAgents: []string{BranchInvestment, BranchRisk},
			wantScore:  8,
			wantAction: "SELL",
			wantConf:   (0.9 + 0.6) / 2,
		},
		{
			name: "risk timeout drops the branch",
			cfg: func() config.A2AConfig {
				cfg := testConfig()
				cfg.RequestTimeout = 200 * time.Millisecond
				return cfg
			},
			deps: func(hub *transport.LocalHub) Deps {
				d := depsFor(f, hub)
				d.Risk = slowRisk{RiskAnalyzer: f, delay: 5 * time.Second}
				return d
			},
			userID:     "alice",
			wantAgents: []string{BranchInvestment, BranchPortfolio},
			wantScore:  50,
			wantAction: "BUY",
			wantConf:   (0.9 + 0.8) / 2,
		},
		{
			name: "failing collaborator drops the branch",
			cfg:  testConfig,
			deps: func(hub *transport.LocalHub) Deps {
				failing, err := fixtures.Parse([]byte("investment:\n  fail: [AAPL]\n"))
				require.NoError(t, err)
				d := depsFor(f, hub)
				d.Investment = failing
				return d
			},
			userID:     "alice",
			wantAgents: []string{BranchRisk, BranchPortfolio},
			wantScore:  0,
			wantAction: "SELL",
			wantConf:   (0.6 + 0.8) / 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := transport.NewLocalHub()
			m := newTestManager(t, tt.cfg(), tt.deps(hub))

			res := m.StartCollaborativeAnalysis(context.Background(), "AAPL", tt.userID, "")
			require.NotNil(t, res)
			assert.Empty(t, res.Error)
			assert.Equal(t, "AAPL", res.Ticker)
			assert.Equal(t, tt.wantAgents, res.AgentsUsed)
			assert.InDelta(t, tt.wantScore, res.IntegratedScore, 1e-9)
			require.NotEmpty(t, res.Recommendations)
			assert.Equal(t, tt.wantAction, res.Recommendations[0].Action)
			assert.InDelta(t, tt.wantConf, res.ConfidenceScore, 1e-9)

			for _, a := range m.Adapters() {
				assert.Zero(t, a.PendingCount(), "adapter %s kept pending records", a.ID())
			}
		})
	}
}

func TestManager_InitializeFailureReturnsErrorResult(t *testing.T) {
	cfg := testConfig()
	cfg.Transport = "carrier_pigeon"
	m := newTestManager(t, cfg, depsFor(testFixtures(t), transport.NewLocalHub()))

	res := m.StartCollaborativeAnalysis(context.Background(), "MSFT", "alice", "")
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, res.AgentsUsed)
	assert.Zero(t, res.ConfidenceScore)
	assert.False(t, m.GetAgentStatus(context.Background()).Initialized)
}

func TestManager_InitializeRequiresCollaborators(t *testing.T) {
	m := newTestManager(t, testConfig(), Deps{TransportOptions: transport.Options{Hub: transport.NewLocalHub()}})
	err := m.Initialize(context.Background())
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestManager_InitializeRollsBack(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.Transport = transport.KindWebSocket
	cfg.SelfConnect = false
	cfg.InvestmentPort = freePort(t)
	cfg.RiskPort = busy.Addr().(*net.TCPAddr).Port
	cfg.PortfolioPort = freePort(t)

	m := newTestManager(t, cfg, depsFor(testFixtures(t), nil))
	err = m.Initialize(context.Background())
	require.Error(t, err)
	assert.Empty(t, m.Adapters())

	// the investment listener started before the failure must be released
	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.InvestmentPort)))
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestManager_WebSocketEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Transport = transport.KindWebSocket
	cfg.SelfConnect = true
	cfg.InvestmentPort = freePort(t)
	cfg.RiskPort = freePort(t)
	cfg.PortfolioPort = freePort(t)

	m := newTestManager(t, cfg, Deps{
		Investment:       testFixtures(t),
		Risk:             testFixtures(t),
		Portfolio:        testFixtures(t),
		Profiles:         testFixtures(t),
		TransportOptions: transport.Options{SelfConnect: true, ConnectRetries: 1},
	})

	res := m.StartCollaborativeAnalysis(context.Background(), "AAPL", "alice", "comprehensive")
	assert.Empty(t, res.Error)
	assert.Equal(t, []string{BranchInvestment, BranchRisk, BranchPortfolio}, res.AgentsUsed)
	assert.InDelta(t, 26.0, res.IntegratedScore, 1e-9)
}

func TestManager_StatusAndShutdown(t *testing.T) {
	hub := transport.NewLocalHub()
	m := newTestManager(t, testConfig(), depsFor(testFixtures(t), hub))
	ctx := context.Background()

	st := m.GetAgentStatus(ctx)
	assert.False(t, st.Initialized)
	assert.Nil(t, st.StartedAt)
	assert.Empty(t, st.Adapters)

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Initialize(ctx), "second initialize is a no-op")

	st = m.GetAgentStatus(ctx)
	assert.True(t, st.Initialized)
	assert.Equal(t, transport.KindLocal, st.Transport)
	require.NotNil(t, st.StartedAt)
	assert.NotEmpty(t, st.Uptime)
	require.Len(t, st.Adapters, 3)
	assert.Equal(t, "investment_test", st.Adapters[BranchInvestment].AgentID)
	assert.Equal(t, string(a2a.RoleRiskAssessor), st.Adapters[BranchRisk].Capabilities)
	assert.True(t, st.Adapters[BranchPortfolio].Serving)

	require.NoError(t, m.Shutdown(ctx))
	require.NoError(t, m.Shutdown(ctx), "second shutdown is a no-op")
	st = m.GetAgentStatus(ctx)
	assert.False(t, st.Initialized)
	assert.Empty(t, st.Adapters)

	// a fresh start registers new endpoints on the same hub
	require.NoError(t, m.Initialize(ctx))
	assert.Len(t, m.Adapters(), 3)
}

type envelopeSink struct {
	mu   sync.Mutex
	envs []*a2a.Envelope
}

func (s *envelopeSink) handle(_ context.Context, env *a2a.Envelope) error {
	s.mu.Lock()
	s.envs = append(s.envs, env)
	s.mu.Unlock()
	return nil
}

func (s *envelopeSink) senders(kind a2a.Kind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.envs {
		if e.Kind == kind {
			out = append(out, e.SenderID)
		}
	}
	return out
}

func TestManager_ConnectToRegistry(t *testing.T) {
	hub := transport.NewLocalHub()
	registry := hub.Transport("registry_sink")
	defer registry.Close()
	sink := &envelopeSink{}
	require.NoError(t, registry.StartListener(context.Background(), 0, sink.handle))

	m := newTestManager(t, testConfig(), depsFor(testFixtures(t), hub))
	registered := m.ConnectToRegistry(context.Background())
	assert.Equal(t, []string{"investment_test", "risk_test", "portfolio_test"}, registered)

	assert.Eventually(t, func() bool {
		return len(sink.senders(a2a.KindRegistration)) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, registered, sink.senders(a2a.KindRegistration))
}

func TestManager_ConnectToRegistryUnreachable(t *testing.T) {
	m := newTestManager(t, testConfig(), depsFor(testFixtures(t), transport.NewLocalHub()))
	assert.Empty(t, m.ConnectToRegistry(context.Background()))
}

func TestManager_RegisterWithExternalAgents(t *testing.T) {
	hub := transport.NewLocalHub()
	ext := hub.Transport("external_analyst")
	defer ext.Close()

	m := newTestManager(t, testConfig(), depsFor(testFixtures(t), hub))
	connected := m.RegisterWithExternalAgents(context.Background(), []ExternalAgent{
		{AgentID: "external_analyst", Endpoint: "local://external_analyst", Role: "market_researcher"},
		{AgentID: "ghost", Endpoint: "local://ghost"},
		{AgentID: "", Endpoint: "local://external_analyst"},
	})
	assert.Equal(t, []string{"external_analyst"}, connected)
}

func TestManager_HandleExternalRequest(t *testing.T) {
	m := newTestManager(t, testConfig(), depsFor(testFixtures(t), transport.NewLocalHub()))
	ctx := context.Background()

	tests := []struct {
		name  string
		req   ExternalRequest
		check func(t *testing.T, resp *ExternalResponse)
	}{
		{
			name: "stock analysis",
			req:  ExternalRequest{Type: a2a.RequestTypeStockAnalysis, Ticker: "AAPL", UserID: "alice"},
			check: func(t *testing.T, resp *ExternalResponse) {
				assert.Empty(t, resp.Error)
				assert.Equal(t, "alice", resp.UserID)
				require.NotNil(t, resp.Analysis)
				assert.Len(t, resp.Analysis.AgentsUsed, 3)
			},
		},
		{
			name: "stock analysis without ticker",
			req:  ExternalRequest{Type: a2a.RequestTypeStockAnalysis},
			check: func(t *testing.T, resp *ExternalResponse) {
				assert.Equal(t, "invalid request type or missing parameters", resp.Error)
				assert.Nil(t, resp.Analysis)
			},
		},
		{
			name: "portfolio analysis defaults the user",
			req:  ExternalRequest{Type: a2a.RequestTypePortfolioAnalysis},
			check: func(t *testing.T, resp *ExternalResponse) {
				assert.Empty(t, resp.Error)
				assert.Equal(t, "external_user", resp.UserID)
				assert.InDelta(t, 60.0, a2a.NumberField(resp.PortfolioAnalysis, "overall_score"), 1e-9)
				assert.NotNil(t, resp.PortfolioData)
			},
		},
		{
			name: "unknown type",
			req:  ExternalRequest{Type: "weather_forecast", Ticker: "AAPL"},
			check: func(t *testing.T, resp *ExternalResponse) {
				assert.NotEmpty(t, resp.Error)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := m.HandleExternalRequest(ctx, tt.req)
			require.NotNil(t, resp)
			tt.check(t, resp)
		})
	}
}

func TestLoadDescriptors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	descs, err := LoadDescriptors("")
	require.NoError(t, err)
	require.Len(t, descs, 3)
	for name, d := range descs {
		assert.NoError(t, d.Validate(), name)
	}

	override := write("ok.yaml", `
risk:
  role: risk_assessor
  capabilities: [risk_scoring]
  max_concurrent_requests: 3
  response_time_avg: 0.5
  version: 2.1.0
`)
	descs, err = LoadDescriptors(override)
	require.NoError(t, err)
	assert.Equal(t, []string{"risk_scoring"}, descs[BranchRisk].Capabilities)
	assert.Equal(t, "2.1.0", descs[BranchRisk].Version)
	assert.Equal(t, 10, descs[BranchInvestment].MaxConcurrentRequests)

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown agent", body: "weather:\n  role: risk_assessor\n"},
		{name: "bad version", body: "risk:\n  role: risk_assessor\n  capabilities: [x]\n  max_concurrent_requests: 1\n  version: latest\n"},
		{name: "bad role", body: "risk:\n  role: oracle\n  capabilities: [x]\n  max_concurrent_requests: 1\n  version: 1.0.0\n"},
		{name: "not yaml", body: "risk: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDescriptors(write(tt.name+".yaml", tt.body))
			assert.ErrorIs(t, err, errors.ErrInvalidCapabilities)
		})
	}

	_, err = LoadDescriptors(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
