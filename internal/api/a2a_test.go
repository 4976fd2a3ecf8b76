package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finmesh/internal/adapters/config"
	"finmesh/internal/adapters/fixtures"
	"finmesh/internal/adapters/transport"
	"finmesh/internal/api/health"
	"finmesh/internal/domain/a2a"
	"finmesh/internal/services/integration"
	"finmesh/internal/services/mailbox"
	"finmesh/internal/workers"
	"finmesh/pkg/logger"
)

type fakeIntegration struct {
	lastReq integration.ExternalRequest
}

func (f *fakeIntegration) HandleExternalRequest(_ context.Context, req integration.ExternalRequest) *integration.ExternalResponse {
	f.lastReq = req
	if req.Type != a2a.RequestTypePortfolioAnalysis {
		return &integration.ExternalResponse{Error: "invalid request type or missing parameters"}
	}
	return &integration.ExternalResponse{UserID: req.UserID, PortfolioAnalysis: map[string]any{"overall_score": 55.0}}
}

func (f *fakeIntegration) GetAgentStatus(context.Context) integration.Status {
	return integration.Status{Initialized: true, Transport: "local"}
}

func newTestServer(t *testing.T, mb a2a.Mailbox, in Integration, wh func() map[string]workers.WorkerHealth) *httptest.Server {
	t.Helper()
	hh := health.New(logger.Nop(), nil, nil, "finmesh", "test")
	srv := httptest.NewServer(Routes(ServerConfig{ServiceName: "finmesh", Version: "test"}, hh, NewA2AHandler(mb, in, wh, logger.Nop())))
	t.Cleanup(srv.Close)
	return srv
}

func TestMailboxRoutes_WithPollingTransport(t *testing.T) {
	srv := newTestServer(t, mailbox.NewMemory(0), &fakeIntegration{}, nil)
	ctx := context.Background()

	alpha := transport.NewHTTPTransport("alpha", srv.URL)
	beta := transport.NewHTTPTransport("beta", srv.URL)

	require.True(t, alpha.Connect(ctx, srv.URL))
	assert.Nil(t, beta.Receive(ctx))

	p := a2a.NewProtocol("alpha", a2a.RoleInvestmentAnalyst)
	first := p.CreateStockAnalysisRequest("beta", "AAPL", "", "", nil)
	second := p.CreateHeartbeat("beta")
	require.True(t, alpha.Send(ctx, first))
	require.True(t, alpha.Send(ctx, second))

	got := beta.Receive(ctx)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "AAPL", a2a.StringField(got.Payload, "ticker"))

	got = beta.Receive(ctx)
	require.NotNil(t, got)
	assert.Equal(t, a2a.KindHeartbeat, got.Kind)
	assert.Nil(t, beta.Receive(ctx))
}

func TestPostMessage_Rejections(t *testing.T) {
	srv := newTestServer(t, mailbox.NewMemory(1), &fakeIntegration{}, nil)

	post := func(body string) *http.Response {
		resp, err := http.Post(srv.URL+"/a2a/message", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusBadRequest, post("{not json").StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(`{"message_id":"x"}`).StatusCode)

	env := a2a.NewProtocol("alpha", a2a.RoleRiskAssessor).CreateHeartbeat("beta")
	data, err := a2a.Encode(env)
	require.NoError(t, err)

	resp := post(string(data))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, env.ID, body["message_id"])

	// capacity 1
	assert.Equal(t, http.StatusServiceUnavailable, post(string(data)).StatusCode)

	getResp, err := http.Post(srv.URL+"/a2a/messages/beta", "application/json", nil)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestExternalAndStatusRoutes(t *testing.T) {
	in := &fakeIntegration{}
	wh := func() map[string]workers.WorkerHealth {
		return map[string]workers.WorkerHealth{"a2a_cleanup": {RunCount: 3, Enabled: true}}
	}
	srv := newTestServer(t, mailbox.NewMemory(0), in, wh)

	resp, err := http.Post(srv.URL+"/a2a/external", "application/json",
		strings.NewReader(`{"type":"portfolio_analysis","user_id":"bob"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ext integration.ExternalResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ext))
	assert.Equal(t, "bob", ext.UserID)
	assert.Equal(t, "bob", in.lastReq.UserID)
	assert.InDelta(t, 55.0, ext.PortfolioAnalysis["overall_score"], 0)

	bad, err := http.Post(srv.URL+"/a2a/external", "application/json", strings.NewReader("nope"))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	st, err := http.Get(srv.URL + "/a2a/status")
	require.NoError(t, err)
	defer st.Body.Close()
	var status map[string]any
	require.NoError(t, json.NewDecoder(st.Body).Decode(&status))
	assert.Equal(t, true, status["initialized"])
	assert.Equal(t, "local", status["transport"])
	require.Contains(t, status, "workers")

	root, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer root.Body.Close()
	assert.Equal(t, http.StatusOK, root.StatusCode)

	missing, err := http.Get(srv.URL + "/nowhere")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

// The manager on the polling transport talks to its agents through this API's mailbox
func TestCollaborativeAnalysisOverHTTPMailbox(t *testing.T) {
	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()

	f := fixtures.Default()
	mgr := integration.NewManager(config.A2AConfig{
		Transport:         transport.KindHTTP,
		HTTPBaseURL:       baseURL,
		InvestmentAgentID: "investment_http",
		RiskAgentID:       "risk_http",
		PortfolioAgentID:  "portfolio_http",
		RequestTimeout:    5 * time.Second,
		CleanupMaxAge:     time.Minute,
		PollInterval:      10 * time.Millisecond,
		OutboundRPS:       1000,
		OutboundBurst:     1000,
	}, integration.Deps{
		Investment:       f,
		Risk:             f,
		Portfolio:        f,
		Profiles:         f,
		TransportOptions: transport.Options{HTTPBaseURL: baseURL},
	})

	hh := health.New(logger.Nop(), nil, nil, "finmesh", "test")
	srv.Config.Handler = Routes(ServerConfig{}, hh, NewA2AHandler(mailbox.NewMemory(0), mgr, nil, logger.Nop()))
	srv.Start()
	defer srv.Close()
	defer mgr.Shutdown(context.Background())

	res := mgr.StartCollaborativeAnalysis(context.Background(), "MSFT", "demo_user", "")
	require.Empty(t, res.Error)
	assert.Equal(t, []string{integration.BranchInvestment, integration.BranchRisk, integration.BranchPortfolio}, res.AgentsUsed)
	// 65*0.4 - (100-35)*0.3 + 60*0.3
	assert.InDelta(t, 24.5, res.IntegratedScore, 1e-9)
}

func TestPostMessage_RegistryBroadcast(t *testing.T) {
	mb := mailbox.NewMemory(0)
	srv := newTestServer(t, mb, &fakeIntegration{}, nil)
	ctx := context.Background()

	inv := transport.NewHTTPTransport("inv", srv.URL)
	risk := transport.NewHTTPTransport("risk", srv.URL)
	pf := transport.NewHTTPTransport("pf", srv.URL)

	// nobody has polled yet, so the announcement reaches no one
	early := a2a.NewProtocol("inv", a2a.RoleInvestmentAnalyst).CapabilityQueryMessage("")
	require.True(t, inv.Send(ctx, early))

	for _, tr := range []*transport.HTTPTransport{inv, risk, pf} {
		assert.Nil(t, tr.Receive(ctx))
	}

	p := a2a.NewProtocol("inv", a2a.RoleInvestmentAnalyst)
	require.NoError(t, p.RegisterCapabilities(a2a.CapabilityDescriptor{
		Role:                  a2a.RoleInvestmentAnalyst,
		Capabilities:          []string{"stock_analysis"},
		MaxConcurrentRequests: 1,
		Version:               "1.0.0",
	}))
	reg, err := p.RegistrationMessage()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.True(t, inv.Send(ctx, reg))
	}

	for _, tr := range []*transport.HTTPTransport{risk, pf} {
		for i := 0; i < 3; i++ {
			got := tr.Receive(ctx)
			require.NotNil(t, got)
			assert.Equal(t, a2a.KindRegistration, got.Kind)
			assert.Equal(t, reg.ID, got.ID)
		}
	}
	assert.Nil(t, inv.Receive(ctx), "sender does not get its own registration")

	n, err := mb.Len(ctx, a2a.RegistryID)
	require.NoError(t, err)
	assert.Zero(t, n, "registry envelopes are never queued")
}
