package a2a

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finmesh/pkg/errors"
)

func testDescriptor() CapabilityDescriptor {
	return CapabilityDescriptor{
		Role:                  RoleInvestmentAnalyst,
		Capabilities:          []string{"stock_analysis", "technical_analysis"},
		SupportedTickers:      []string{"AAPL", "MSFT"},
		SupportedTimeframes:   []string{"1d", "1m"},
		MaxConcurrentRequests: 10,
		AvgResponseTime:       2.5,
		Version:               "1.0.0",
	}
}

func TestProtocol_CreateMessage(t *testing.T) {
	p := NewProtocol("investment_agent_001", RoleInvestmentAnalyst)

	env := p.CreateMessage("risk_agent_001", KindHeartbeat, nil, 0, "")

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "investment_agent_001", env.SenderID)
	assert.Equal(t, "risk_agent_001", env.ReceiverID)
	assert.Equal(t, PriorityNormal, env.Priority)
	assert.NotNil(t, env.Payload)
	assert.Equal(t, time.UTC, env.Timestamp.Location())
	assert.WithinDuration(t, time.Now(), env.Timestamp, time.Second)

	other := p.CreateMessage("risk_agent_001", KindHeartbeat, nil, PriorityLow, "")
	assert.NotEqual(t, env.ID, other.ID)
}

func TestProtocol_TypedRequests(t *testing.T) {
	p := NewProtocol("investment_agent_001", RoleInvestmentAnalyst)

	tests := []struct {
		name    string
		env     *Envelope
		payload map[string]any
	}{
		{
			name: "stock analysis with default timeframe",
			env:  p.CreateStockAnalysisRequest("investment_agent_001", "AAPL", "comprehensive", "", nil),
			payload: map[string]any{
				"ticker":             "AAPL",
				"analysis_type":      "comprehensive",
				"timeframe":          "1m",
				"user_profile":       nil,
				"additional_context": nil,
			},
		},
		{
			name: "portfolio analysis",
			env: p.CreatePortfolioAnalysisRequest("portfolio_agent_001", "user_42",
				map[string]any{"cash": 1000.0}, []string{"optimization"}),
			payload: map[string]any{
				"user_id":        "user_42",
				"portfolio_data": map[string]any{"cash": 1000.0},
				"analysis_goals": []any{"optimization"},
				"constraints":    nil,
			},
		},
		{
			name: "risk analysis with defaults",
			env:  p.CreateRiskAnalysisRequest("risk_agent_001", "TSLA", nil, ""),
			payload: map[string]any{
				"ticker":             "TSLA",
				"event_sources":      []any{"news", "financial_reports", "market_data"},
				"time_horizon":       "1d",
				"severity_threshold": "medium",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, KindRequest, tt.env.Kind)
			assert.Equal(t, PriorityHigh, tt.env.Priority)
			assert.Empty(t, tt.env.CorrelationID)
			assert.Equal(t, tt.payload, tt.env.Payload)
			require.NoError(t, tt.env.Validate())
		})
	}
}

func TestProtocol_CorrelationInvariant(t *testing.T) {
	requester := NewProtocol("investment_agent_001", RoleInvestmentAnalyst)
	responder := NewProtocol("risk_agent_001", RoleRiskAssessor)

	req := requester.CreateRiskAnalysisRequest("risk_agent_001", "NVDA", nil, "")
	req.Priority = PriorityCritical

	resp := responder.CreateResponse(req, map[string]any{"overall_risk_score": 40.0})
	assert.Equal(t, KindResponse, resp.Kind)
	assert.Equal(t, req.ID, resp.CorrelationID)
	assert.Equal(t, req.SenderID, resp.ReceiverID)
	assert.Equal(t, PriorityCritical, resp.Priority)
	require.NoError(t, resp.Validate())

	errEnv := responder.CreateErrorResponse(req, "boom", "")
	assert.Equal(t, KindError, errEnv.Kind)
	assert.Equal(t, req.ID, errEnv.CorrelationID)
	assert.Equal(t, req.SenderID, errEnv.ReceiverID)
	assert.Equal(t, PriorityHigh, errEnv.Priority)
	assert.Equal(t, CodeUnknown, errEnv.Payload["error_code"])
	assert.Equal(t, "boom", errEnv.Payload["error_message"])
	assert.Equal(t, req.Payload, errEnv.Payload["original_request"])
}

func TestProtocol_RegistrationRequiresCapabilities(t *testing.T) {
	p := NewProtocol("investment_agent_001", RoleInvestmentAnalyst)

	env, err := p.RegistrationMessage()
	assert.Nil(t, env)
	assert.True(t, errors.Is(err, errors.ErrCapabilitiesNotRegistered))

	require.NoError(t, p.RegisterCapabilities(testDescriptor()))

	env, err = p.RegistrationMessage()
	require.NoError(t, err)
	assert.Equal(t, RegistryID, env.ReceiverID)
	assert.Equal(t, KindRegistration, env.Kind)
	assert.Equal(t, "investment_analyst", env.Payload["role"])
	assert.Equal(t, "1.0.0", env.Payload["version"])
}

func TestProtocol_RegisterCapabilitiesOnce(t *testing.T) {
	p := NewProtocol("investment_agent_001", RoleInvestmentAnalyst)
	desc := testDescriptor()

	require.NoError(t, p.RegisterCapabilities(desc))
	err := p.RegisterCapabilities(desc)
	assert.True(t, errors.Is(err, errors.ErrAlreadyRegistered))

	// the stored copy is detached from the caller's slices
	desc.Capabilities[0] = "mutated"
	got, ok := p.Capabilities()
	require.True(t, ok)
	assert.Equal(t, "stock_analysis", got.Capabilities[0])
}

func TestProtocol_CapabilityQueryAndResponse(t *testing.T) {
	asker := NewProtocol("portfolio_agent_001", RolePortfolioManager)
	answerer := NewProtocol("investment_agent_001", RoleInvestmentAnalyst)

	query := asker.CapabilityQueryMessage(RoleInvestmentAnalyst)
	assert.Equal(t, RegistryID, query.ReceiverID)
	assert.Equal(t, PriorityLow, query.Priority)
	assert.Equal(t, "investment_analyst", query.Payload["target_role"])

	assert.Empty(t, asker.CapabilityQueryMessage("").Payload)

	_, err := answerer.CreateCapabilityResponse(query)
	assert.True(t, errors.Is(err, errors.ErrCapabilitiesNotRegistered))

	require.NoError(t, answerer.RegisterCapabilities(testDescriptor()))
	resp, err := answerer.CreateCapabilityResponse(query)
	require.NoError(t, err)
	assert.Equal(t, KindCapabilityResponse, resp.Kind)
	assert.Equal(t, query.ID, resp.CorrelationID)
	assert.Equal(t, "portfolio_agent_001", resp.ReceiverID)
}

func TestProtocol_Heartbeat(t *testing.T) {
	p := NewProtocol("risk_agent_001", RoleRiskAssessor)

	hb := p.CreateHeartbeat("investment_agent_001")

	assert.Equal(t, KindHeartbeat, hb.Kind)
	assert.Equal(t, "risk_agent_001", hb.Payload["agent_id"])
	assert.Equal(t, "risk_assessor", hb.Payload["role"])
}
