package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_Scores(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		results    map[string]map[string]any
		wantScore  float64
		wantAction string
		wantConf   string
		wantAgents []string
	}{
		{
			name: "all three branches land in SELL",
			results: map[string]map[string]any{
				BranchInvestment: {"overall_score": 80.0},
				BranchRisk:       {"overall_risk_score": 20.0, "risk_level": "low"},
				BranchPortfolio:  {"overall_score": 60.0},
			},
			wantScore:  26,
			wantAction: "SELL",
			wantConf:   "HIGH",
			wantAgents: []string{BranchInvestment, BranchRisk, BranchPortfolio},
		},
		{
			name: "strong buy at threshold",
			results: map[string]map[string]any{
				BranchInvestment: {"overall_score": 100},
				BranchRisk:       {"overall_risk_score": 100},
				BranchPortfolio:  {"overall_score": 100},
			},
			wantScore:  70,
			wantAction: "STRONG_BUY",
			wantConf:   "HIGH",
			wantAgents: []string{BranchInvestment, BranchRisk, BranchPortfolio},
		},
		{
			name: "buy",
			results: map[string]map[string]any{
				BranchInvestment: {"overall_score": 100},
				BranchPortfolio:  {"overall_score": 40},
			},
			wantScore:  52,
			wantAction: "BUY",
			wantConf:   "MEDIUM",
			wantAgents: []string{BranchInvestment, BranchPortfolio},
		},
		{
			name: "hold at threshold",
			results: map[string]map[string]any{
				BranchInvestment: {"overall_score": 75},
			},
			wantScore:  30,
			wantAction: "HOLD",
			wantConf:   "MEDIUM",
			wantAgents: []string{BranchInvestment},
		},
		{
			name: "negative total is clamped to zero",
			results: map[string]map[string]any{
				BranchRisk: {"overall_risk_score": 0},
			},
			wantScore:  0,
			wantAction: "SELL",
			wantConf:   "HIGH",
			wantAgents: []string{BranchRisk},
		},
		{
			name: "risk score above 100 adds nothing",
			results: map[string]map[string]any{
				BranchInvestment: {"overall_score": 50},
				BranchRisk:       {"overall_risk_score": 140},
			},
			wantScore:  20,
			wantAction: "SELL",
			wantConf:   "HIGH",
			wantAgents: []string{BranchInvestment, BranchRisk},
		},
		{
			name:       "no branches",
			results:    nil,
			wantScore:  0,
			wantAction: "SELL",
			wantConf:   "HIGH",
			wantAgents: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Merge("AAPL", tt.results, now)
			assert.Equal(t, "AAPL", res.Ticker)
			assert.Equal(t, "collaborative", res.AnalysisType)
			assert.Equal(t, now, res.Timestamp)
			assert.InDelta(t, tt.wantScore, res.IntegratedScore, 1e-9)
			assert.Equal(t, tt.wantAgents, res.AgentsUsed)
			require.NotEmpty(t, res.Recommendations)
			assert.Equal(t, tt.wantAction, res.Recommendations[0].Action)
			assert.Equal(t, tt.wantConf, res.Recommendations[0].Confidence)
			require.NotNil(t, res.Recommendations[0].Score)
			assert.InDelta(t, tt.wantScore, *res.Recommendations[0].Score, 1e-9)
		})
	}
}

func TestMerge_RiskAndInvestmentRecommendations(t *testing.T) {
	res := Merge("TSLA", map[string]map[string]any{
		BranchInvestment: {
			"overall_score": 90,
			"recommendations": []any{
				map[string]any{"recommendation": "ACCUMULATE", "confidence": "LOW"},
				map[string]any{"note": "no recommendation key"},
				"not a map",
				map[string]any{"recommendation": "TRIM"},
			},
		},
		BranchRisk: {"overall_risk_score": 90, "risk_level": "Critical"},
	}, time.Now())

	actions := make([]string, 0, len(res.Recommendations))
	for _, r := range res.Recommendations {
		actions = append(actions, r.Action)
	}
	assert.Equal(t, []string{"BUY", "REDUCE_POSITION", "ACCUMULATE", "TRIM"}, actions)
	assert.Equal(t, "LOW", res.Recommendations[2].Confidence)
	assert.Equal(t, "MEDIUM", res.Recommendations[3].Confidence)
	assert.Nil(t, res.Recommendations[1].Score)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]map[string]any
		want    float64
	}{
		{name: "no agents", results: nil, want: 0},
		{
			name:    "agents without signal",
			results: map[string]map[string]any{BranchRisk: {"overall_risk_score": 10}},
			want:    0.5,
		},
		{
			name: "numeric wins over label",
			results: map[string]map[string]any{
				BranchInvestment: {"confidence_score": 0.9, "confidence": "low"},
			},
			want: 0.9,
		},
		{
			name: "labels are mapped",
			results: map[string]map[string]any{
				BranchInvestment: {"confidence": "HIGH"},
				BranchRisk:       {"confidence": "medium"},
				BranchPortfolio:  {"confidence": "Low"},
			},
			want: 0.6,
		},
		{
			name: "unknown labels are ignored",
			results: map[string]map[string]any{
				BranchInvestment: {"confidence": "unsure"},
				BranchRisk:       {"confidence_score": 0.3},
			},
			want: 0.3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, confidence(tt.results), 1e-9)
		})
	}
}
