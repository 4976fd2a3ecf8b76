package integration

import (
	"time"

	"finmesh/internal/services/agent"
)

// Branch names used in results, metrics and the adapter map
const (
	BranchInvestment = "investment"
	BranchRisk       = "risk"
	BranchPortfolio  = "portfolio"
)

// branchOrder fixes the order adapters are started, merged and reported in
var branchOrder = []string{BranchInvestment, BranchRisk, BranchPortfolio}

// Recommendation is one action proposed by the merge
type Recommendation struct {
	Action     string   `json:"action"`
	Confidence string   `json:"confidence"`
	Score      *float64 `json:"score,omitempty"`
	Reasoning  string   `json:"reasoning"`
}

// AggregatedResult is the outcome of one collaborative analysis
type AggregatedResult struct {
	Ticker             string           `json:"ticker"`
	Timestamp          time.Time        `json:"timestamp"`
	AnalysisType       string           `json:"analysis_type"`
	AgentsUsed         []string         `json:"agents_used"`
	IntegratedScore    float64          `json:"integrated_score"`
	Recommendations    []Recommendation `json:"recommendations"`
	RiskAssessment     map[string]any   `json:"risk_assessment"`
	InvestmentAnalysis map[string]any   `json:"investment_analysis"`
	PortfolioImpact    map[string]any   `json:"portfolio_impact"`
	ConfidenceScore    float64          `json:"confidence_score"`
	Error              string           `json:"error,omitempty"`
}

// ExternalAgent is a remote peer the manager may connect to
type ExternalAgent struct {
	AgentID  string `json:"agent_id" yaml:"agent_id"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Role     string `json:"role" yaml:"role"`
}

// ExternalRequest is an analysis request coming from outside the mesh
type ExternalRequest struct {
	Type   string `json:"type"` // stock_analysis | portfolio_analysis
	Ticker string `json:"ticker,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// ExternalResponse carries either an analysis or an error message
type ExternalResponse struct {
	Analysis          *AggregatedResult `json:"analysis,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	PortfolioAnalysis map[string]any    `json:"portfolio_analysis,omitempty"`
	PortfolioData     map[string]any    `json:"portfolio_data,omitempty"`
	Error             string            `json:"error,omitempty"`
}

// Status is a read-only snapshot of the manager
type Status struct {
	Initialized      bool                           `json:"initialized"`
	Transport        string                         `json:"transport"`
	RegistryEndpoint string                         `json:"registry_endpoint"`
	Adapters         map[string]agent.AdapterStatus `json:"adapters"`
	StartedAt        *time.Time                     `json:"started_at,omitempty"`
	Uptime           string                         `json:"uptime,omitempty"`
	Timestamp        time.Time                      `json:"timestamp"`
}
