package analysis

import "context"

// Result is the structured output of an analysis collaborator.
// The merge reads overall_score, overall_risk_score, risk_level,
// recommendations, confidence_score and confidence.
type Result = map[string]any

// InvestmentAnalyzer produces a scored investment view of a ticker
type InvestmentAnalyzer interface {
	AnalyzeStock(ctx context.Context, ticker, analysisType, timeframe string, userProfile map[string]any) (Result, error)
}

// RiskAnalyzer scans event sources for risk on a ticker
type RiskAnalyzer interface {
	AnalyzeRisk(ctx context.Context, ticker string, eventSources []string, timeHorizon string) (Result, error)
}

// PortfolioAnalyzer evaluates a user's holdings
type PortfolioAnalyzer interface {
	AnalyzePortfolio(ctx context.Context, userID string, portfolioData map[string]any, goals []string) (Result, error)
}

// ProfileStore reads persisted investor profiles and portfolios
type ProfileStore interface {
	// GetUserProfile returns the profile, or nil with no error when the user is unknown
	GetUserProfile(ctx context.Context, userID string) (map[string]any, error)

	// GetPortfolioData returns the holdings of a user, or nil when there are none
	GetPortfolioData(ctx context.Context, userID string) (map[string]any, error)
}
