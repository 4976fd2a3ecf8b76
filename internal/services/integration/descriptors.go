package integration

import (
	"os"

	"gopkg.in/yaml.v3"

	"finmesh/internal/domain/a2a"
	"finmesh/pkg/errors"
)

var watchlist = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "TSLA", "META", "NVDA", "NFLX"}

// DefaultDescriptors returns the built-in capability descriptors keyed by branch name
func DefaultDescriptors() map[string]a2a.CapabilityDescriptor {
	return map[string]a2a.CapabilityDescriptor{
		BranchInvestment: {
			Role: a2a.RoleInvestmentAnalyst,
			Capabilities: []string{
				"stock_analysis", "technical_analysis", "fundamental_analysis",
				"investment_recommendations", "portfolio_optimization",
				"risk_assessment", "market_research",
			},
			SupportedTickers:      watchlist,
			SupportedTimeframes:   []string{"1d", "1w", "1m", "3m", "6m", "1y", "5y"},
			MaxConcurrentRequests: 10,
			AvgResponseTime:       2.5,
			Version:               "1.0.0",
		},
		BranchRisk: {
			Role: a2a.RoleRiskAssessor,
			Capabilities: []string{
				"risk_event_detection", "risk_scoring", "risk_factor_analysis",
				"news_sentiment_analysis", "market_volatility_assessment",
				"portfolio_risk_analysis", "stress_testing",
			},
			SupportedTickers:      watchlist,
			SupportedTimeframes:   []string{"1h", "1d", "1w", "1m"},
			MaxConcurrentRequests: 15,
			AvgResponseTime:       1.8,
			Version:               "1.0.0",
		},
		BranchPortfolio: {
			Role: a2a.RolePortfolioManager,
			Capabilities: []string{
				"portfolio_analysis", "position_management", "rebalancing",
				"performance_tracking", "diversification_analysis",
				"sector_allocation", "risk_metrics_calculation",
			},
			SupportedTickers:      watchlist,
			SupportedTimeframes:   []string{"1d", "1w", "1m", "3m", "6m", "1y"},
			MaxConcurrentRequests: 8,
			AvgResponseTime:       3.2,
			Version:               "1.0.0",
		},
	}
}

// LoadDescriptors returns the defaults with entries from the YAML file at path
// replacing whole descriptors. An empty path returns the defaults.
func LoadDescriptors(path string) (map[string]a2a.CapabilityDescriptor, error) {
	descs := DefaultDescriptors()
	if path == "" {
		return descs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read capabilities file %s", path)
	}

	var overrides map[string]a2a.CapabilityDescriptor
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidCapabilities, "parse %s: %v", path, err)
	}

	for name, desc := range overrides {
		if _, known := descs[name]; !known {
			return nil, errors.Wrapf(errors.ErrInvalidCapabilities, "unknown agent %q in %s", name, path)
		}
		if err := desc.Validate(); err != nil {
			return nil, errors.Wrapf(err, "descriptor %q", name)
		}
		descs[name] = desc
	}
	return descs, nil
}
