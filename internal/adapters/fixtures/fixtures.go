package fixtures

import (
	"context"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"finmesh/internal/domain/analysis"
	"finmesh/pkg/errors"
)

// Set is a canned response table
type Set struct {
	Default map[string]any            `yaml:"default"`
	ByKey   map[string]map[string]any `yaml:"by_key"`
	// Fail lists keys whose analysis returns an error
	Fail []string `yaml:"fail"`
}

func (s Set) lookup(key string) (map[string]any, error) {
	for _, f := range s.Fail {
		if strings.EqualFold(f, key) {
			return nil, errors.Wrapf(errors.ErrUnavailable, "fixture failure for %s", key)
		}
	}
	src, ok := s.ByKey[strings.ToUpper(key)]
	if !ok {
		src, ok = s.ByKey[key]
	}
	if !ok {
		src = s.Default
	}
	out := make(map[string]any, len(src)+2)
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

// Fixtures serves canned analyses and profiles. It implements every
// collaborator interface so demos and tests run without market data.
type Fixtures struct {
	Investment Set                       `yaml:"investment"`
	Risk       Set                       `yaml:"risk"`
	Portfolio  Set                       `yaml:"portfolio"`
	Profiles   map[string]map[string]any `yaml:"profiles"`
	Portfolios map[string]map[string]any `yaml:"portfolios"`
	// Delay is added to every analysis call
	Delay time.Duration `yaml:"delay"`
}

var (
	_ analysis.InvestmentAnalyzer = (*Fixtures)(nil)
	_ analysis.RiskAnalyzer       = (*Fixtures)(nil)
	_ analysis.PortfolioAnalyzer  = (*Fixtures)(nil)
	_ analysis.ProfileStore       = (*Fixtures)(nil)
)

// Load reads fixtures from a YAML file. An empty path returns Default().
func Load(path string) (*Fixtures, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read fixtures %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML fixtures
func Parse(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "parse fixtures: %v", err)
	}
	return &f, nil
}

// Default returns the built-in demo data
func Default() *Fixtures {
	return &Fixtures{
		Investment: Set{
			Default: map[string]any{
				"overall_score":    65.0,
				"confidence_score": 0.7,
				"recommendations": []any{
					map[string]any{"recommendation": "ACCUMULATE", "confidence": "MEDIUM", "reasoning": "trend and valuation are neutral to positive"},
				},
			},
		},
		Risk: Set{
			Default: map[string]any{
				"overall_risk_score": 35.0,
				"risk_level":         "medium",
				"confidence":         "medium",
				"risk_factors":       []any{"sector volatility"},
			},
		},
		Portfolio: Set{
			Default: map[string]any{
				"overall_score": 60.0,
				"confidence":    "high",
			},
		},
		Profiles: map[string]map[string]any{
			"demo_user": {"risk_tolerance": "moderate", "investment_horizon": "long_term"},
		},
		Portfolios: map[string]map[string]any{
			"demo_user": {"holdings": map[string]any{"AAPL": 10.0, "MSFT": 5.0}, "cash": 2500.0},
		},
	}
}

func (f *Fixtures) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(f.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AnalyzeStock returns the investment fixture for ticker
func (f *Fixtures) AnalyzeStock(ctx context.Context, ticker, analysisType, timeframe string, _ map[string]any) (analysis.Result, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	res, err := f.Investment.lookup(ticker)
	if err != nil {
		return nil, err
	}
	res["ticker"] = ticker
	res["analysis_type"] = analysisType
	res["timeframe"] = timeframe
	return res, nil
}

// AnalyzeRisk returns the risk fixture for ticker
func (f *Fixtures) AnalyzeRisk(ctx context.Context, ticker string, eventSources []string, timeHorizon string) (analysis.Result, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	res, err := f.Risk.lookup(ticker)
	if err != nil {
		return nil, err
	}
	res["ticker"] = ticker
	res["time_horizon"] = timeHorizon
	res["event_sources"] = append([]string(nil), eventSources...)
	return res, nil
}

// AnalyzePortfolio returns the portfolio fixture for userID
func (f *Fixtures) AnalyzePortfolio(ctx context.Context, userID string, portfolioData map[string]any, goals []string) (analysis.Result, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	res, err := f.Portfolio.lookup(userID)
	if err != nil {
		return nil, err
	}
	res["user_id"] = userID
	res["analysis_goals"] = append([]string(nil), goals...)
	res["positions"] = len(portfolioData)
	return res, nil
}

// GetUserProfile returns the profile of userID, or nil when unknown
func (f *Fixtures) GetUserProfile(_ context.Context, userID string) (map[string]any, error) {
	return f.Profiles[userID], nil
}

// GetPortfolioData returns the holdings of userID, or nil when unknown
func (f *Fixtures) GetPortfolioData(_ context.Context, userID string) (map[string]any, error) {
	return f.Portfolios[userID], nil
}
