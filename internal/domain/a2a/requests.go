package a2a

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Request type tags kept on pending records
const (
	RequestTypeStockAnalysis     = "stock_analysis"
	RequestTypePortfolioAnalysis = "portfolio_analysis"
	RequestTypeRiskAnalysis      = "risk_analysis"
)

// Defaults applied by the protocol factory
const (
	DefaultTimeframe         = "1m"
	DefaultTimeHorizon       = "1d"
	DefaultSeverityThreshold = "medium"
)

// DefaultEventSources is used when a risk request names no sources
var DefaultEventSources = []string{"news", "financial_reports", "market_data"}

// StockAnalysisRequest asks an investment agent to analyze one ticker
type StockAnalysisRequest struct {
	Ticker            string         `json:"ticker"`
	AnalysisType      string         `json:"analysis_type"` // technical, fundamental, risk, comprehensive
	Timeframe         string         `json:"timeframe"`
	UserProfile       map[string]any `json:"user_profile,omitempty"`
	AdditionalContext map[string]any `json:"additional_context,omitempty"`
}

func (r StockAnalysisRequest) ToPayload() map[string]any {
	return map[string]any{
		"ticker":             r.Ticker,
		"analysis_type":      r.AnalysisType,
		"timeframe":          r.Timeframe,
		"user_profile":       nilIfEmpty(r.UserProfile),
		"additional_context": nilIfEmpty(r.AdditionalContext),
	}
}

// StockAnalysisRequestFromPayload reads the request out of an envelope payload
func StockAnalysisRequestFromPayload(p map[string]any) StockAnalysisRequest {
	return StockAnalysisRequest{
		Ticker:            StringField(p, "ticker"),
		AnalysisType:      StringField(p, "analysis_type"),
		Timeframe:         StringField(p, "timeframe"),
		UserProfile:       MapField(p, "user_profile"),
		AdditionalContext: MapField(p, "additional_context"),
	}
}

// PortfolioAnalysisRequest asks a portfolio agent to evaluate a user's holdings
type PortfolioAnalysisRequest struct {
	UserID        string         `json:"user_id"`
	PortfolioData map[string]any `json:"portfolio_data"`
	AnalysisGoals []string       `json:"analysis_goals"` // risk_assessment, optimization, rebalancing
	Constraints   map[string]any `json:"constraints,omitempty"`
}

func (r PortfolioAnalysisRequest) ToPayload() map[string]any {
	data := r.PortfolioData
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"user_id":        r.UserID,
		"portfolio_data": data,
		"analysis_goals": toAnySlice(r.AnalysisGoals),
		"constraints":    nilIfEmpty(r.Constraints),
	}
}

// PortfolioAnalysisRequestFromPayload reads the request out of an envelope payload
func PortfolioAnalysisRequestFromPayload(p map[string]any) PortfolioAnalysisRequest {
	return PortfolioAnalysisRequest{
		UserID:        StringField(p, "user_id"),
		PortfolioData: MapField(p, "portfolio_data"),
		AnalysisGoals: StringSliceField(p, "analysis_goals"),
		Constraints:   MapField(p, "constraints"),
	}
}

// RiskEventRequest asks a risk agent to scan event sources for a ticker
type RiskEventRequest struct {
	Ticker            string   `json:"ticker"`
	EventSources      []string `json:"event_sources"`
	TimeHorizon       string   `json:"time_horizon"`       // 1h, 1d, 1w, 1m
	SeverityThreshold string   `json:"severity_threshold"` // low, medium, high, critical
}

func (r RiskEventRequest) ToPayload() map[string]any {
	return map[string]any{
		"ticker":             r.Ticker,
		"event_sources":      toAnySlice(r.EventSources),
		"time_horizon":       r.TimeHorizon,
		"severity_threshold": r.SeverityThreshold,
	}
}

// RiskEventRequestFromPayload reads the request out of an envelope payload
func RiskEventRequestFromPayload(p map[string]any) RiskEventRequest {
	return RiskEventRequest{
		Ticker:            StringField(p, "ticker"),
		EventSources:      StringSliceField(p, "event_sources"),
		TimeHorizon:       StringField(p, "time_horizon"),
		SeverityThreshold: StringField(p, "severity_threshold"),
	}
}

// StringField returns p[key] if it is a string, "" otherwise
func StringField(p map[string]any, key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// NumberField returns p[key] as float64 for any numeric or numeric-string value, 0 otherwise
func NumberField(p map[string]any, key string) float64 {
	n, _ := Number(p[key])
	return n
}

// Number converts the numeric shapes a payload value can take after decoding or in-process construction
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// MapField returns p[key] if it is an object, nil otherwise
func MapField(p map[string]any, key string) map[string]any {
	if m, ok := p[key].(map[string]any); ok {
		return m
	}
	return nil
}

// StringSliceField returns the string elements of p[key]
func StringSliceField(p map[string]any, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func nilIfEmpty(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}
