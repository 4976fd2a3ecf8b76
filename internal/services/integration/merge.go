package integration

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finmesh/internal/domain/a2a"
)

var (
	investmentWeight = decimal.RequireFromString("0.4")
	portfolioWeight  = decimal.RequireFromString("0.3")
	riskWeight       = decimal.RequireFromString("0.3")
	scoreMax         = decimal.NewFromInt(100)
)

// Score thresholds, inclusive
const (
	strongBuyThreshold = 70
	buyThreshold       = 50
	holdThreshold      = 30
)

// Merge combines branch results into one scored recommendation.
// The score is investment*0.4 + portfolio*0.3 - max(0, 100-risk)*0.3, clamped to [0,100].
func Merge(ticker string, results map[string]map[string]any, now time.Time) *AggregatedResult {
	out := &AggregatedResult{
		Ticker:             ticker,
		Timestamp:          now.UTC(),
		AnalysisType:       "collaborative",
		AgentsUsed:         []string{},
		Recommendations:    []Recommendation{},
		RiskAssessment:     map[string]any{},
		InvestmentAnalysis: map[string]any{},
		PortfolioImpact:    map[string]any{},
	}

	score := decimal.Zero
	for _, name := range branchOrder {
		res, ok := results[name]
		if !ok {
			continue
		}
		out.AgentsUsed = append(out.AgentsUsed, name)

		switch name {
		case BranchInvestment:
			out.InvestmentAnalysis = res
			if v, ok := a2a.Number(res["overall_score"]); ok {
				score = score.Add(decimal.NewFromFloat(v).Mul(investmentWeight))
			}
		case BranchRisk:
			out.RiskAssessment = res
			if v, ok := a2a.Number(res["overall_risk_score"]); ok {
				penalty := decimal.Max(decimal.Zero, scoreMax.Sub(decimal.NewFromFloat(v)))
				score = score.Sub(penalty.Mul(riskWeight))
			}
		case BranchPortfolio:
			out.PortfolioImpact = res
			if v, ok := a2a.Number(res["overall_score"]); ok {
				score = score.Add(decimal.NewFromFloat(v).Mul(portfolioWeight))
			}
		}
	}

	score = decimal.Min(scoreMax, decimal.Max(decimal.Zero, score)).Round(2)
	out.IntegratedScore = score.InexactFloat64()
	out.Recommendations = recommend(out.IntegratedScore, out.RiskAssessment, out.InvestmentAnalysis)
	out.ConfidenceScore = confidence(results)
	return out
}

func recommend(score float64, risk, investment map[string]any) []Recommendation {
	var action, conf string
	switch {
	case score >= strongBuyThreshold:
		action, conf = "STRONG_BUY", "HIGH"
	case score >= buyThreshold:
		action, conf = "BUY", "MEDIUM"
	case score >= holdThreshold:
		action, conf = "HOLD", "MEDIUM"
	default:
		action, conf = "SELL", "HIGH"
	}

	s := score
	recs := []Recommendation{{
		Action:     action,
		Confidence: conf,
		Score:      &s,
		Reasoning:  fmt.Sprintf("integrated analysis score %.1f", score),
	}}

	switch level := strings.ToLower(a2a.StringField(risk, "risk_level")); level {
	case "high", "critical":
		recs = append(recs, Recommendation{
			Action:     "REDUCE_POSITION",
			Confidence: "HIGH",
			Reasoning:  "elevated risk level: " + level,
		})
	}

	if entries, ok := investment["recommendations"].([]any); ok {
		for _, e := range entries {
			rec, ok := e.(map[string]any)
			if !ok {
				continue
			}
			action, ok := rec["recommendation"]
			if !ok {
				continue
			}
			c := a2a.StringField(rec, "confidence")
			if c == "" {
				c = "MEDIUM"
			}
			recs = append(recs, Recommendation{
				Action:     fmt.Sprint(action),
				Confidence: c,
				Reasoning:  "investment agent recommendation",
			})
		}
	}
	return recs
}

// confidence averages the per-branch confidence signals. A numeric
// confidence_score wins over a coarse confidence label.
func confidence(results map[string]map[string]any) float64 {
	if len(results) == 0 {
		return 0
	}

	total := decimal.Zero
	count := 0
	for _, name := range branchOrder {
		res, ok := results[name]
		if !ok {
			continue
		}
		if v, ok := a2a.Number(res["confidence_score"]); ok {
			total = total.Add(decimal.NewFromFloat(v))
			count++
			continue
		}
		if v, ok := labelConfidence(a2a.StringField(res, "confidence")); ok {
			total = total.Add(v)
			count++
		}
	}

	if count == 0 {
		return 0.5
	}
	return total.Div(decimal.NewFromInt(int64(count))).Round(4).InexactFloat64()
}

func labelConfidence(label string) (decimal.Decimal, bool) {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "high"):
		return decimal.RequireFromString("0.8"), true
	case strings.Contains(l, "medium"):
		return decimal.RequireFromString("0.6"), true
	case strings.Contains(l, "low"):
		return decimal.RequireFromString("0.4"), true
	}
	return decimal.Zero, false
}
