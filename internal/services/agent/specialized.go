package agent

import (
	"context"

	"finmesh/internal/adapters/transport"
	"finmesh/internal/domain/a2a"
	"finmesh/internal/domain/analysis"
	"finmesh/pkg/errors"
)

// NewInvestmentAdapter answers stock analysis requests with analyzer
func NewInvestmentAdapter(agentID string, tr transport.Transport, analyzer analysis.InvestmentAnalyzer, cfg Config, peers a2a.PeerStore) *Adapter {
	a := NewAdapter(agentID, a2a.RoleInvestmentAnalyst, tr, cfg, peers)
	a.RegisterHandler(a2a.KindRequest, func(ctx context.Context, env *a2a.Envelope) error {
		req := a2a.StockAnalysisRequestFromPayload(env.Payload)
		if req.Ticker == "" {
			return invalidRequest("ticker is required")
		}
		if req.AnalysisType == "" {
			req.AnalysisType = "comprehensive"
		}

		a.log.Infow("Stock analysis requested", "ticker", req.Ticker, "analysis_type", req.AnalysisType, "sender_id", env.SenderID)
		result, err := analyzer.AnalyzeStock(ctx, req.Ticker, req.AnalysisType, req.Timeframe, req.UserProfile)
		if err != nil {
			return analysisFailed(err)
		}
		a.Reply(ctx, env, result)
		return nil
	})
	return a
}

// NewRiskAdapter answers risk event requests with analyzer
func NewRiskAdapter(agentID string, tr transport.Transport, analyzer analysis.RiskAnalyzer, cfg Config, peers a2a.PeerStore) *Adapter {
	a := NewAdapter(agentID, a2a.RoleRiskAssessor, tr, cfg, peers)
	a.RegisterHandler(a2a.KindRequest, func(ctx context.Context, env *a2a.Envelope) error {
		req := a2a.RiskEventRequestFromPayload(env.Payload)
		if req.Ticker == "" {
			return invalidRequest("ticker is required")
		}
		if len(req.EventSources) == 0 {
			req.EventSources = a2a.DefaultEventSources
		}
		if req.TimeHorizon == "" {
			req.TimeHorizon = a2a.DefaultTimeHorizon
		}

		a.log.Infow("Risk analysis requested", "ticker", req.Ticker, "sources", req.EventSources, "sender_id", env.SenderID)
		result, err := analyzer.AnalyzeRisk(ctx, req.Ticker, req.EventSources, req.TimeHorizon)
		if err != nil {
			return analysisFailed(err)
		}
		a.Reply(ctx, env, result)
		return nil
	})
	return a
}

// NewPortfolioAdapter answers portfolio analysis requests with analyzer
func NewPortfolioAdapter(agentID string, tr transport.Transport, analyzer analysis.PortfolioAnalyzer, cfg Config, peers a2a.PeerStore) *Adapter {
	a := NewAdapter(agentID, a2a.RolePortfolioManager, tr, cfg, peers)
	a.RegisterHandler(a2a.KindRequest, func(ctx context.Context, env *a2a.Envelope) error {
		req := a2a.PortfolioAnalysisRequestFromPayload(env.Payload)
		if req.UserID == "" {
			return invalidRequest("user_id is required")
		}

		a.log.Infow("Portfolio analysis requested", "user_id", req.UserID, "goals", req.AnalysisGoals, "sender_id", env.SenderID)
		result, err := analyzer.AnalyzePortfolio(ctx, req.UserID, req.PortfolioData, req.AnalysisGoals)
		if err != nil {
			return analysisFailed(err)
		}
		a.Reply(ctx, env, result)
		return nil
	})
	return a
}

func invalidRequest(msg string) error {
	return errors.NewDomainError(a2a.CodeInvalidRequest, msg, errors.ErrInvalidInput)
}

func analysisFailed(err error) error {
	return errors.NewDomainError(a2a.CodeAnalysisFailed, err.Error(), err)
}
