package a2a

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"finmesh/pkg/errors"
)

// RegistryID is the pseudo receiver for registration and capability queries
const RegistryID = "registry"

// Error codes carried in Error envelopes
const (
	CodeUnknown        = "UNKNOWN_ERROR"
	CodeHandlerError   = "HANDLER_ERROR"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeAnalysisFailed = "ANALYSIS_FAILED"
)

// Protocol builds well-formed envelopes on behalf of one agent
type Protocol struct {
	agentID string
	role    Role

	mu           sync.RWMutex
	capabilities *CapabilityDescriptor

	now   func() time.Time
	newID func() string
}

// NewProtocol creates a protocol factory for agentID
func NewProtocol(agentID string, role Role) *Protocol {
	return &Protocol{
		agentID: agentID,
		role:    role,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// AgentID returns the local agent id used as sender
func (p *Protocol) AgentID() string {
	return p.agentID
}

// Role returns the local agent role
func (p *Protocol) Role() Role {
	return p.role
}

// RegisterCapabilities validates and stores a copy of desc. A second call fails.
func (p *Protocol) RegisterCapabilities(desc CapabilityDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capabilities != nil {
		return errors.Wrapf(errors.ErrAlreadyRegistered, "agent %s", p.agentID)
	}
	clone := desc.Clone()
	p.capabilities = &clone
	return nil
}

// Capabilities returns a copy of the registered descriptor
func (p *Protocol) Capabilities() (CapabilityDescriptor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.capabilities == nil {
		return CapabilityDescriptor{}, false
	}
	return p.capabilities.Clone(), true
}

// CreateMessage builds an envelope with a fresh id and the current UTC time
func (p *Protocol) CreateMessage(receiver string, kind Kind, payload map[string]any, priority Priority, correlationID string) *Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	if !priority.Valid() {
		priority = PriorityNormal
	}
	return &Envelope{
		ID:            p.newID(),
		SenderID:      p.agentID,
		ReceiverID:    receiver,
		Kind:          kind,
		Priority:      priority,
		Timestamp:     p.now(),
		Payload:       payload,
		CorrelationID: correlationID,
	}
}

// CreateStockAnalysisRequest wraps a StockAnalysisRequest. An empty timeframe becomes "1m".
func (p *Protocol) CreateStockAnalysisRequest(receiver, ticker, analysisType, timeframe string, userProfile map[string]any) *Envelope {
	if timeframe == "" {
		timeframe = DefaultTimeframe
	}
	req := StockAnalysisRequest{
		Ticker:       ticker,
		AnalysisType: analysisType,
		Timeframe:    timeframe,
		UserProfile:  userProfile,
	}
	return p.CreateMessage(receiver, KindRequest, req.ToPayload(), PriorityHigh, "")
}

// CreatePortfolioAnalysisRequest wraps a PortfolioAnalysisRequest
func (p *Protocol) CreatePortfolioAnalysisRequest(receiver, userID string, portfolioData map[string]any, goals []string) *Envelope {
	req := PortfolioAnalysisRequest{
		UserID:        userID,
		PortfolioData: portfolioData,
		AnalysisGoals: goals,
	}
	return p.CreateMessage(receiver, KindRequest, req.ToPayload(), PriorityHigh, "")
}

// CreateRiskAnalysisRequest wraps a RiskEventRequest, filling default sources and horizon
func (p *Protocol) CreateRiskAnalysisRequest(receiver, ticker string, eventSources []string, timeHorizon string) *Envelope {
	if len(eventSources) == 0 {
		eventSources = DefaultEventSources
	}
	if timeHorizon == "" {
		timeHorizon = DefaultTimeHorizon
	}
	req := RiskEventRequest{
		Ticker:            ticker,
		EventSources:      eventSources,
		TimeHorizon:       timeHorizon,
		SeverityThreshold: DefaultSeverityThreshold,
	}
	return p.CreateMessage(receiver, KindRequest, req.ToPayload(), PriorityHigh, "")
}

// CreateResponse answers original: receiver is its sender and priority is inherited
func (p *Protocol) CreateResponse(original *Envelope, payload map[string]any) *Envelope {
	return p.CreateMessage(original.SenderID, KindResponse, payload, original.Priority, original.ID)
}

// CreateErrorResponse answers original with an Error envelope at High priority
func (p *Protocol) CreateErrorResponse(original *Envelope, message, code string) *Envelope {
	if code == "" {
		code = CodeUnknown
	}
	payload := map[string]any{
		"error_code":       code,
		"error_message":    message,
		"original_request": original.Payload,
	}
	return p.CreateMessage(original.SenderID, KindError, payload, PriorityHigh, original.ID)
}

// CreateHeartbeat builds a liveness ping for receiver
func (p *Protocol) CreateHeartbeat(receiver string) *Envelope {
	payload := map[string]any{
		"agent_id": p.agentID,
		"role":     string(p.role),
	}
	return p.CreateMessage(receiver, KindHeartbeat, payload, PriorityLow, "")
}

// RegistrationMessage announces the registered descriptor to the registry
func (p *Protocol) RegistrationMessage() (*Envelope, error) {
	desc, ok := p.Capabilities()
	if !ok {
		return nil, errors.Wrapf(errors.ErrCapabilitiesNotRegistered, "agent %s", p.agentID)
	}
	return p.CreateMessage(RegistryID, KindRegistration, desc.ToPayload(), PriorityNormal, ""), nil
}

// CapabilityQueryMessage asks the registry for peers, optionally filtered by role
func (p *Protocol) CapabilityQueryMessage(role Role) *Envelope {
	payload := map[string]any{}
	if role != "" {
		payload["target_role"] = string(role)
	}
	return p.CreateMessage(RegistryID, KindCapabilityQuery, payload, PriorityLow, "")
}

// CreateCapabilityResponse answers a capability query with the registered descriptor
func (p *Protocol) CreateCapabilityResponse(query *Envelope) (*Envelope, error) {
	desc, ok := p.Capabilities()
	if !ok {
		return nil, errors.Wrapf(errors.ErrCapabilitiesNotRegistered, "agent %s", p.agentID)
	}
	return p.CreateMessage(query.SenderID, KindCapabilityResponse, desc.ToPayload(), PriorityNormal, query.ID), nil
}

// Serialize encodes env for the wire
func (p *Protocol) Serialize(env *Envelope) ([]byte, error) {
	return Encode(env)
}

// Deserialize decodes and validates an envelope
func (p *Protocol) Deserialize(data []byte) (*Envelope, error) {
	return Decode(data)
}
