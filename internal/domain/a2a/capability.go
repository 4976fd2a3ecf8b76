package a2a

import (
	"github.com/Masterminds/semver/v3"

	"finmesh/pkg/errors"
)

// Role identifies what kind of analysis an agent performs
type Role string

const (
	RoleInvestmentAnalyst  Role = "investment_analyst"
	RoleRiskAssessor       Role = "risk_assessor"
	RolePortfolioManager   Role = "portfolio_manager"
	RoleMarketResearcher   Role = "market_researcher"
	RoleNewsAnalyzer       Role = "news_analyzer"
	RoleTechnicalAnalyst   Role = "technical_analyst"
	RoleFundamentalAnalyst Role = "fundamental_analyst"
)

var roles = map[Role]struct{}{
	RoleInvestmentAnalyst:  {},
	RoleRiskAssessor:       {},
	RolePortfolioManager:   {},
	RoleMarketResearcher:   {},
	RoleNewsAnalyzer:       {},
	RoleTechnicalAnalyst:   {},
	RoleFundamentalAnalyst: {},
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	_, ok := roles[r]
	return ok
}

func (r Role) String() string {
	return string(r)
}

// CapabilityDescriptor advertises what an agent can do and how fast.
// Field names follow the registration payload exchanged between agents.
type CapabilityDescriptor struct {
	Role                  Role     `json:"role" yaml:"role"`
	Capabilities          []string `json:"capabilities" yaml:"capabilities"`
	SupportedTickers      []string `json:"supported_tickers" yaml:"supported_tickers"`
	SupportedTimeframes   []string `json:"supported_timeframes" yaml:"supported_timeframes"`
	MaxConcurrentRequests int      `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	AvgResponseTime       float64  `json:"response_time_avg" yaml:"response_time_avg"` // seconds
	Version               string   `json:"version" yaml:"version"`
}

// Validate checks the descriptor before it is registered on an adapter
func (d *CapabilityDescriptor) Validate() error {
	if d == nil {
		return errors.Wrap(errors.ErrInvalidCapabilities, "descriptor is nil")
	}
	if !d.Role.Valid() {
		return errors.Wrapf(errors.ErrInvalidCapabilities, "unknown role %q", d.Role)
	}
	if len(d.Capabilities) == 0 {
		return errors.Wrap(errors.ErrInvalidCapabilities, "at least one capability is required")
	}
	if d.MaxConcurrentRequests <= 0 {
		return errors.Wrapf(errors.ErrInvalidCapabilities, "max_concurrent_requests must be positive, got %d", d.MaxConcurrentRequests)
	}
	if d.AvgResponseTime < 0 {
		return errors.Wrapf(errors.ErrInvalidCapabilities, "response_time_avg must not be negative, got %v", d.AvgResponseTime)
	}
	if _, err := semver.NewVersion(d.Version); err != nil {
		return errors.Wrapf(errors.ErrInvalidCapabilities, "version %q: %v", d.Version, err)
	}
	return nil
}

// Clone returns a deep copy so a registered descriptor cannot be mutated by its creator
func (d CapabilityDescriptor) Clone() CapabilityDescriptor {
	d.Capabilities = append([]string(nil), d.Capabilities...)
	d.SupportedTickers = append([]string(nil), d.SupportedTickers...)
	d.SupportedTimeframes = append([]string(nil), d.SupportedTimeframes...)
	return d
}

// HasCapability reports whether tag is advertised
func (d *CapabilityDescriptor) HasCapability(tag string) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// ToPayload renders the descriptor as an envelope payload
func (d *CapabilityDescriptor) ToPayload() map[string]any {
	return map[string]any{
		"role":                    string(d.Role),
		"capabilities":            toAnySlice(d.Capabilities),
		"supported_tickers":       toAnySlice(d.SupportedTickers),
		"supported_timeframes":    toAnySlice(d.SupportedTimeframes),
		"max_concurrent_requests": d.MaxConcurrentRequests,
		"response_time_avg":       d.AvgResponseTime,
		"version":                 d.Version,
	}
}

// CapabilityFromPayload reads a descriptor advertised by a peer.
// Missing fields are left zero; the result is not validated.
func CapabilityFromPayload(payload map[string]any) CapabilityDescriptor {
	return CapabilityDescriptor{
		Role:                  Role(StringField(payload, "role")),
		Capabilities:          StringSliceField(payload, "capabilities"),
		SupportedTickers:      StringSliceField(payload, "supported_tickers"),
		SupportedTimeframes:   StringSliceField(payload, "supported_timeframes"),
		MaxConcurrentRequests: int(NumberField(payload, "max_concurrent_requests")),
		AvgResponseTime:       NumberField(payload, "response_time_avg"),
		Version:               StringField(payload, "version"),
	}
}
