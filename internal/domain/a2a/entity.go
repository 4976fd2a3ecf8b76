package a2a

import (
	"encoding/json"
	"strings"
	"time"

	"finmesh/pkg/errors"
)

// Kind is the interaction kind of an envelope
type Kind string

const (
	KindRequest            Kind = "request"
	KindResponse           Kind = "response"
	KindError              Kind = "error"
	KindHeartbeat          Kind = "heartbeat"
	KindRegistration       Kind = "registration"
	KindCapabilityQuery    Kind = "capability_query"
	KindCapabilityResponse Kind = "capability_response"
)

// Kinds lists every supported kind in dispatch table order
var Kinds = []Kind{
	KindRequest,
	KindResponse,
	KindError,
	KindHeartbeat,
	KindRegistration,
	KindCapabilityQuery,
	KindCapabilityResponse,
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// Priority is advisory only; no component reorders by it
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// Valid reports whether p is one of the four ordinals
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the priority as its name, not the ordinal
func (p Priority) MarshalText() ([]byte, error) {
	name, ok := priorityNames[p]
	if !ok {
		return nil, errors.Wrapf(errors.ErrMalformedEnvelope, "invalid priority %d", int(p))
	}
	return []byte(name), nil
}

// UnmarshalJSON accepts the priority name or, for older peers, its ordinal
func (p *Priority) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] != '"' {
		var ordinal int
		if err := json.Unmarshal(data, &ordinal); err != nil {
			return errors.Wrapf(errors.ErrMalformedEnvelope, "priority %s", string(data))
		}
		if !Priority(ordinal).Valid() {
			return errors.Wrapf(errors.ErrMalformedEnvelope, "invalid priority %d", ordinal)
		}
		*p = Priority(ordinal)
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return errors.Wrapf(errors.ErrMalformedEnvelope, "priority %s", string(data))
	}
	parsed, err := ParsePriority(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority maps a name such as "high" to its Priority
func ParsePriority(name string) (Priority, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for p, n := range priorityNames {
		if n == lower {
			return p, nil
		}
	}
	return 0, errors.Wrapf(errors.ErrMalformedEnvelope, "unknown priority %q", name)
}

// Envelope is the unit of agent-to-agent communication.
// Envelopes are treated as immutable once built by Protocol.
type Envelope struct {
	ID            string         `json:"message_id"`
	SenderID      string         `json:"sender_id"`
	ReceiverID    string         `json:"receiver_id"`
	Kind          Kind           `json:"message_type"`
	Priority      Priority       `json:"priority"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"` // declared, not enforced
}

// IsReply reports whether the envelope answers an earlier request
func (e *Envelope) IsReply() bool {
	return e.Kind == KindResponse || e.Kind == KindError
}

// Validate checks structural invariants.
// Response and Error must carry a correlation id, Request must not.
func (e *Envelope) Validate() error {
	switch {
	case e.ID == "":
		return errors.Wrap(errors.ErrMalformedEnvelope, "missing message_id")
	case e.SenderID == "":
		return errors.Wrap(errors.ErrMalformedEnvelope, "missing sender_id")
	case e.ReceiverID == "":
		return errors.Wrap(errors.ErrMalformedEnvelope, "missing receiver_id")
	case !e.Kind.Valid():
		return errors.Wrapf(errors.ErrMalformedEnvelope, "unknown message_type %q", e.Kind)
	case !e.Priority.Valid():
		return errors.Wrapf(errors.ErrMalformedEnvelope, "invalid priority %d", int(e.Priority))
	case e.Timestamp.IsZero():
		return errors.Wrap(errors.ErrMalformedEnvelope, "missing timestamp")
	}

	if e.IsReply() && e.CorrelationID == "" {
		return errors.Wrapf(errors.ErrMalformedEnvelope, "%s without correlation_id", e.Kind)
	}
	if e.Kind == KindRequest && e.CorrelationID != "" {
		return errors.Wrap(errors.ErrMalformedEnvelope, "request must not carry correlation_id")
	}
	return nil
}

// String returns a short description for logs
func (e *Envelope) String() string {
	return string(e.Kind) + " " + e.ID + " " + e.SenderID + "->" + e.ReceiverID
}
