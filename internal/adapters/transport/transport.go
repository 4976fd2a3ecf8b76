package transport

import (
	"context"
	"fmt"
	"runtime/debug"

	"finmesh/internal/domain/a2a"
	"finmesh/internal/metrics"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

// Transport kinds accepted by New
const (
	KindWebSocket = "websocket"
	KindHTTP      = "http"
	KindLocal     = "local"
	KindKafka     = "kafka"
	KindNATS      = "nats"
)

// OnMessage handles one inbound envelope. Returned errors and panics are logged
// by the transport and never stop its read loop.
type OnMessage func(ctx context.Context, env *a2a.Envelope) error

// Transport moves envelopes between named agents.
// Failures are logged and reported as false or nil; no method panics.
type Transport interface {
	// Send delivers env and reports whether the transport accepted it
	Send(ctx context.Context, env *a2a.Envelope) bool

	// Receive returns the next queued envelope, or nil when none is available
	Receive(ctx context.Context) *a2a.Envelope

	// StartListener accepts inbound traffic on port and dispatches it to onMessage
	StartListener(ctx context.Context, port int, onMessage OnMessage) error

	// Connect opens a channel to endpoint and reports success
	Connect(ctx context.Context, endpoint string) bool

	// Close releases connections and stops listeners
	Close() error
}

// addressedToMe reports whether an inbound envelope should be dispatched locally.
// Every agent answers the registry pseudo receiver so peers can discover each other.
func addressedToMe(agentID string, env *a2a.Envelope) bool {
	return env.ReceiverID == agentID || env.ReceiverID == a2a.RegistryID
}

// dispatch runs onMessage, converting panics into errors
func dispatch(ctx context.Context, kind string, log *logger.Logger, onMessage OnMessage, env *a2a.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordDrop(kind, "handler_panic")
			log.Errorw("Message handler panicked",
				"message_id", env.ID,
				"kind", env.Kind,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	metrics.RecordReceive(kind, string(env.Kind))
	if err := onMessage(ctx, env); err != nil {
		log.Warnw("Message handler failed",
			"message_id", env.ID,
			"kind", env.Kind,
			"sender_id", env.SenderID,
			"error", err,
		)
	}
}

func recordSend(kind string, env *a2a.Envelope, ok bool) {
	metrics.RecordSend(kind, string(env.Kind), ok)
}

// Options carries the settings every variant may need
type Options struct {
	HTTPBaseURL    string
	Hub            *LocalHub
	KafkaBrokers   []string
	KafkaGroupID   string
	NATSURL        string
	ConnectRetries int
	// SelfConnect makes the stream listener dial itself once it is up
	SelfConnect bool
}

// New builds the transport variant named by kind
func New(kind, agentID string, opts Options) (Transport, error) {
	switch kind {
	case KindWebSocket:
		return NewWebSocketTransport(agentID, WebSocketConfig{
			ConnectRetries: opts.ConnectRetries,
			SelfConnect:    opts.SelfConnect,
		}), nil
	case KindHTTP:
		return NewHTTPTransport(agentID, opts.HTTPBaseURL), nil
	case KindLocal:
		if opts.Hub == nil {
			return nil, errors.Wrap(errors.ErrInvalidInput, "local transport requires a hub")
		}
		return opts.Hub.Transport(agentID), nil
	case KindKafka:
		if len(opts.KafkaBrokers) == 0 {
			return nil, errors.Wrap(errors.ErrInvalidInput, "kafka transport requires brokers")
		}
		return NewKafkaTransport(agentID, opts.KafkaBrokers, opts.KafkaGroupID), nil
	case KindNATS:
		return NewNATSTransport(agentID, opts.NATSURL), nil
	default:
		return nil, errors.Wrapf(errors.ErrUnknownTransport, "%q", kind)
	}
}
