package transport

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"finmesh/internal/domain/a2a"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

// HTTPTransport posts envelopes to a mailbox service and polls it for replies.
// It cannot listen; the mailbox side is served by the HTTP API.
type HTTPTransport struct {
	agentID string
	client  *resty.Client
	health  *resty.Client
	log     *logger.Logger
}

// NewHTTPTransport creates a polling transport against baseURL
func NewHTTPTransport(agentID, baseURL string) *HTTPTransport {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(30 * time.Second)
	client.SetHeader("Content-Type", "application/json")

	health := resty.New()
	health.SetTimeout(5 * time.Second)

	return &HTTPTransport{
		agentID: agentID,
		client:  client,
		health:  health,
		log:     logger.Get().With("component", "http_transport", "agent_id", agentID),
	}
}

// Send posts the envelope; any non-2xx answer is a failure
func (t *HTTPTransport) Send(ctx context.Context, env *a2a.Envelope) bool {
	body, err := a2a.Encode(env)
	if err != nil {
		t.log.Warnw("Failed to encode envelope", "message_id", env.ID, "error", err)
		recordSend(KindHTTP, env, false)
		return false
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/a2a/message")
	if err != nil {
		t.log.Warnw("Failed to send HTTP message", "receiver_id", env.ReceiverID, "error", err)
		recordSend(KindHTTP, env, false)
		return false
	}
	if !resp.IsSuccess() {
		t.log.Warnw("Mailbox rejected message",
			"receiver_id", env.ReceiverID,
			"status", resp.StatusCode(),
			"body", truncate(resp.String(), 200),
		)
		recordSend(KindHTTP, env, false)
		return false
	}

	recordSend(KindHTTP, env, true)
	return true
}

// Receive polls the mailbox and returns the oldest queued envelope
func (t *HTTPTransport) Receive(ctx context.Context) *a2a.Envelope {
	resp, err := t.client.R().
		SetContext(ctx).
		Get("/a2a/messages/" + url.PathEscape(t.agentID))
	if err != nil {
		if ctx.Err() == nil {
			t.log.Warnw("Failed to poll mailbox", "error", err)
		}
		return nil
	}
	if !resp.IsSuccess() {
		t.log.Warnw("Mailbox poll failed", "status", resp.StatusCode())
		return nil
	}

	var messages []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &messages); err != nil {
		t.log.Warnw("Mailbox returned malformed list", "error", err)
		return nil
	}
	if len(messages) == 0 {
		return nil
	}

	env, err := a2a.Decode(messages[0])
	if err != nil {
		t.log.Warnw("Dropping malformed mailbox message", "error", err)
		return nil
	}
	return env
}

// StartListener is not available for the polling transport
func (t *HTTPTransport) StartListener(context.Context, int, OnMessage) error {
	return errors.Wrap(errors.ErrListenerUnsupported, KindHTTP)
}

// Connect reports whether GET <endpoint>/health succeeds
func (t *HTTPTransport) Connect(ctx context.Context, endpoint string) bool {
	resp, err := t.health.R().
		SetContext(ctx).
		Get(strings.TrimRight(endpoint, "/") + "/health")
	if err != nil {
		t.log.Warnw("Failed to connect to A2A HTTP server", "endpoint", endpoint, "error", err)
		return false
	}
	if !resp.IsSuccess() {
		t.log.Warnw("A2A HTTP server unhealthy", "endpoint", endpoint, "status", resp.StatusCode())
		return false
	}
	t.log.Infow("Connected to A2A HTTP server", "endpoint", endpoint)
	return true
}

// Close is a no-op; resty clients hold no listeners
func (t *HTTPTransport) Close() error {
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
