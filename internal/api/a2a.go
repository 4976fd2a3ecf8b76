package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"finmesh/internal/domain/a2a"
	"finmesh/internal/services/integration"
	"finmesh/internal/workers"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

const (
	maxBodyBytes = 1 << 20

	// pollerTTL bounds how long an agent that stopped polling still receives registry broadcasts
	pollerTTL = 5 * time.Minute
)

// Integration is the part of the integration manager the API exposes
type Integration interface {
	HandleExternalRequest(ctx context.Context, req integration.ExternalRequest) *integration.ExternalResponse
	GetAgentStatus(ctx context.Context) integration.Status
}

// A2AHandler serves the polling mailbox, external requests and the status snapshot
type A2AHandler struct {
	mailbox     a2a.Mailbox
	integration Integration
	workers     func() map[string]workers.WorkerHealth
	log         *logger.Logger
	now         func() time.Time

	mu      sync.Mutex
	pollers map[string]time.Time // agent id -> last poll
}

// NewA2AHandler creates the handler. workerHealth may be nil.
func NewA2AHandler(mailbox a2a.Mailbox, in Integration, workerHealth func() map[string]workers.WorkerHealth, log *logger.Logger) *A2AHandler {
	return &A2AHandler{
		mailbox:     mailbox,
		integration: in,
		workers:     workerHealth,
		log:         log.With("component", "a2a_api"),
		now:         time.Now,
		pollers:     make(map[string]time.Time),
	}
}

// statusResponse is the manager snapshot plus worker health
type statusResponse struct {
	integration.Status
	Workers map[string]workers.WorkerHealth `json:"workers,omitempty"`
}

// HandlePostMessage queues an envelope for its receiver
func (h *A2AHandler) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	env, err := a2a.Decode(body)
	if err != nil {
		h.log.Debugw("Rejected malformed envelope", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if env.ReceiverID == a2a.RegistryID {
		delivered := h.broadcast(r.Context(), env)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":     "broadcast",
			"message_id": env.ID,
			"delivered":  delivered,
		})
		return
	}

	if err := h.mailbox.Push(r.Context(), env.ReceiverID, env); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, errors.ErrUnavailable) {
			code = http.StatusServiceUnavailable
		}
		h.log.Warnw("Failed to queue envelope", "receiver_id", env.ReceiverID, "error", err)
		writeError(w, code, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "queued",
		"message_id": env.ID,
	})
}

// broadcast copies a registry-addressed envelope into the queue of every
// agent that polled recently, except its sender. Nothing is queued under the
// registry id itself since no agent reads it.
func (h *A2AHandler) broadcast(ctx context.Context, env *a2a.Envelope) int {
	cutoff := h.now().Add(-pollerTTL)

	h.mu.Lock()
	targets := make([]string, 0, len(h.pollers))
	for id, seen := range h.pollers {
		if seen.Before(cutoff) {
			delete(h.pollers, id)
			continue
		}
		if id != env.SenderID {
			targets = append(targets, id)
		}
	}
	h.mu.Unlock()

	delivered := 0
	for _, id := range targets {
		if err := h.mailbox.Push(ctx, id, env); err != nil {
			h.log.Warnw("Failed to deliver registry broadcast", "agent_id", id, "kind", env.Kind, "error", err)
			continue
		}
		delivered++
	}
	h.log.Debugw("Registry broadcast", "kind", env.Kind, "sender_id", env.SenderID, "delivered", delivered)
	return delivered
}

// HandleGetMessages pops the oldest envelope for the agent. The answer is a
// JSON array holding zero or one envelope.
func (h *A2AHandler) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent id is required")
		return
	}

	if agentID != a2a.RegistryID {
		h.mu.Lock()
		h.pollers[agentID] = h.now()
		h.mu.Unlock()
	}

	env, err := h.mailbox.Pop(r.Context(), agentID)
	if err != nil {
		h.log.Warnw("Failed to read mailbox", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := []json.RawMessage{}
	if env != nil {
		data, err := a2a.Encode(env)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, data)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleExternal runs a request coming from outside the mesh
func (h *A2AHandler) HandleExternal(w http.ResponseWriter, r *http.Request) {
	var req integration.ExternalRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeJSON(w, http.StatusOK, h.integration.HandleExternalRequest(r.Context(), req))
}

// HandleStatus returns the manager snapshot
func (h *A2AHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: h.integration.GetAgentStatus(r.Context())}
	if h.workers != nil {
		resp.Workers = h.workers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
