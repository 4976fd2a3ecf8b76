package workers

import (
	"context"
	"time"

	"finmesh/pkg/errors"
)

// HeartbeatWorker pings every peer each adapter has seen advertise itself
type HeartbeatWorker struct {
	*BaseWorker
	source AdapterSource
}

func NewHeartbeatWorker(source AdapterSource, interval time.Duration, enabled bool) *HeartbeatWorker {
	return &HeartbeatWorker{
		BaseWorker: NewBaseWorker("a2a_heartbeat", interval, enabled),
		source:     source,
	}
}

// Run returns an error only when every heartbeat of the pass failed
func (w *HeartbeatWorker) Run(ctx context.Context) error {
	sent, failed := 0, 0
	for _, a := range w.source.Adapters() {
		peers, err := a.Peers().List(ctx, "")
		if err != nil {
			w.Log().Warnw("Failed to list peers", "agent_id", a.ID(), "error", err)
			continue
		}
		for _, p := range peers {
			if p.AgentID == a.ID() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if a.SendHeartbeat(ctx, p.AgentID) {
				sent++
				continue
			}
			failed++
			w.Log().Debugw("Heartbeat not delivered", "agent_id", a.ID(), "peer", p.AgentID)
		}
	}

	if failed > 0 && sent == 0 {
		return errors.Wrapf(errors.ErrSendFailed, "%d heartbeats failed", failed)
	}
	return nil
}
