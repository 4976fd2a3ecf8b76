package workers

import (
	"context"
	"time"

	"finmesh/internal/services/agent"
)

// AdapterSource lists the adapters maintenance workers act on
type AdapterSource interface {
	Adapters() []*agent.Adapter
}

// CleanupWorker sweeps stale pending requests and expired peers on every adapter
type CleanupWorker struct {
	*BaseWorker
	source AdapterSource
}

func NewCleanupWorker(source AdapterSource, interval time.Duration) *CleanupWorker {
	return &CleanupWorker{
		BaseWorker: NewBaseWorker("a2a_cleanup", interval, true),
		source:     source,
	}
}

func (w *CleanupWorker) Run(ctx context.Context) error {
	total := 0
	for _, a := range w.source.Adapters() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if n := a.CleanupExpiredRequests(ctx); n > 0 {
			w.Log().Infow("Removed stale pending requests", "agent_id", a.ID(), "count", n)
			total += n
		}
	}
	if total > 0 {
		w.Log().Debugw("Cleanup pass finished", "removed", total)
	}
	return nil
}
