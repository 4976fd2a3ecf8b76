package noop

import (
	"context"
	"sync"

	"finmesh/pkg/errors"
)

// Tracker discards events. It keeps the last captured errors so tests can
// assert that failures were reported without a real backend.
type Tracker struct {
	mu       sync.Mutex
	captured []error
	keep     int
}

// New creates a tracker that discards everything
func New() *Tracker {
	return &Tracker{}
}

// NewRecording creates a tracker that remembers up to keep captured errors
func NewRecording(keep int) *Tracker {
	return &Tracker{keep: keep}
}

func (t *Tracker) CaptureError(_ context.Context, err error, _ map[string]string) error {
	if t.keep == 0 || err == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.captured) == t.keep {
		t.captured = t.captured[1:]
	}
	t.captured = append(t.captured, err)
	return nil
}

func (t *Tracker) CaptureMessage(context.Context, string, errors.Level, map[string]string) error {
	return nil
}

func (t *Tracker) AddBreadcrumb(context.Context, string, string, errors.Level, map[string]interface{}) {
}

func (t *Tracker) Flush(context.Context) error {
	return nil
}

// Captured returns a copy of the remembered errors, oldest first
func (t *Tracker) Captured() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]error, len(t.captured))
	copy(out, t.captured)
	return out
}
