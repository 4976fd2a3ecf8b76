package agent

import (
	"sync"
	"time"

	"finmesh/internal/domain/a2a"
)

// pendingRequest tracks one outbound request until a correlated reply
// arrives, the waiter gives up, or the cleanup sweep removes it.
type pendingRequest struct {
	envelope    *a2a.Envelope
	requestType string
	createdAt   time.Time

	once     sync.Once
	done     chan struct{}
	response map[string]any
	errResp  map[string]any
}

func newPendingRequest(env *a2a.Envelope, requestType string, now time.Time) *pendingRequest {
	return &pendingRequest{
		envelope:    env,
		requestType: requestType,
		createdAt:   now,
		done:        make(chan struct{}),
	}
}

// resolve stores the reply. Only the first call has any effect.
func (p *pendingRequest) resolve(response, errResp map[string]any) bool {
	resolved := false
	p.once.Do(func() {
		p.response = response
		p.errResp = errResp
		close(p.done)
		resolved = true
	})
	return resolved
}

// pendingTable is the adapter-owned set of in-flight requests keyed by request id
type pendingTable struct {
	mu      sync.Mutex
	records map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{records: make(map[string]*pendingRequest)}
}

func (t *pendingTable) add(p *pendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[p.envelope.ID] = p
}

func (t *pendingTable) get(id string) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.records[id]
	return p, ok
}

func (t *pendingTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// sweep removes records created before cutoff
func (t *pendingTable) sweep(cutoff time.Time) []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []*pendingRequest
	for id, p := range t.records {
		if p.createdAt.Before(cutoff) {
			removed = append(removed, p)
			delete(t.records, id)
		}
	}
	return removed
}
