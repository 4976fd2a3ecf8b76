package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"finmesh/pkg/errors"
)

// Limiter throttles outbound envelopes of one agent
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// NewLimiter creates a limiter allowing rps envelopes per second with the given burst.
// A non-positive rps disables limiting.
func NewLimiter(name string, rps float64, burst int) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, burst),
		name:    name,
	}
}

// Wait blocks until the limiter allows one envelope
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "rate limiter %s", l.name)
	}
	return nil
}

// Allow checks if an envelope may go out without blocking
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// PeerLimiter keeps one limiter per receiver so a slow peer cannot starve the others
type PeerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	rps      float64
	burst    int
	name     string
}

// NewPeerLimiter creates limiters lazily, one per receiver id
func NewPeerLimiter(name string, rps float64, burst int) *PeerLimiter {
	return &PeerLimiter{
		limiters: make(map[string]*Limiter),
		rps:      rps,
		burst:    burst,
		name:     name,
	}
}

// Wait blocks until an envelope to receiver may be sent
func (p *PeerLimiter) Wait(ctx context.Context, receiver string) error {
	return p.get(receiver).Wait(ctx)
}

func (p *PeerLimiter) get(receiver string) *Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[receiver]
	if !ok {
		l = NewLimiter(p.name+"/"+receiver, p.rps, p.burst)
		p.limiters[receiver] = l
	}
	return l
}
