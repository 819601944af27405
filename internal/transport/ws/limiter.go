package ws

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// limiterPool holds one broadcast limiter per user, shared by all of the
// user's connections.
type limiterPool struct {
	rps   float64
	burst int

	mu sync.Mutex
	m  map[uuid.UUID]*rate.Limiter
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &limiterPool{rps: rps, burst: burst, m: make(map[uuid.UUID]*rate.Limiter)}
}

func (p *limiterPool) get(userID uuid.UUID) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[userID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[userID] = l
	return l
}

func (p *limiterPool) Allow(userID uuid.UUID) bool {
	return p.get(userID).Allow()
}
