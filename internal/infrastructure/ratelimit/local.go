package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

// Local is an in-process token bucket per key. Buckets idle for longer than
// the TTL are dropped on the next sweep.
type Local struct {
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocal(rps float64, burst int) *Local {
	if burst <= 0 {
		burst = 1
	}
	return &Local{
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: defaultIdleTTL,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.idleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}
