// Package ratelimit throttles how often a single resource may be reconciled.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"operatorkit/internal/resource"
)

// Limiter decides whether a resource may be reconciled now.
type Limiter interface {
	// IsLimited reports whether id is over its limit. When it is, the
	// returned duration is how long the caller should wait before asking
	// again. A call that is not limited counts as one reconciliation.
	IsLimited(id resource.ID) (time.Duration, bool)

	// Forget drops any state held for id.
	Forget(id resource.ID)
}

// Linear allows at most limit reconciliations of one resource per period.
// Each resource owns an independent token bucket that refills linearly.
type Linear struct {
	period time.Duration
	limit  int
	clock  clock.PassiveClock

	mu       sync.Mutex
	limiters map[resource.ID]*rate.Limiter
}

// NewLinear returns a Linear limiter. A non-positive period or limit returns
// a limiter that never limits.
func NewLinear(period time.Duration, limit int) Limiter {
	return NewLinearWithClock(period, limit, clock.RealClock{})
}

// NewLinearWithClock is NewLinear with an injectable clock.
func NewLinearWithClock(period time.Duration, limit int, clk clock.PassiveClock) Limiter {
	if period <= 0 || limit <= 0 {
		return Unlimited{}
	}
	return &Linear{
		period:   period,
		limit:    limit,
		clock:    clk,
		limiters: make(map[resource.ID]*rate.Limiter),
	}
}

// IsLimited implements Limiter.
func (l *Linear) IsLimited(id resource.ID) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.period/time.Duration(l.limit)), l.limit)
		l.limiters[id] = lim
	}

	now := l.clock.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return l.period, true
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return 0, false
	}
	// Only the permission is reported; the token is handed back so a
	// limited check does not push the next slot further out.
	r.CancelAt(now)
	return delay, true
}

// Forget implements Limiter.
func (l *Linear) Forget(id resource.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, id)
}

// Tracked returns the number of resources with limiter state.
func (l *Linear) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Unlimited never limits.
type Unlimited struct{}

// IsLimited implements Limiter.
func (Unlimited) IsLimited(resource.ID) (time.Duration, bool) { return 0, false }

// Forget implements Limiter.
func (Unlimited) Forget(resource.ID) {}
