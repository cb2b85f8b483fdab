package control

import (
	"sync"
	"time"

	"github.com/HatiCode/rackguard/pkg/actions"
)

type limiterKey struct {
	entity string
	kind   actions.Kind
}

// RateLimiter admits at most one action per (entity, kind) within the
// minimum interval, preventing action churn. A denied admission is a
// deferral, not a safety rejection; the loops simply try again on a later
// tick.
type RateLimiter struct {
	mu   sync.Mutex
	min  time.Duration
	last map[limiterKey]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter with the given minimum interval between
// admitted actions of the same kind on the same entity. min <= 0 defaults to
// 120 seconds.
func NewRateLimiter(min time.Duration) *RateLimiter {
	if min <= 0 {
		min = 120 * time.Second
	}
	return &RateLimiter{
		min:  min,
		last: make(map[limiterKey]time.Time),
		now:  time.Now,
	}
}

// Admit reports whether an action of this kind on this entity may proceed
// now. The admission timestamp is recorded only on success, so a denied call
// never extends the cooldown. The second return value is how long to wait
// when denied.
func (r *RateLimiter) Admit(entity string, kind actions.Kind) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	key := limiterKey{entity: entity, kind: kind}
	if prev, ok := r.last[key]; ok {
		if elapsed := now.Sub(prev); elapsed < r.min {
			return false, r.min - elapsed
		}
	}
	r.last[key] = now
	return true, 0
}

// Touch restarts the cooldown without an admission check. Compensating
// rollbacks bypass admission but must still hold follow-up actions of the
// same kind to the minimum interval.
func (r *RateLimiter) Touch(entity string, kind actions.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[limiterKey{entity: entity, kind: kind}] = r.now()
}
