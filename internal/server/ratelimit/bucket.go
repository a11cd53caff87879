package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// bucket holds up to capacity tokens and regains perSecond tokens every second.
type bucket struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	capacity  float64
	perSecond float64
	tokens    float64
	updated   time.Time
}

func newBucket(clock clockwork.Clock, capacity int, perSecond float64) *bucket {
	return &bucket{
		clock:     clock,
		capacity:  float64(capacity),
		perSecond: perSecond,
		tokens:    float64(capacity),
		updated:   clock.Now(),
	}
}

// take spends one token when available. It reports what is left and when the
// next whole token will be available.
func (b *bucket) take() (ok bool, left int, next time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.tokens = min(b.capacity, b.tokens+now.Sub(b.updated).Seconds()*b.perSecond)
	b.updated = now

	if b.tokens >= 1 {
		b.tokens--
		ok = true
	}
	if b.tokens >= 1 {
		return ok, int(b.tokens), now
	}
	wait := time.Duration((1 - b.tokens) / b.perSecond * float64(time.Second))
	return ok, 0, now.Add(wait)
}
