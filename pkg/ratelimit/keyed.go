package ratelimit

import (
	"sync"
	"time"
)

// Keyed holds one Limiter per key, typically a client address.
// Buckets that have refilled are dropped on a periodic sweep.
type Keyed struct {
	rate  float64
	burst int
	now   func() time.Time

	mu         sync.Mutex
	buckets    map[string]*Limiter
	lastSweep  time.Time
	sweepEvery time.Duration
}

// NewKeyed creates a per-key limiter where every key gets its own bucket
// of the given rate and burst.
func NewKeyed(rate float64, burst int) *Keyed {
	return newKeyed(rate, burst, time.Now)
}

func newKeyed(rate float64, burst int, now func() time.Time) *Keyed {
	return &Keyed{
		rate:       rate,
		burst:      burst,
		now:        now,
		buckets:    make(map[string]*Limiter),
		lastSweep:  now(),
		sweepEvery: time.Minute,
	}
}

// AllowN consumes n tokens from key's bucket. When refused, retryAfter is
// the wait until the request would fit, or zero if it never can.
func (k *Keyed) AllowN(key string, n int) (ok bool, retryAfter time.Duration) {
	return k.bucket(key).Reserve(n)
}

func (k *Keyed) Burst() int { return k.burst }

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *Keyed) bucket(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	if now := k.now(); now.Sub(k.lastSweep) >= k.sweepEvery {
		k.lastSweep = now
		for id, l := range k.buckets {
			if l.full() {
				delete(k.buckets, id)
			}
		}
	}

	l, ok := k.buckets[key]
	if !ok {
		l = newLimiter(k.rate, k.burst, k.now)
		k.buckets[key] = l
	}
	return l
}
