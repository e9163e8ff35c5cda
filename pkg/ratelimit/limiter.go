// Package ratelimit meters analysis requests with token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket. It starts full.
type Limiter struct {
	rate     float64 // tokens per second
	burst    int
	tokens   float64
	lastTime time.Time
	now      func() time.Time
	mu       sync.Mutex
}

// NewLimiter creates a limiter refilling rate tokens per second up to burst.
func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiter(rate, burst, time.Now)
}

func newLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		lastTime: now(),
		now:      now,
	}
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	ok, _ := l.Reserve(1)
	return ok
}

// AllowN consumes n tokens if all of them are available.
func (l *Limiter) AllowN(n int) bool {
	ok, _ := l.Reserve(n)
	return ok
}

// Reserve consumes n tokens when available. Otherwise nothing is consumed
// and the returned duration is how long until n tokens would be.
// A request larger than the burst can never succeed and reports a zero wait.
func (l *Limiter) Reserve(n int) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true, 0
	}
	if n > l.burst || l.rate <= 0 {
		return false, 0
	}
	needed := float64(n) - l.tokens
	return false, time.Duration(needed / l.rate * float64(time.Second))
}

func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastTime).Seconds()
	l.lastTime = now
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

// Tokens returns the tokens available now.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// full reports whether the bucket has refilled completely.
func (l *Limiter) full() bool {
	return l.Tokens() >= float64(l.burst)
}

func (l *Limiter) Rate() float64 { return l.rate }

func (l *Limiter) Burst() int { return l.burst }
