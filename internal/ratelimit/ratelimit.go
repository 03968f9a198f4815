// Package ratelimit throttles gateway requests with per-key token buckets.
// Buckets refill lazily inside Allow, so the limiter needs no background
// goroutine and costs nothing for keys that stop sending.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited reports that a key spent its whole budget for the window.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config sizes the buckets.
type Config struct {
	RequestsPerMinute int // Sustained refill rate. 0 disables limiting.
	BurstSize         int // Bucket capacity. 0 falls back to RequestsPerMinute.
}

// Limiter hands out tokens per gateway API key. Keys never share a
// bucket, so one noisy caller cannot starve the rest.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	perSecond float64
	capacity  float64
}

// bucket tracks one key's remaining budget and when it last accrued.
type bucket struct {
	level    float64
	refilled time.Time
}

// take accrues tokens for the time since the last call, then spends one.
// It reports false when the bucket cannot cover the request.
func (b *bucket) take(now time.Time, perSecond, capacity float64) bool {
	b.level += now.Sub(b.refilled).Seconds() * perSecond
	if b.level > capacity {
		b.level = capacity
	}
	b.refilled = now

	if b.level < 1 {
		return false
	}
	b.level--
	return true
}

// NewLimiter builds a limiter from cfg. With RequestsPerMinute 0 the
// limiter is a no-op and Allow always succeeds.
func NewLimiter(cfg Config) *Limiter {
	capacity := cfg.BurstSize
	if capacity <= 0 {
		capacity = cfg.RequestsPerMinute
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		perSecond: float64(cfg.RequestsPerMinute) / 60,
		capacity:  float64(capacity),
	}
}

// Allow spends one token from key's bucket, creating a full bucket the
// first time a key appears. Empty buckets report ErrRateLimited.
func (l *Limiter) Allow(key string) error {
	if l.perSecond <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{level: l.capacity, refilled: now}
		l.buckets[key] = b
	}
	if !b.take(now, l.perSecond, l.capacity) {
		return ErrRateLimited
	}
	return nil
}
