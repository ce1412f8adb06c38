// Package ratelimit throttles API requests with per-key token buckets.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleAfter is how long an idle full bucket is kept.
const staleAfter = 10 * time.Minute

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int           // requests per minute
	Remaining  int           // tokens left in the bucket
	ResetAt    time.Time     // when the bucket is full again
	RetryAfter time.Duration // zero when allowed
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	perMinute int
	burst     int
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter returns a limiter refilling perMinute tokens every minute with
// room for burst requests at once.
func NewLimiter(perMinute, burst int) *Limiter {
	l := &Limiter{
		perMinute: perMinute,
		burst:     max(burst, 1),
		now:       time.Now,
		buckets:   map[string]*bucket{},
		stop:      make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) every() rate.Limit {
	return rate.Limit(float64(l.perMinute) / time.Minute.Seconds())
}

// Allow takes one token from the bucket of key.
func (l *Limiter) Allow(key string) Result {
	now := l.now()
	l.mu.Lock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{limiter: rate.NewLimiter(l.every(), l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	allowed := r.OK() && r.DelayFrom(now) == 0
	var retryAfter time.Duration
	if !allowed {
		if r.OK() {
			retryAfter = r.DelayFrom(now)
			r.CancelAt(now)
		}
		retryAfter = max(retryAfter.Round(time.Second), time.Second)
	}
	tokens := b.limiter.TokensAt(now)
	refill := time.Duration((float64(l.burst) - tokens) / float64(l.every()) * float64(time.Second))
	return Result{
		Allowed:    allowed,
		Limit:      l.perMinute,
		Remaining:  max(int(tokens), 0),
		ResetAt:    now.Add(refill),
		RetryAfter: retryAfter,
	}
}

func (l *Limiter) cleanupLoop() {
	t := time.NewTicker(staleAfter)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

// cleanup drops buckets that are idle and full.
func (l *Limiter) cleanup() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > staleAfter && b.limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
