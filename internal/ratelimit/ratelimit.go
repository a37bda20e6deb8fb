// Package ratelimit bounds the rate of expensive scan requests per caller
// key using a continuous-refill token bucket.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an untouched bucket survives before the sweep
// reclaims it.
const DefaultIdleTTL = 2 * time.Minute

// Config describes one limiter policy.
type Config struct {
	MaxRequests   int           // sustained requests per window
	WindowSeconds int           // window length
	Burst         int           // extra capacity above MaxRequests
	IdleTTL       time.Duration // bucket expiry, DefaultIdleTTL when zero
}

// Result is the outcome of a consume attempt. RetryAfterSeconds is a hint
// for denied callers: the time until at least one token is available.
type Result struct {
	Allowed           bool
	RetryAfterSeconds int
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter keys token buckets by (operation, caller key). Buckets refill
// continuously at MaxRequests/WindowSeconds tokens per second up to a
// capacity of MaxRequests+Burst, and expire after IdleTTL of inactivity.
//
// A limiter with a non-positive rate or window fails open: every request is
// allowed.
type Limiter struct {
	cfg     Config
	perSec  rate.Limit
	cap     int
	enabled bool

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time

	now func() time.Time // test hook
}

// New creates a limiter for one policy.
func New(cfg Config) *Limiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}

	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	if cfg.MaxRequests > 0 && cfg.WindowSeconds > 0 {
		l.enabled = true
		l.perSec = rate.Limit(float64(cfg.MaxRequests) / float64(cfg.WindowSeconds))
		l.cap = cfg.MaxRequests + cfg.Burst
	}
	return l
}

// TryConsume attempts to take one token from the bucket for (operation, key).
func (l *Limiter) TryConsume(operation, key string) Result {
	if !l.enabled {
		return Result{Allowed: true}
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	bucketKey := operation + "|" + key
	b, ok := l.buckets[bucketKey]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.perSec, l.cap)}
		l.buckets[bucketKey] = b
	}
	b.lastSeen = now

	if b.lim.AllowN(now, 1) {
		return Result{Allowed: true}
	}

	// Time until one full token refills, reported in whole seconds.
	tokens := b.lim.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}
	retry := int(math.Ceil((1 - tokens) / float64(l.perSec)))
	if retry < 1 {
		retry = 1
	}
	return Result{Allowed: false, RetryAfterSeconds: retry}
}

// Size returns the number of live buckets.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweepLocked drops buckets idle longer than IdleTTL. Runs at most once per
// TTL period so the hot path stays O(1).
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.IdleTTL {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.IdleTTL {
			delete(l.buckets, key)
		}
	}
}
