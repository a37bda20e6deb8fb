package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests drive the limiter's view of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	l := New(cfg)
	l.now = clock.now
	return l, clock
}

func TestTryConsume_ExhaustsWindowThenDenied(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxRequests: 10, WindowSeconds: 60, Burst: 0})

	for i := 0; i < 10; i++ {
		if r := l.TryConsume("scan", "10.0.0.1"); !r.Allowed {
			t.Fatalf("request %d unexpectedly denied", i+1)
		}
	}

	r := l.TryConsume("scan", "10.0.0.1")
	if r.Allowed {
		t.Fatal("11th request should be denied")
	}
	if r.RetryAfterSeconds != 6 {
		t.Errorf("expected retry hint 6s (one token at 10/60 per second), got %d", r.RetryAfterSeconds)
	}
}

func TestTryConsume_RefillsOverTime(t *testing.T) {
	l, clock := newTestLimiter(Config{MaxRequests: 10, WindowSeconds: 60, Burst: 0})

	for i := 0; i < 10; i++ {
		l.TryConsume("scan", "kiosk-1")
	}
	if r := l.TryConsume("scan", "kiosk-1"); r.Allowed {
		t.Fatal("expected denial with empty bucket")
	}

	clock.advance(6 * time.Second)
	if r := l.TryConsume("scan", "kiosk-1"); !r.Allowed {
		t.Error("expected one refilled token after 6s")
	}
	if r := l.TryConsume("scan", "kiosk-1"); r.Allowed {
		t.Error("expected second immediate request to be denied again")
	}
}

func TestTryConsume_BurstExtendsCapacity(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxRequests: 5, WindowSeconds: 60, Burst: 3})

	for i := 0; i < 8; i++ {
		if r := l.TryConsume("scan", "k"); !r.Allowed {
			t.Fatalf("request %d denied within capacity max+burst=8", i+1)
		}
	}
	if r := l.TryConsume("scan", "k"); r.Allowed {
		t.Error("9th request should exceed capacity")
	}
}

func TestTryConsume_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxRequests: 2, WindowSeconds: 60, Burst: 0})

	l.TryConsume("scan", "a")
	l.TryConsume("scan", "a")
	if r := l.TryConsume("scan", "a"); r.Allowed {
		t.Fatal("key a should be exhausted")
	}

	// Different caller and different operation both get fresh buckets.
	if r := l.TryConsume("scan", "b"); !r.Allowed {
		t.Error("key b should be unaffected by key a")
	}
	if r := l.TryConsume("enroll", "a"); !r.Allowed {
		t.Error("operation enroll should be unaffected by operation scan")
	}
}

func TestTryConsume_FailsOpenWhenMisconfigured(t *testing.T) {
	for _, cfg := range []Config{
		{MaxRequests: 0, WindowSeconds: 60},
		{MaxRequests: 10, WindowSeconds: 0},
		{MaxRequests: -5, WindowSeconds: -1},
	} {
		l, _ := newTestLimiter(cfg)
		for i := 0; i < 100; i++ {
			if r := l.TryConsume("scan", "k"); !r.Allowed {
				t.Fatalf("misconfigured limiter %+v must fail open", cfg)
			}
		}
	}
}

func TestIdleBucketsExpire(t *testing.T) {
	l, clock := newTestLimiter(Config{MaxRequests: 10, WindowSeconds: 60, IdleTTL: 2 * time.Minute})

	l.TryConsume("scan", "old")
	if l.Size() != 1 {
		t.Fatalf("expected 1 bucket, got %d", l.Size())
	}

	clock.advance(3 * time.Minute)
	l.TryConsume("scan", "fresh")
	if l.Size() != 1 {
		t.Errorf("expected stale bucket swept, got %d buckets", l.Size())
	}
}
