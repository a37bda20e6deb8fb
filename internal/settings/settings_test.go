package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSettingsSource struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	calls  int
}

func (f *fakeSettingsSource) ListSettings(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out, nil
}

func TestProvider_TypedLookups(t *testing.T) {
	src := &fakeSettingsSource{values: map[string]string{
		"matching.base_tolerance":   "0.55",
		"attendance.min_gap":        "15",
		"geofence.enabled":          "false",
		"kiosk.name":                "lobby",
		"matching.near_match_ratio": "not-a-number",
	}}
	p := NewProvider(src, time.Minute)
	ctx := context.Background()

	if got := p.Float64(ctx, "matching.base_tolerance", 0.60); got != 0.55 {
		t.Errorf("expected 0.55, got %f", got)
	}
	if got := p.Int(ctx, "attendance.min_gap", 10); got != 15 {
		t.Errorf("expected 15, got %d", got)
	}
	if got := p.Bool(ctx, "geofence.enabled", true); got {
		t.Error("expected false from settings")
	}
	if got := p.String(ctx, "kiosk.name", "default"); got != "lobby" {
		t.Errorf("expected lobby, got %s", got)
	}

	// Missing keys and unparseable values fall back to defaults.
	if got := p.Float64(ctx, "missing", 0.42); got != 0.42 {
		t.Errorf("expected default 0.42, got %f", got)
	}
	if got := p.Float64(ctx, "matching.near_match_ratio", 0.90); got != 0.90 {
		t.Errorf("expected default for unparseable value, got %f", got)
	}
}

func TestProvider_CachesWithinTTL(t *testing.T) {
	src := &fakeSettingsSource{values: map[string]string{"k": "1"}}
	p := NewProvider(src, time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		p.Int(ctx, "k", 0)
	}
	if src.calls != 1 {
		t.Errorf("expected single source read within TTL, got %d", src.calls)
	}

	p.Invalidate()
	p.Int(ctx, "k", 0)
	if src.calls != 2 {
		t.Errorf("expected refresh after invalidate, got %d calls", src.calls)
	}
}

func TestProvider_TTLExpiry(t *testing.T) {
	src := &fakeSettingsSource{values: map[string]string{"k": "1"}}
	p := NewProvider(src, 30*time.Second)

	clock := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }
	ctx := context.Background()

	p.Int(ctx, "k", 0)
	clock = clock.Add(10 * time.Second)
	p.Int(ctx, "k", 0)
	if src.calls != 1 {
		t.Errorf("expected cached value at 10s, got %d calls", src.calls)
	}

	clock = clock.Add(30 * time.Second)
	p.Int(ctx, "k", 0)
	if src.calls != 2 {
		t.Errorf("expected refresh after TTL, got %d calls", src.calls)
	}
}

func TestProvider_KeepsStaleValuesOnError(t *testing.T) {
	src := &fakeSettingsSource{values: map[string]string{"k": "5"}}
	p := NewProvider(src, 30*time.Second)

	clock := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }
	ctx := context.Background()

	if got := p.Int(ctx, "k", 0); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}

	src.mu.Lock()
	src.err = errors.New("store down")
	src.mu.Unlock()
	clock = clock.Add(time.Minute)

	if got := p.Int(ctx, "k", 0); got != 5 {
		t.Errorf("expected stale value 5 while store is down, got %d", got)
	}
}
