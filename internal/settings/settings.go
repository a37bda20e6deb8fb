// Package settings exposes runtime-tunable configuration stored in the
// database as typed lookups with fallback defaults. Values are cached for a
// short TTL so the scan path never pays a query per lookup.
package settings

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"
)

// DefaultTTL is how long a fetched settings snapshot stays fresh.
const DefaultTTL = 30 * time.Second

// Source reads the full settings table.
type Source interface {
	ListSettings(ctx context.Context) (map[string]string, error)
}

// Provider caches the settings table and answers typed lookups.
// A lookup miss, parse failure, or refresh failure falls back to the
// caller-supplied default; a stale snapshot is better than no answer.
type Provider struct {
	source Source
	ttl    time.Duration

	mu      sync.Mutex
	values  map[string]string
	fetched time.Time

	now func() time.Time // test hook
}

// NewProvider creates a settings provider over the given source.
func NewProvider(source Source, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{
		source: source,
		ttl:    ttl,
		values: make(map[string]string),
		now:    time.Now,
	}
}

// Invalidate forces the next lookup to refresh from the source.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.fetched = time.Time{}
	p.mu.Unlock()
}

// lookup returns the raw value for key, refreshing the snapshot when stale.
func (p *Provider) lookup(ctx context.Context, key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.now().Sub(p.fetched) >= p.ttl {
		values, err := p.source.ListSettings(ctx)
		if err != nil {
			log.Printf("settings: refresh failed, keeping cached values: %v", err)
		} else {
			p.values = values
			p.fetched = p.now()
		}
	}

	v, ok := p.values[key]
	return v, ok
}

// String returns the setting for key, or def when absent.
func (p *Provider) String(ctx context.Context, key, def string) string {
	if v, ok := p.lookup(ctx, key); ok {
		return v
	}
	return def
}

// Float64 returns the setting for key parsed as a float, or def.
func (p *Provider) Float64(ctx context.Context, key string, def float64) float64 {
	v, ok := p.lookup(ctx, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Int returns the setting for key parsed as an int, or def.
func (p *Provider) Int(ctx context.Context, key string, def int) int {
	v, ok := p.lookup(ctx, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the setting for key parsed as a bool, or def.
func (p *Provider) Bool(ctx context.Context, key string, def bool) bool {
	v, ok := p.lookup(ctx, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
