package match

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// RawEntry is one enrollment record as read from the source of truth:
// an identity key plus a serialized embedding.
type RawEntry struct {
	IdentityKey string
	Data        []byte
}

// Source is the authoritative enrollment store the cache rebuilds from.
type Source interface {
	ListActiveEmbeddings(ctx context.Context) ([]RawEntry, error)
}

// CacheOptions tunes a single identity cache instance.
type CacheOptions struct {
	// IndexThreshold is the entry count at which the cache builds a
	// ball-tree; below it queries fall back to a linear scan.
	IndexThreshold int

	// LeafSize is the ball-tree leaf size, clamped to [MinLeafSize, MaxLeafSize].
	LeafSize int

	// MaxPerIdentity caps how many embeddings one identity contributes.
	MaxPerIdentity int

	// Name labels log lines; caches for distinct populations (employees,
	// visitors) are independent instances and never share invalidation.
	Name string
}

// DefaultIndexThreshold is the entry count at which index construction pays off.
const DefaultIndexThreshold = 50

// DefaultMaxPerIdentity caps embeddings indexed per identity.
const DefaultMaxPerIdentity = 5

// snapshot is an immutable view published by one rebuild. Queries hold a
// reference for their whole duration; rebuilds replace it wholesale.
type snapshot struct {
	entries []IdentityEntry
	tree    *BallTree
}

// IdentityCache answers nearest-identity queries against the current
// enrollment set. Readers never block each other: they load an atomically
// published snapshot. Writers call Invalidate, which only flips a flag; the
// next query rebuilds under a mutex that excludes concurrent rebuilds only.
type IdentityCache struct {
	source Source
	opts   CacheOptions

	dirty     atomic.Bool
	rebuildMu sync.Mutex
	snap      atomic.Pointer[snapshot]
}

// NewIdentityCache creates a cache over the given source. The cache starts
// dirty, so the first query performs the initial load.
func NewIdentityCache(source Source, opts CacheOptions) *IdentityCache {
	if opts.IndexThreshold <= 0 {
		opts.IndexThreshold = DefaultIndexThreshold
	}
	if opts.LeafSize <= 0 {
		opts.LeafSize = DefaultLeafSize
	}
	if opts.MaxPerIdentity <= 0 {
		opts.MaxPerIdentity = DefaultMaxPerIdentity
	}
	if opts.Name == "" {
		opts.Name = "identity"
	}

	c := &IdentityCache{source: source, opts: opts}
	c.dirty.Store(true)
	c.snap.Store(&snapshot{})
	return c
}

// Invalidate marks the cache stale. It never blocks and never rebuilds;
// call it after any enrollment create, edit, or deactivation.
func (c *IdentityCache) Invalidate() {
	c.dirty.Store(true)
}

// Query returns the nearest enrolled identity within maxDistance.
// ok is false when nothing qualifies. A rebuild error is returned only when
// the cache is stale and the source cannot be read; a previously published
// snapshot is never corrupted by a failed rebuild.
func (c *IdentityCache) Query(ctx context.Context, vec []float64, maxDistance float64) (Match, bool, error) {
	if c.dirty.Load() {
		c.rebuildMu.Lock()
		// Double-check: a concurrent query may have rebuilt already.
		if c.dirty.Load() {
			if err := c.rebuild(ctx); err != nil {
				c.rebuildMu.Unlock()
				return Match{}, false, fmt.Errorf("rebuilding %s cache: %w", c.opts.Name, err)
			}
			c.dirty.Store(false)
		}
		c.rebuildMu.Unlock()
	}

	snap := c.snap.Load()
	if snap.tree != nil {
		m, ok := snap.tree.Query(vec, maxDistance)
		return m, ok, nil
	}
	m, ok := linearScan(snap.entries, vec, maxDistance)
	return m, ok, nil
}

// Len returns the entry count of the current snapshot.
func (c *IdentityCache) Len() int {
	return len(c.snap.Load().entries)
}

// Indexed reports whether the current snapshot carries a ball-tree.
func (c *IdentityCache) Indexed() bool {
	return c.snap.Load().tree != nil
}

// rebuild reads the enrollment set from the source and publishes a fresh
// snapshot. Malformed records are skipped, never fatal; a failed tree build
// degrades to linear scan. Only a source read error fails the rebuild.
func (c *IdentityCache) rebuild(ctx context.Context) error {
	raw, err := c.source.ListActiveEmbeddings(ctx)
	if err != nil {
		return err
	}

	entries := make([]IdentityEntry, 0, len(raw))
	perIdentity := make(map[string]int)
	skipped := 0

	for _, r := range raw {
		if perIdentity[r.IdentityKey] >= c.opts.MaxPerIdentity {
			continue
		}
		vec, err := DecodeEmbedding(r.Data)
		if err != nil {
			skipped++
			log.Printf("%s cache: skipping embedding for %s: %v", c.opts.Name, r.IdentityKey, err)
			continue
		}
		perIdentity[r.IdentityKey]++
		entries = append(entries, IdentityEntry{IdentityKey: r.IdentityKey, Vector: vec})
	}

	snap := &snapshot{entries: entries}
	if len(entries) >= c.opts.IndexThreshold {
		tree, err := NewBallTree(entries, c.opts.LeafSize)
		if err != nil {
			log.Printf("%s cache: index build failed, falling back to linear scan: %v", c.opts.Name, err)
		} else {
			snap.tree = tree
		}
	}

	c.snap.Store(snap)
	if skipped > 0 {
		log.Printf("%s cache: rebuilt with %d entries (%d malformed records skipped)", c.opts.Name, len(entries), skipped)
	}
	return nil
}
