package stream

import (
	"context"
	"sort"
	"sync"
	"time"
)

// PrefetchCache is a per-job, read-many cache of bulk-fetched documents. Keys
// are (stream, coarse time bucket); each key is fetched from the underlying
// accessor at most once and either its documents or its fetch error are
// retained for the life of the job.
type PrefetchCache struct {
	accessor Accessor
	bucket   time.Duration

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry

	onHit  func()
	onMiss func()
}

type cacheKey struct {
	stream Stream
	bucket time.Time
}

type cacheEntry struct {
	docs []Document
	err  error
}

// NewPrefetchCache wraps an accessor with a coarse-bucket cache.
func NewPrefetchCache(accessor Accessor, bucket time.Duration) *PrefetchCache {
	if bucket <= 0 {
		bucket = 6 * time.Hour
	}
	return &PrefetchCache{
		accessor: accessor,
		bucket:   bucket,
		entries:  make(map[cacheKey]cacheEntry),
	}
}

// Observe registers hit/miss callbacks (used for metrics).
func (c *PrefetchCache) Observe(onHit, onMiss func()) {
	c.onHit = onHit
	c.onMiss = onMiss
}

// Prime bulk-fetches every (stream, bucket) combination covering
// [start, end) that is not already cached. Fetch failures are cached too so a
// failing bucket is not re-fetched per window.
func (c *PrefetchCache) Prime(ctx context.Context, streams []Stream, merchantID string, start, end time.Time) {
	for _, s := range streams {
		for _, bucketStart := range c.bucketsCovering(start, end) {
			c.load(ctx, s, merchantID, bucketStart)
		}
	}
}

// Fetch serves a window-scoped range from cached buckets, loading any bucket
// not yet primed. A bucket whose bulk fetch failed yields that error.
func (c *PrefetchCache) Fetch(ctx context.Context, s Stream, merchantID string, start, end time.Time) ([]Document, error) {
	var docs []Document
	for _, bucketStart := range c.bucketsCovering(start, end) {
		entry := c.load(ctx, s, merchantID, bucketStart)
		if entry.err != nil {
			return nil, entry.err
		}
		for _, doc := range entry.docs {
			if !doc.ObservedAt.Before(start) && doc.ObservedAt.Before(end) {
				docs = append(docs, doc)
			}
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ObservedAt.Before(docs[j].ObservedAt) })
	return docs, nil
}

func (c *PrefetchCache) bucketsCovering(start, end time.Time) []time.Time {
	var buckets []time.Time
	for b := start.UTC().Truncate(c.bucket); b.Before(end); b = b.Add(c.bucket) {
		buckets = append(buckets, b)
	}
	return buckets
}

func (c *PrefetchCache) load(ctx context.Context, s Stream, merchantID string, bucketStart time.Time) cacheEntry {
	key := cacheKey{stream: s, bucket: bucketStart}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		if c.onHit != nil {
			c.onHit()
		}
		return entry
	}

	if c.onMiss != nil {
		c.onMiss()
	}

	docs, err := c.accessor.Fetch(ctx, s, merchantID, bucketStart, bucketStart.Add(c.bucket))
	entry = cacheEntry{docs: docs, err: err}

	c.mu.Lock()
	// First writer wins; a concurrent load of the same key returns the
	// already-cached entry so every key stays write-once.
	if existing, raced := c.entries[key]; raced {
		entry = existing
	} else {
		c.entries[key] = entry
	}
	c.mu.Unlock()

	return entry
}

var _ Accessor = (*PrefetchCache)(nil)
