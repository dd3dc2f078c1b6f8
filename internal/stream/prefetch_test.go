package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAccessor struct {
	mu      sync.Mutex
	calls   map[string]int
	failing map[Stream]bool
	docs    []Document
}

func newCountingAccessor(docs []Document) *countingAccessor {
	return &countingAccessor{calls: map[string]int{}, failing: map[Stream]bool{}, docs: docs}
}

func (c *countingAccessor) Fetch(_ context.Context, s Stream, merchantID string, start, end time.Time) ([]Document, error) {
	c.mu.Lock()
	c.calls[string(s)+"/"+start.UTC().Format(time.RFC3339)]++
	c.mu.Unlock()

	if c.failing[s] {
		return nil, &FetchError{Stream: s, Err: errors.New("boom")}
	}

	var out []Document
	for _, d := range c.docs {
		if d.Stream == s && !d.ObservedAt.Before(start) && d.ObservedAt.Before(end) {
			out = append(out, d)
		}
	}
	return out, nil
}

func doc(s Stream, at string) Document {
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		panic(err)
	}
	return Document{Stream: s, MerchantID: "m1", ObservedAt: t}
}

func TestPrefetchWriteOncePerBucket(t *testing.T) {
	acc := newCountingAccessor([]Document{
		doc(Tweets, "2026-01-10T00:15:00Z"),
		doc(Tweets, "2026-01-10T01:15:00Z"),
		doc(Tweets, "2026-01-10T02:15:00Z"),
	})
	cache := NewPrefetchCache(acc, 6*time.Hour)

	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	cache.Prime(context.Background(), []Stream{Tweets}, "m1", from, from.Add(3*time.Hour))

	// Three window reads against the primed bucket must not touch the
	// underlying accessor again.
	for i := 0; i < 3; i++ {
		start := from.Add(time.Duration(i) * time.Hour)
		docs, err := cache.Fetch(context.Background(), Tweets, "m1", start, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	}

	assert.Equal(t, map[string]int{"tweets/2026-01-10T00:00:00Z": 1}, acc.calls)
}

func TestPrefetchWindowFiltering(t *testing.T) {
	acc := newCountingAccessor([]Document{
		doc(Reviews, "2026-01-10T00:59:00Z"),
		doc(Reviews, "2026-01-10T01:00:00Z"),
		doc(Reviews, "2026-01-10T01:59:59Z"),
		doc(Reviews, "2026-01-10T02:00:00Z"),
	})
	cache := NewPrefetchCache(acc, 6*time.Hour)

	start := time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)
	docs, err := cache.Fetch(context.Background(), Reviews, "m1", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, docs, 2, "half-open window must include start and exclude end")
	assert.Equal(t, start, docs[0].ObservedAt)
}

func TestPrefetchCachesFailures(t *testing.T) {
	acc := newCountingAccessor(nil)
	acc.failing[Stock] = true
	cache := NewPrefetchCache(acc, 6*time.Hour)

	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := cache.Fetch(context.Background(), Stock, "m1", from, from.Add(time.Hour))
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
	}

	assert.Equal(t, 1, acc.calls["stock/2026-01-10T00:00:00Z"], "failed bucket must be fetched once")
}
