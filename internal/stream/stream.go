package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Stream names a raw signal source about a merchant.
type Stream string

const (
	Tweets    Stream = "tweets"
	Reddit    Stream = "reddit"
	News      Stream = "news"
	Reviews   Stream = "reviews"
	Watchlist Stream = "watchlist"
	Stock     Stream = "stock"
)

// All lists every stream the engine knows how to consume.
func All() []Stream {
	return []Stream{Tweets, Reddit, News, Reviews, Watchlist, Stock}
}

// Document is one raw, time-stamped observation produced by an ingestion
// adapter. Only the fields relevant to the document's stream are set; the
// numeric fields arrive as exact decimals and are converted to float64 at the
// normalization boundary.
type Document struct {
	Stream     Stream
	MerchantID string
	ObservedAt time.Time

	// Polarity is a precomputed sentiment score in [-1, 1] (tweets, reddit,
	// news).
	Polarity *decimal.Decimal
	// Rating is a review rating in [1, 5].
	Rating *decimal.Decimal
	// Flagged marks a watchlist hit.
	Flagged *bool
	// Volatility is a realized-volatility observation (stock).
	Volatility *decimal.Decimal
}

// Accessor fetches raw documents for a merchant and half-open time range.
// Implementations must support bulk range fetches so the scheduler can
// prefetch a whole batch at once. An empty result is not an error; failures
// are reported as *FetchError.
type Accessor interface {
	Fetch(ctx context.Context, s Stream, merchantID string, start, end time.Time) ([]Document, error)
}

// FetchError reports that a stream could not be read. It is distinguishable
// from "no data": callers treat the affected component as unavailable for the
// window rather than failing the window.
type FetchError struct {
	Stream Stream
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch stream %s: %v", e.Stream, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
