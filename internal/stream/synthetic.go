package stream

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// Synthetic generates deterministic pseudo-random documents for simulation
// runs and tests. The same (seed, stream, merchant, window) always yields the
// same documents regardless of call order, so simulated evaluations are
// reproducible.
type Synthetic struct {
	Seed int64
	// IncidentFrom/IncidentTo bracket an optional period of elevated risk
	// (negative sentiment, watchlist hits, volatility spikes).
	IncidentFrom time.Time
	IncidentTo   time.Time
}

// Fetch generates documents spread across [start, end).
func (g *Synthetic) Fetch(_ context.Context, s Stream, merchantID string, start, end time.Time) ([]Document, error) {
	if !start.Before(end) {
		return nil, nil
	}

	rng := rand.New(rand.NewSource(g.sourceSeed(s, merchantID, start)))
	incident := g.inIncident(start)

	count := g.docCount(rng, s, incident)
	span := end.Sub(start)
	docs := make([]Document, 0, count)
	for i := 0; i < count; i++ {
		offset := time.Duration(rng.Int63n(int64(span)))
		doc := Document{
			Stream:     s,
			MerchantID: merchantID,
			ObservedAt: start.Add(offset),
		}
		g.fill(rng, &doc, incident)
		docs = append(docs, doc)
	}
	return docs, nil
}

func (g *Synthetic) sourceSeed(s Stream, merchantID string, start time.Time) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	_, _ = h.Write([]byte(merchantID))
	_, _ = h.Write([]byte(start.UTC().Format(time.RFC3339)))
	return g.Seed ^ int64(h.Sum64())
}

func (g *Synthetic) inIncident(t time.Time) bool {
	if g.IncidentFrom.IsZero() || g.IncidentTo.IsZero() {
		return false
	}
	return !t.Before(g.IncidentFrom) && t.Before(g.IncidentTo)
}

func (g *Synthetic) docCount(rng *rand.Rand, s Stream, incident bool) int {
	base := 4 + rng.Intn(6)
	if s == Stock {
		base = 2 + rng.Intn(3)
	}
	if incident {
		base *= 4
	}
	return base
}

func (g *Synthetic) fill(rng *rand.Rand, doc *Document, incident bool) {
	switch doc.Stream {
	case Tweets, Reddit, News:
		polarity := rng.Float64()*1.2 - 0.4
		if incident {
			polarity = -0.4 - rng.Float64()*0.6
		}
		doc.Polarity = decimalPtr(polarity)
	case Reviews:
		rating := 3.2 + rng.Float64()*1.6
		if incident {
			rating = 1.0 + rng.Float64()*1.5
		}
		doc.Rating = decimalPtr(rating)
	case Watchlist:
		flagged := rng.Float64() < 0.05
		if incident {
			flagged = rng.Float64() < 0.7
		}
		doc.Flagged = &flagged
	case Stock:
		vol := 0.005 + rng.Float64()*0.02
		if incident {
			vol = 0.04 + rng.Float64()*0.06
		}
		doc.Volatility = decimalPtr(vol)
	}
}

func decimalPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f).Round(6)
	return &d
}

var _ Accessor = (*Synthetic)(nil)
