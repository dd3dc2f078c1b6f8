package risk

import (
	"merchant-risk-engine/internal/stream"
)

// NormalizerOptions tune per-component normalization.
type NormalizerOptions struct {
	// WatchlistEscalationThreshold is the flagged ratio beyond which the
	// watchlist component is escalated and the watchlist-spike trigger fires.
	WatchlistEscalationThreshold float64
	// WatchlistEscalationMultiplier scales the ratio once escalated.
	WatchlistEscalationMultiplier float64
	// VolatilityBaseline is the realized volatility mapping to full risk.
	VolatilityBaseline float64
}

// Observation is the stateless reduction of one window's raw documents. The
// volume component is finished later by the evaluator because it depends on
// the rolling per-key baseline.
type Observation struct {
	Components      map[Component]ComponentScore
	Counts          map[stream.Stream]int
	Activity        int
	WatchlistSpike  bool
	VolatilitySpike bool
}

// Normalizer reduces raw documents to 0..1 risk sub-scores (higher = riskier).
type Normalizer struct {
	opts NormalizerOptions
}

// NewNormalizer applies defaults and constructs a Normalizer.
func NewNormalizer(opts NormalizerOptions) *Normalizer {
	if opts.WatchlistEscalationThreshold <= 0 {
		opts.WatchlistEscalationThreshold = 0.3
	}
	if opts.WatchlistEscalationMultiplier <= 0 {
		opts.WatchlistEscalationMultiplier = 1.5
	}
	if opts.VolatilityBaseline <= 0 {
		opts.VolatilityBaseline = 0.05
	}
	return &Normalizer{opts: opts}
}

// Observe reduces the window's documents per component. Documents are
// expected to be restricted to the window's half-open range already.
func (n *Normalizer) Observe(docs map[stream.Stream][]stream.Document) Observation {
	obs := Observation{
		Components: make(map[Component]ComponentScore, len(Components())),
		Counts:     make(map[stream.Stream]int, len(stream.All())),
	}
	for _, s := range stream.All() {
		obs.Counts[s] = len(docs[s])
	}
	obs.Activity = obs.Counts[stream.Tweets] + obs.Counts[stream.Reddit] + obs.Counts[stream.News]

	obs.Components[ComponentSentiment] = n.sentiment(docs)
	obs.Components[ComponentReviews] = n.reviews(docs[stream.Reviews])

	wl, wlSpike := n.watchlist(docs[stream.Watchlist])
	obs.Components[ComponentWatchlist] = wl
	obs.WatchlistSpike = wlSpike

	vol, volSpike := n.volatility(docs[stream.Stock])
	obs.Components[ComponentVolatility] = vol
	obs.VolatilitySpike = volSpike

	return obs
}

// VolumeComponent scales the window's activity count against the rolling
// baseline. The incident flag fires when activity exceeds spikeMultiplier
// times the baseline.
func (n *Normalizer) VolumeComponent(activity int, baseline, spikeMultiplier float64) (ComponentScore, bool) {
	if activity == 0 {
		return ComponentScore{}, false
	}
	if baseline <= 0 {
		baseline = 1
	}
	if spikeMultiplier <= 1 {
		spikeMultiplier = 3
	}

	value := clamp01(float64(activity) / (spikeMultiplier * baseline))
	spike := float64(activity) >= spikeMultiplier*baseline
	return ComponentScore{Value: value, Count: activity, Available: true}, spike
}

// sentiment inverts the mean polarity of the three sentiment streams:
// polarity -1 (hostile) maps to risk 1, polarity +1 maps to risk 0.
func (n *Normalizer) sentiment(docs map[stream.Stream][]stream.Document) ComponentScore {
	var sum float64
	var count int
	for _, s := range []stream.Stream{stream.Tweets, stream.Reddit, stream.News} {
		for _, doc := range docs[s] {
			if doc.Polarity == nil {
				continue
			}
			sum += doc.Polarity.InexactFloat64()
			count++
		}
	}
	if count == 0 {
		return ComponentScore{}
	}
	mean := sum / float64(count)
	return ComponentScore{Value: clamp01((1 - mean) / 2), Count: count, Available: true}
}

// reviews inverts the mean rating: 5 stars maps to risk 0, 1 star to risk 1.
func (n *Normalizer) reviews(docs []stream.Document) ComponentScore {
	var sum float64
	var count int
	for _, doc := range docs {
		if doc.Rating == nil {
			continue
		}
		sum += doc.Rating.InexactFloat64()
		count++
	}
	if count == 0 {
		return ComponentScore{}
	}
	mean := sum / float64(count)
	return ComponentScore{Value: clamp01((5 - mean) / 4), Count: count, Available: true}
}

// watchlist scores the flagged ratio, escalating once it crosses the
// configured threshold.
func (n *Normalizer) watchlist(docs []stream.Document) (ComponentScore, bool) {
	var flagged, total int
	for _, doc := range docs {
		if doc.Flagged == nil {
			continue
		}
		total++
		if *doc.Flagged {
			flagged++
		}
	}
	if total == 0 {
		return ComponentScore{}, false
	}

	ratio := float64(flagged) / float64(total)
	spike := ratio > n.opts.WatchlistEscalationThreshold
	if spike {
		ratio *= n.opts.WatchlistEscalationMultiplier
	}
	return ComponentScore{Value: clamp01(ratio), Count: total, Available: true}, spike
}

// volatility normalizes mean realized volatility against the baseline; at or
// beyond the baseline the component saturates and the spike trigger fires.
func (n *Normalizer) volatility(docs []stream.Document) (ComponentScore, bool) {
	var sum float64
	var count int
	for _, doc := range docs {
		if doc.Volatility == nil {
			continue
		}
		sum += doc.Volatility.InexactFloat64()
		count++
	}
	if count == 0 {
		return ComponentScore{}, false
	}

	mean := sum / float64(count)
	value := clamp01(mean / n.opts.VolatilityBaseline)
	return ComponentScore{Value: value, Count: count, Available: true}, mean >= n.opts.VolatilityBaseline
}
