package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultWeights() map[Component]float64 {
	return map[Component]float64{
		ComponentSentiment:  0.4,
		ComponentReviews:    0.2,
		ComponentWatchlist:  0.2,
		ComponentVolatility: 0.1,
		ComponentVolume:     0.1,
	}
}

func TestCompositeSingleAvailableComponent(t *testing.T) {
	scorer := NewCompositeScorer(CompositeOptions{Weights: defaultWeights()})

	components := map[Component]ComponentScore{
		ComponentWatchlist: {Value: 0.9, Count: 10, Available: true},
	}

	base, damped := scorer.Score(components, 0, false, false)
	assert.InDelta(t, 0.18, base, 1e-9, "missing components are absent, not renormalized")
	assert.InDelta(t, 0.18, damped, 1e-9, "first window is never damped")

	assert.InDelta(t, 0.2, Confidence(defaultWeights(), components), 1e-9)
}

func TestCompositeDampingClampsDelta(t *testing.T) {
	scorer := NewCompositeScorer(CompositeOptions{Weights: defaultWeights(), StabilityCap: 0.15})

	components := map[Component]ComponentScore{
		ComponentSentiment: {Value: 1, Available: true},
		ComponentReviews:   {Value: 1, Available: true},
		ComponentWatchlist: {Value: 1, Available: true},
	}

	base, damped := scorer.Score(components, 0.2, true, false)
	assert.InDelta(t, 0.8, base, 1e-9)
	assert.InDelta(t, 0.35, damped, 1e-9, "rise is capped at prev+cap")

	base, damped = scorer.Score(map[Component]ComponentScore{}, 0.6, true, false)
	assert.Zero(t, base)
	assert.InDelta(t, 0.45, damped, 1e-9, "fall is capped at prev-cap")
}

func TestCompositeIncidentBump(t *testing.T) {
	scorer := NewCompositeScorer(CompositeOptions{Weights: defaultWeights(), StabilityCap: 0.15, IncidentBump: 0.1})

	components := map[Component]ComponentScore{
		ComponentWatchlist: {Value: 0.9, Available: true},
	}

	_, damped := scorer.Score(components, 0.18, true, true)
	assert.InDelta(t, 0.28, damped, 1e-9, "bump applies after damping")

	_, damped = scorer.Score(components, 0.95, true, true)
	assert.InDelta(t, 0.9, damped, 1e-9, "bumped value is re-clamped to [0,1]")
}

func TestDriversRankedByContribution(t *testing.T) {
	scorer := NewCompositeScorer(CompositeOptions{Weights: defaultWeights()})

	drivers := scorer.Drivers(map[Component]ComponentScore{
		ComponentSentiment:  {Value: 0.5, Available: true},  // 0.20
		ComponentReviews:    {Value: 0.9, Available: true},  // 0.18
		ComponentWatchlist:  {Value: 1.0, Available: true},  // 0.20
		ComponentVolatility: {Value: 1.0, Available: true},  // 0.10
		ComponentVolume:     {Value: 0.2, Available: false}, // absent
	})

	assert.Equal(t, []Component{ComponentSentiment, ComponentWatchlist, ComponentReviews, ComponentVolatility}, drivers)
}

func TestConfidenceMonotoneInAvailability(t *testing.T) {
	weights := defaultWeights()
	components := map[Component]ComponentScore{
		ComponentSentiment:  {Value: 0.1, Count: 5, Available: true},
		ComponentReviews:    {Value: 0.1, Count: 5, Available: true},
		ComponentWatchlist:  {Value: 0.1, Count: 5, Available: true},
		ComponentVolatility: {Value: 0.1, Count: 5, Available: true},
		ComponentVolume:     {Value: 0.1, Count: 5, Available: true},
	}

	prev := Confidence(weights, components)
	assert.InDelta(t, 1.0, prev, 1e-9)

	for _, name := range Components() {
		score := components[name]
		score.Available = false
		components[name] = score

		current := Confidence(weights, components)
		assert.Less(t, current, prev, "losing %s must strictly lower confidence", name)
		prev = current
	}
	assert.Zero(t, prev)
}
