package risk

import "sort"

// CompositeOptions tune the weighted blend.
type CompositeOptions struct {
	// Weights must sum to 1 over the full component set. They are not
	// renormalized when components are missing: an absent component simply
	// does not contribute, lowering composite magnitude and confidence alike.
	Weights map[Component]float64
	// StabilityCap bounds the per-window change of the damped value.
	// Zero disables damping.
	StabilityCap float64
	// IncidentBump is the bounded additive adjustment applied when a spike
	// trigger fired during normalization.
	IncidentBump float64
}

// CompositeScorer blends component sub-scores into a damped base risk.
type CompositeScorer struct {
	opts CompositeOptions
}

// NewCompositeScorer constructs a scorer over the configured weights.
func NewCompositeScorer(opts CompositeOptions) *CompositeScorer {
	return &CompositeScorer{opts: opts}
}

// Score computes the base and damped risk for one window. prevDamped is the
// stored damped value of the chronologically previous window for this key;
// hasPrev is false for the key's first window, which is never damped.
func (s *CompositeScorer) Score(components map[Component]ComponentScore, prevDamped float64, hasPrev, incident bool) (base, damped float64) {
	for name, score := range components {
		if !score.Available {
			continue
		}
		base += s.opts.Weights[name] * score.Value
	}
	base = clamp01(base)

	damped = base
	if hasPrev && s.opts.StabilityCap > 0 {
		delta := base - prevDamped
		if delta > s.opts.StabilityCap {
			damped = prevDamped + s.opts.StabilityCap
		} else if delta < -s.opts.StabilityCap {
			damped = prevDamped - s.opts.StabilityCap
		}
	}

	if incident && s.opts.IncidentBump > 0 {
		damped += s.opts.IncidentBump
	}

	return base, clamp01(damped)
}

// Drivers ranks available components by weighted contribution, highest
// first. Ties break on component name so the ranking is deterministic.
func (s *CompositeScorer) Drivers(components map[Component]ComponentScore) []Component {
	type contribution struct {
		name   Component
		amount float64
	}

	contributions := make([]contribution, 0, len(components))
	for name, score := range components {
		if !score.Available {
			continue
		}
		contributions = append(contributions, contribution{name: name, amount: s.opts.Weights[name] * score.Value})
	}

	sort.Slice(contributions, func(i, j int) bool {
		if contributions[i].amount != contributions[j].amount {
			return contributions[i].amount > contributions[j].amount
		}
		return contributions[i].name < contributions[j].name
	})

	drivers := make([]Component, len(contributions))
	for i, c := range contributions {
		drivers[i] = c.name
	}
	return drivers
}
