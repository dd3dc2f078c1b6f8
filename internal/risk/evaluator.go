package risk

import (
	"time"

	"github.com/rs/zerolog"

	"merchant-risk-engine/internal/stream"
	"merchant-risk-engine/internal/window"
)

// EvaluatorOptions bundle every risk tunable for one evaluation pipeline.
type EvaluatorOptions struct {
	Weights    map[Component]float64
	Normalizer NormalizerOptions
	// StabilityCap and IncidentBump feed the composite scorer.
	StabilityCap float64
	IncidentBump float64
	Smoothing    SmoothingOptions

	// VolumeSpikeMultiplier fires the volume incident trigger at this
	// multiple of the rolling baseline.
	VolumeSpikeMultiplier float64
	// VolumeBaselineAlpha is the EMA constant for the rolling baseline.
	VolumeBaselineAlpha float64
	// VolumeBaselineSeed seeds the baseline for a key's first window.
	VolumeBaselineSeed float64
}

// Evaluator runs the full per-window pipeline: normalize, blend, damp,
// smooth, score confidence. Evaluate is deterministic: identical documents
// and identical prior state always produce a bit-identical result.
type Evaluator struct {
	opts       EvaluatorOptions
	normalizer *Normalizer
	scorer     *CompositeScorer
	smoother   *Smoother
	logger     zerolog.Logger
}

// NewEvaluator wires the pipeline from options.
func NewEvaluator(opts EvaluatorOptions, logger zerolog.Logger) *Evaluator {
	if opts.VolumeSpikeMultiplier <= 1 {
		opts.VolumeSpikeMultiplier = 3
	}
	if opts.VolumeBaselineAlpha <= 0 || opts.VolumeBaselineAlpha > 1 {
		opts.VolumeBaselineAlpha = 0.2
	}
	if opts.VolumeBaselineSeed <= 0 {
		opts.VolumeBaselineSeed = 10
	}

	return &Evaluator{
		opts:       opts,
		normalizer: NewNormalizer(opts.Normalizer),
		scorer: NewCompositeScorer(CompositeOptions{
			Weights:      opts.Weights,
			StabilityCap: opts.StabilityCap,
			IncidentBump: opts.IncidentBump,
		}),
		smoother: NewSmoother(opts.Smoothing),
		logger:   logger.With().Str("component", "evaluator").Logger(),
	}
}

// Observe runs the stateless half of the pipeline. It is safe to call
// concurrently for different windows of the same key; only Evaluate touches
// per-key state.
func (e *Evaluator) Observe(docs map[stream.Stream][]stream.Document) Observation {
	return e.normalizer.Observe(docs)
}

// Evaluate finishes one window from its observation and the key's current
// smoothing state. The window must be chronologically after the state's
// cursor.
func (e *Evaluator) Evaluate(w window.Window, obs Observation, st SmoothingState, evaluatedAt time.Time) (EvaluationResult, SmoothingState, error) {
	baseline := st.VolumeBaseline
	if !st.Initialized || baseline <= 0 {
		baseline = e.opts.VolumeBaselineSeed
	}

	components := make(map[Component]ComponentScore, len(Components()))
	for name, score := range obs.Components {
		components[name] = score
	}
	volume, volumeSpike := e.normalizer.VolumeComponent(obs.Activity, baseline, e.opts.VolumeSpikeMultiplier)
	components[ComponentVolume] = volume

	incident := obs.WatchlistSpike || obs.VolatilitySpike || volumeSpike
	base, damped := e.scorer.Score(components, st.PrevDamped, st.Initialized, incident)

	next, err := e.smoother.Apply(st, w, damped)
	if err != nil {
		return EvaluationResult{}, st, err
	}
	next.PrevDamped = damped
	next.VolumeBaseline = e.opts.VolumeBaselineAlpha*float64(obs.Activity) + (1-e.opts.VolumeBaselineAlpha)*baseline

	result := EvaluationResult{
		Window:         w,
		Components:     components,
		BaseRisk:       base,
		DampedRisk:     damped,
		SmoothedRisk:   next.LastSmoothed,
		RiskLevel:      next.Level,
		Confidence:     Confidence(e.opts.Weights, components),
		Drivers:        e.scorer.Drivers(components),
		Counts:         obs.Counts,
		Incident:       incident,
		VolumeBaseline: next.VolumeBaseline,
		EvaluatedAt:    evaluatedAt,
	}

	e.logger.Debug().Str("key", w.Key()).Time("window_start", w.Start).
		Float64("base", base).Float64("damped", damped).
		Float64("smoothed", next.LastSmoothed).Str("level", string(next.Level)).
		Bool("incident", incident).Msg("window evaluated")

	return result, next, nil
}

// RestoreState reconstructs the smoothing state as of a previously persisted
// result, used to rewind a key before re-evaluating a backtracked range. The
// prior level_since is preserved when the level matches; otherwise it resets
// to the restored window's start.
func RestoreState(prev EvaluationResult, current SmoothingState) SmoothingState {
	st := SmoothingState{
		LastSmoothed:    prev.SmoothedRisk,
		Level:           prev.RiskLevel,
		LevelSince:      prev.Window.Start,
		LastWindowStart: prev.Window.Start,
		PrevDamped:      prev.DampedRisk,
		VolumeBaseline:  prev.VolumeBaseline,
		Initialized:     true,
	}
	if st.VolumeBaseline <= 0 {
		st.VolumeBaseline = current.VolumeBaseline
	}
	if current.Initialized && current.Level == prev.RiskLevel {
		st.LevelSince = current.LevelSince
	}
	return st
}
