package risk

import (
	"merchant-risk-engine/internal/window"
)

// SmoothingOptions tune the adaptive EMA and the hysteresis band.
type SmoothingOptions struct {
	// RiseAlpha is applied when the damped risk is at or above the current
	// smoothed value; FallAlpha when below. Distinct constants let the
	// timeline react faster in one direction than the other.
	RiseAlpha float64
	FallAlpha float64
	// HighThreshold enters LevelHigh; ClearThreshold (strictly lower) is the
	// only way back to LevelNormal. The asymmetric band prevents flapping
	// around a single threshold.
	HighThreshold  float64
	ClearThreshold float64
}

// Smoother advances per-key smoothing state one window at a time.
type Smoother struct {
	opts SmoothingOptions
}

// NewSmoother constructs a Smoother.
func NewSmoother(opts SmoothingOptions) *Smoother {
	return &Smoother{opts: opts}
}

// Apply folds the window's damped risk into the state. The window must be
// chronologically after the state's cursor; anything else is rejected with
// ErrOutOfOrder. The returned state carries the new smoothed value and risk
// level; the input state is not mutated.
func (s *Smoother) Apply(st SmoothingState, w window.Window, damped float64) (SmoothingState, error) {
	if st.Initialized && !w.Start.After(st.LastWindowStart) {
		return st, outOfOrderError(w, st.LastWindowStart)
	}

	next := st
	next.Initialized = true
	next.LastWindowStart = w.Start

	if !st.Initialized {
		// First window for the key: seed the EMA and classify without
		// hysteresis, there is no prior state to flap against.
		next.LastSmoothed = damped
		next.Level = LevelNormal
		if damped >= s.opts.HighThreshold {
			next.Level = LevelHigh
		}
		next.LevelSince = w.Start
		return next, nil
	}

	alpha := s.opts.FallAlpha
	if damped >= st.LastSmoothed {
		alpha = s.opts.RiseAlpha
	}
	next.LastSmoothed = alpha*damped + (1-alpha)*st.LastSmoothed

	switch st.Level {
	case LevelHigh:
		if next.LastSmoothed < s.opts.ClearThreshold {
			next.Level = LevelNormal
			next.LevelSince = w.Start
		}
	default:
		if next.LastSmoothed >= s.opts.HighThreshold {
			next.Level = LevelHigh
			next.LevelSince = w.Start
		}
	}

	return next, nil
}
