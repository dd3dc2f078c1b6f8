package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-risk-engine/internal/window"
)

func hourWindow(i int) window.Window {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
	return window.Window{MerchantID: "m1", Interval: window.Interval1h, Start: start, End: start.Add(time.Hour)}
}

func TestHysteresisSequence(t *testing.T) {
	// alphas of 1 make smoothed == damped so the banded transitions are
	// exercised in isolation.
	s := NewSmoother(SmoothingOptions{RiseAlpha: 1, FallAlpha: 1, HighThreshold: 0.7, ClearThreshold: 0.5})

	damped := []float64{0.3, 0.75, 0.6, 0.45}
	want := []Level{LevelNormal, LevelHigh, LevelHigh, LevelNormal}

	var st SmoothingState
	var err error
	for i, d := range damped {
		st, err = s.Apply(st, hourWindow(i), d)
		require.NoError(t, err)
		assert.Equal(t, want[i], st.Level, "window %d (damped %.2f)", i, d)
	}
}

func TestHysteresisHoldsBetweenThresholds(t *testing.T) {
	s := NewSmoother(SmoothingOptions{RiseAlpha: 1, FallAlpha: 1, HighThreshold: 0.7, ClearThreshold: 0.5})

	st, err := s.Apply(SmoothingState{}, hourWindow(0), 0.8)
	require.NoError(t, err)
	require.Equal(t, LevelHigh, st.Level)

	// Dips below T_hi but above T_lo must stay high indefinitely.
	for i := 1; i < 10; i++ {
		st, err = s.Apply(st, hourWindow(i), 0.55)
		require.NoError(t, err)
		assert.Equal(t, LevelHigh, st.Level, "window %d", i)
	}
}

func TestAsymmetricAlphas(t *testing.T) {
	s := NewSmoother(SmoothingOptions{RiseAlpha: 0.5, FallAlpha: 0.1, HighThreshold: 0.7, ClearThreshold: 0.5})

	st, err := s.Apply(SmoothingState{}, hourWindow(0), 0.4)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, st.LastSmoothed, 1e-9, "first window seeds the EMA")

	st, err = s.Apply(st, hourWindow(1), 0.8)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, st.LastSmoothed, 1e-9, "rise uses rise_alpha")

	st, err = s.Apply(st, hourWindow(2), 0.2)
	require.NoError(t, err)
	assert.InDelta(t, 0.56, st.LastSmoothed, 1e-9, "fall uses fall_alpha")
}

func TestFirstWindowClassifiesWithoutHysteresis(t *testing.T) {
	s := NewSmoother(SmoothingOptions{RiseAlpha: 0.5, FallAlpha: 0.5, HighThreshold: 0.7, ClearThreshold: 0.5})

	st, err := s.Apply(SmoothingState{}, hourWindow(0), 0.71)
	require.NoError(t, err)
	assert.Equal(t, LevelHigh, st.Level)
	assert.Equal(t, hourWindow(0).Start, st.LevelSince)

	st, err = s.Apply(SmoothingState{}, hourWindow(0), 0.69)
	require.NoError(t, err)
	assert.Equal(t, LevelNormal, st.Level)
}

func TestOutOfOrderRejected(t *testing.T) {
	s := NewSmoother(SmoothingOptions{RiseAlpha: 0.5, FallAlpha: 0.5, HighThreshold: 0.7, ClearThreshold: 0.5})

	st, err := s.Apply(SmoothingState{}, hourWindow(3), 0.4)
	require.NoError(t, err)

	_, err = s.Apply(st, hourWindow(2), 0.4)
	assert.ErrorIs(t, err, ErrOutOfOrder, "older window must be rejected")

	_, err = s.Apply(st, hourWindow(3), 0.4)
	assert.ErrorIs(t, err, ErrOutOfOrder, "re-applying the cursor window must be rejected")

	// The rejected application must not advance the state.
	next, err := s.Apply(st, hourWindow(4), 0.4)
	require.NoError(t, err)
	assert.Equal(t, hourWindow(4).Start, next.LastWindowStart)
}

func TestSmoothingDeterministicReplay(t *testing.T) {
	s := NewSmoother(SmoothingOptions{RiseAlpha: 0.4, FallAlpha: 0.15, HighThreshold: 0.7, ClearThreshold: 0.5})
	damped := []float64{0.1, 0.35, 0.9, 0.72, 0.4, 0.38, 0.9, 0.05}

	run := func() []SmoothingState {
		var st SmoothingState
		var out []SmoothingState
		for i, d := range damped {
			var err error
			st, err = s.Apply(st, hourWindow(i), d)
			require.NoError(t, err)
			out = append(out, st)
		}
		return out
	}

	assert.Equal(t, run(), run(), "replaying the same damped sequence must yield identical state sequences")
}

func TestLevelSinceOnlyMovesOnTransition(t *testing.T) {
	s := NewSmoother(SmoothingOptions{RiseAlpha: 1, FallAlpha: 1, HighThreshold: 0.7, ClearThreshold: 0.5})

	st, err := s.Apply(SmoothingState{}, hourWindow(0), 0.8)
	require.NoError(t, err)
	since := st.LevelSince

	st, err = s.Apply(st, hourWindow(1), 0.75)
	require.NoError(t, err)
	assert.Equal(t, since, st.LevelSince, "staying high must not re-extend level_since")

	st, err = s.Apply(st, hourWindow(2), 0.2)
	require.NoError(t, err)
	assert.Equal(t, hourWindow(2).Start, st.LevelSince, "transition moves level_since")
}
