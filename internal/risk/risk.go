// Package risk turns raw per-stream documents into an explainable, smoothed
// risk timeline: per-component normalization, weighted composite scoring with
// damping and incident bumps, confidence, and an EMA/hysteresis state machine
// keyed by (merchant, interval).
package risk

import (
	"errors"
	"fmt"
	"time"

	"merchant-risk-engine/internal/stream"
	"merchant-risk-engine/internal/window"
)

// Component names one configured risk sub-score.
type Component string

const (
	ComponentSentiment  Component = "sentiment"
	ComponentReviews    Component = "reviews"
	ComponentWatchlist  Component = "watchlist"
	ComponentVolatility Component = "volatility"
	ComponentVolume     Component = "volume"
)

// Components lists every configured component in stable order.
func Components() []Component {
	return []Component{
		ComponentSentiment,
		ComponentReviews,
		ComponentWatchlist,
		ComponentVolatility,
		ComponentVolume,
	}
}

// Level is the discrete risk state of a timeline.
type Level string

const (
	LevelNormal Level = "normal"
	LevelHigh   Level = "high"
)

// ComponentScore is one component's contribution to a window. A component
// with zero documents is absent (Available=false), not zero: it contributes
// to neither the composite nor the confidence numerator.
type ComponentScore struct {
	Value     float64
	Count     int
	Available bool
}

// EvaluationResult is the immutable outcome of evaluating one window. A
// later re-evaluation of the same window supersedes it via idempotent upsert.
type EvaluationResult struct {
	Window       window.Window
	Components   map[Component]ComponentScore
	BaseRisk     float64
	DampedRisk   float64
	SmoothedRisk float64
	RiskLevel    Level
	Confidence   float64
	// Drivers ranks available components by weighted contribution,
	// highest first.
	Drivers  []Component
	Counts   map[stream.Stream]int
	Incident bool
	// VolumeBaseline is the rolling activity baseline after folding in this
	// window, persisted so a rewind can restore the key's state exactly.
	VolumeBaseline float64

	EvaluatedAt time.Time
}

// SmoothingState is the per-(merchant, interval) evaluation history. It is
// advanced strictly in window-chronological order; LastWindowStart is the
// cursor that out-of-order submissions are rejected against.
type SmoothingState struct {
	LastSmoothed    float64
	Level           Level
	LevelSince      time.Time
	LastWindowStart time.Time
	PrevDamped      float64
	VolumeBaseline  float64
	Initialized     bool
}

// ErrOutOfOrder reports a window submitted behind the smoothing cursor. This
// is a contract violation, never applied silently.
var ErrOutOfOrder = errors.New("window behind smoothing cursor")

func outOfOrderError(w window.Window, cursor time.Time) error {
	return fmt.Errorf("key %s: window %s vs cursor %s: %w",
		w.Key(), w.Start.Format(time.RFC3339), cursor.Format(time.RFC3339), ErrOutOfOrder)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
