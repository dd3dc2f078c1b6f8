package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-risk-engine/internal/risk"
	"merchant-risk-engine/internal/window"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "riskwatcher", cfg.App.Name)
	assert.Equal(t, []window.IntervalKind{window.Interval1h}, cfg.Engine.IntervalKinds())
	assert.True(t, cfg.Planner.ForwardOnly)
	assert.Equal(t, 3, cfg.Planner.BacktrackWindows)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.BatchTargetDuration)
	assert.Equal(t, 6*time.Hour, cfg.Streams.PrefetchBucket)
	assert.Equal(t, "synthetic", cfg.Streams.Source)
}

func TestValidateWeightsMustSumToOne(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Risk.Weights["sentiment"] = 0.9
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must sum to 1")
}

func TestValidateRejectsUnknownComponent(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Risk.Weights["karma"] = 0.0
	assert.Error(t, cfg.Validate())
}

func TestValidateHysteresisBand(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Risk.ClearThreshold = cfg.Risk.HighThreshold
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear_threshold")
}

func TestValidateStreamSource(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Streams.Source = "kafka"
	assert.Error(t, cfg.Validate())

	cfg.Streams.Source = "http"
	cfg.Streams.BaseURL = ""
	assert.Error(t, cfg.Validate())

	cfg.Streams.Source = "synthetic"
	assert.NoError(t, cfg.Validate())
}

func TestValidateIntervals(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Engine.Intervals = []string{"1h", "5m"}
	assert.Error(t, cfg.Validate())
}

func TestEvaluatorOptionsConversion(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	opts := cfg.Risk.EvaluatorOptions()
	assert.InDelta(t, 0.4, opts.Weights[risk.ComponentSentiment], 1e-9)
	assert.InDelta(t, 0.5, opts.Smoothing.RiseAlpha, 1e-9)
	assert.InDelta(t, 0.55, opts.Smoothing.ClearThreshold, 1e-9)
	assert.InDelta(t, 0.3, opts.Normalizer.WatchlistEscalationThreshold, 1e-9)
}

func TestJobOptionsConversion(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	opts := cfg.JobOptions()
	assert.Equal(t, 2, opts.MaxConcurrentJobs)
	assert.Equal(t, 4, opts.BatchMin)
	assert.Equal(t, 32, opts.BatchMax)
	assert.True(t, opts.Planner.ForwardOnly)
	assert.Len(t, opts.Streams, 6)
}
