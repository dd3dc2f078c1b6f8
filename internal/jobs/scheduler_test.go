package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-risk-engine/internal/clock"
	"merchant-risk-engine/internal/jobs"
	"merchant-risk-engine/internal/risk"
	"merchant-risk-engine/internal/storage"
	"merchant-risk-engine/internal/stream"
	"merchant-risk-engine/internal/window"
)

func testEvaluator() *risk.Evaluator {
	return risk.NewEvaluator(risk.EvaluatorOptions{
		Weights: map[risk.Component]float64{
			risk.ComponentSentiment:  0.4,
			risk.ComponentReviews:    0.2,
			risk.ComponentWatchlist:  0.2,
			risk.ComponentVolatility: 0.1,
			risk.ComponentVolume:     0.1,
		},
		StabilityCap: 0.15,
		IncidentBump: 0.2,
		Smoothing: risk.SmoothingOptions{
			RiseAlpha:      0.5,
			FallAlpha:      0.2,
			HighThreshold:  0.7,
			ClearThreshold: 0.55,
		},
	}, zerolog.Nop())
}

func newTestScheduler(t *testing.T, opts jobs.Options, accessor stream.Accessor, store *storage.MemoryStore, clk clock.Clock) *jobs.Scheduler {
	t.Helper()
	s := jobs.NewScheduler(opts, accessor, testEvaluator(), clk, store, store, store, nil, zerolog.Nop())
	t.Cleanup(s.Close)
	return s
}

func TestSchedulerBackfillCompletes(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	clk := clock.NewSimulated(end.Add(time.Hour))
	store := storage.NewMemoryStore()

	s := newTestScheduler(t, jobs.Options{BatchMin: 4, BatchMax: 8}, &stream.Synthetic{Seed: 7}, store, clk)

	id, err := s.Submit(context.Background(), "merchant-a", window.Interval1h, start, end)
	require.NoError(t, err)
	s.Wait()

	job, err := s.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 24, job.WindowsTotal)
	assert.Equal(t, 24, job.WindowsDone)
	assert.Zero(t, job.WindowsFailed)
	require.NotNil(t, job.FinishedAt)

	results, err := store.ListResultsBetween(context.Background(), "merchant-a", window.Interval1h, start, end)
	require.NoError(t, err)
	require.Len(t, results, 24)
	for i := 1; i < len(results); i++ {
		assert.True(t, results[i-1].Window.Start.Before(results[i].Window.Start),
			"results must be chronological")
	}

	state, ok, err := store.GetState(context.Background(), "merchant-a", window.Interval1h)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, results[len(results)-1].Window.Start, state.LastWindowStart)
}

func TestSchedulerReplayIsDeterministic(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(12 * time.Hour)
	clk := clock.NewSimulated(end.Add(time.Hour))

	run := func() []risk.EvaluationResult {
		store := storage.NewMemoryStore()
		s := newTestScheduler(t, jobs.Options{}, &stream.Synthetic{Seed: 42}, store, clk)
		_, err := s.Submit(context.Background(), "merchant-a", window.Interval1h, start, end)
		require.NoError(t, err)
		s.Wait()
		results, err := store.ListResultsBetween(context.Background(), "merchant-a", window.Interval1h, start, end)
		require.NoError(t, err)
		return results
	}

	first := run()
	second := run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].SmoothedRisk, second[i].SmoothedRisk)
		assert.Equal(t, first[i].RiskLevel, second[i].RiskLevel)
		assert.Equal(t, first[i].Drivers, second[i].Drivers)
	}
}

type slowAccessor struct {
	inner stream.Accessor
	delay time.Duration
}

func (a *slowAccessor) Fetch(ctx context.Context, s stream.Stream, merchantID string, start, end time.Time) ([]stream.Document, error) {
	select {
	case <-ctx.Done():
		return nil, &stream.FetchError{Stream: s, Err: ctx.Err()}
	case <-time.After(a.delay):
	}
	return a.inner.Fetch(ctx, s, merchantID, start, end)
}

func TestSchedulerLimitsConcurrentJobs(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)
	clk := clock.NewSimulated(end.Add(time.Hour))
	store := storage.NewMemoryStore()

	accessor := &slowAccessor{inner: &stream.Synthetic{Seed: 1}, delay: 5 * time.Millisecond}
	s := newTestScheduler(t, jobs.Options{MaxConcurrentJobs: 1, BatchMin: 1, BatchMax: 1}, accessor, store, clk)

	firstID, err := s.Submit(context.Background(), "merchant-a", window.Interval1h, start, end)
	require.NoError(t, err)
	secondID, err := s.Submit(context.Background(), "merchant-b", window.Interval1h, start, end)
	require.NoError(t, err)

	// While the first job holds the only slot, the second must still be
	// queued.
	deadline := time.After(5 * time.Second)
	for {
		first, statusErr := s.Status(context.Background(), firstID)
		require.NoError(t, statusErr)
		if first.Status == jobs.StatusRunning {
			second, statusErr := s.Status(context.Background(), secondID)
			require.NoError(t, statusErr)
			assert.Equal(t, jobs.StatusQueued, second.Status)
			assert.Nil(t, second.StartedAt)
			break
		}
		if first.Status.Terminal() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first job never started")
		case <-time.After(time.Millisecond):
		}
	}

	s.Wait()

	first, err := store.GetJob(context.Background(), firstID)
	require.NoError(t, err)
	second, err := store.GetJob(context.Background(), secondID)
	require.NoError(t, err)
	require.NotNil(t, first.FinishedAt)
	require.NotNil(t, second.FinishedAt)
	assert.Equal(t, jobs.StatusCompleted, first.Status)
	assert.Equal(t, jobs.StatusCompleted, second.Status)
}

func TestSchedulerCancelRetainsPartialResults(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	clk := clock.NewSimulated(end.Add(time.Hour))
	store := storage.NewMemoryStore()

	accessor := &slowAccessor{inner: &stream.Synthetic{Seed: 1}, delay: 2 * time.Millisecond}
	s := newTestScheduler(t, jobs.Options{BatchMin: 1, BatchMax: 1}, accessor, store, clk)

	id, err := s.Submit(context.Background(), "merchant-a", window.Interval1h, start, end)
	require.NoError(t, err)

	// Let at least one window land before cancelling.
	deadline := time.After(5 * time.Second)
	for {
		job, statusErr := s.Status(context.Background(), id)
		require.NoError(t, statusErr)
		if job.WindowsDone >= 1 {
			break
		}
		if job.Status.Terminal() {
			t.Fatalf("job finished before cancel: %s", job.Status)
		}
		select {
		case <-deadline:
			t.Fatal("no window completed in time")
		case <-time.After(time.Millisecond):
		}
	}

	require.NoError(t, s.Cancel(context.Background(), id))
	s.Wait()

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCancelled, job.Status)
	assert.Less(t, job.WindowsDone, job.WindowsTotal)

	count, err := store.CountResults(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(job.WindowsDone), count)
}

type failingSink struct {
	*storage.MemoryStore
}

func (f *failingSink) UpsertResult(context.Context, risk.EvaluationResult) error {
	return errors.New("sink unavailable")
}

func TestSchedulerFailureFractionMarksJobFailed(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(6 * time.Hour)
	clk := clock.NewSimulated(end.Add(time.Hour))
	store := storage.NewMemoryStore()

	opts := jobs.Options{
		MaxFailureFraction: 0.5,
		RetryAttempts:      1,
		RetryBackoff:       time.Millisecond,
	}
	s := jobs.NewScheduler(opts, &stream.Synthetic{Seed: 1}, testEvaluator(), clk,
		store, &failingSink{store}, store, nil, zerolog.Nop())
	t.Cleanup(s.Close)

	id, err := s.Submit(context.Background(), "merchant-a", window.Interval1h, start, end)
	require.NoError(t, err)
	s.Wait()

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, 6, job.WindowsFailed)
	require.NotNil(t, job.Error)
}

func TestSchedulerFetchFailuresDegradeNotFail(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)
	clk := clock.NewSimulated(end.Add(time.Hour))
	store := storage.NewMemoryStore()

	// Only sentiment streams resolve; everything else errors out.
	accessor := partialAccessor{inner: &stream.Synthetic{Seed: 1}}
	s := newTestScheduler(t, jobs.Options{}, accessor, store, clk)

	id, err := s.Submit(context.Background(), "merchant-a", window.Interval1h, start, end)
	require.NoError(t, err)
	s.Wait()

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 4, job.WindowsDone)

	results, err := store.ListResultsBetween(context.Background(), "merchant-a", window.Interval1h, start, end)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.False(t, r.Components[risk.ComponentWatchlist].Available)
		assert.Less(t, r.Confidence, 1.0)
	}
}

type partialAccessor struct {
	inner stream.Accessor
}

func (a partialAccessor) Fetch(ctx context.Context, s stream.Stream, merchantID string, start, end time.Time) ([]stream.Document, error) {
	switch s {
	case stream.Tweets, stream.Reddit, stream.News:
		return a.inner.Fetch(ctx, s, merchantID, start, end)
	}
	return nil, &stream.FetchError{Stream: s, Err: errors.New("adapter offline")}
}

func TestSchedulerBacktrackRewindsState(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(12 * time.Hour)
	clk := clock.NewSimulated(end.Add(time.Hour))
	store := storage.NewMemoryStore()

	s := newTestScheduler(t, jobs.Options{}, &stream.Synthetic{Seed: 9}, store, clk)

	_, err := s.Submit(context.Background(), "merchant-a", window.Interval1h, start, end)
	require.NoError(t, err)
	s.Wait()

	before, err := store.ListResultsBetween(context.Background(), "merchant-a", window.Interval1h, start, end)
	require.NoError(t, err)
	require.Len(t, before, 12)

	// Re-run the tail of the already-evaluated range.
	id, err := s.Submit(context.Background(), "merchant-a", window.Interval1h, start.Add(6*time.Hour), end)
	require.NoError(t, err)
	s.Wait()

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 6, job.WindowsDone)

	// The rewound replay is deterministic, so the superseding results match
	// the originals.
	after, err := store.ListResultsBetween(context.Background(), "merchant-a", window.Interval1h, start, end)
	require.NoError(t, err)
	require.Len(t, after, 12)
	for i := range after {
		assert.Equal(t, before[i].SmoothedRisk, after[i].SmoothedRisk, "window %d", i)
		assert.Equal(t, before[i].RiskLevel, after[i].RiskLevel, "window %d", i)
	}
}

func TestSchedulerBatchSizeStaysWithinBounds(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Hour)
	clk := clock.NewSimulated(end.Add(time.Hour))
	store := storage.NewMemoryStore()

	opts := jobs.Options{BatchMin: 2, BatchMax: 6, BatchTargetDuration: time.Millisecond}
	s := newTestScheduler(t, opts, &stream.Synthetic{Seed: 3}, store, clk)

	id, err := s.Submit(context.Background(), "merchant-a", window.Interval1h, start, end)
	require.NoError(t, err)
	s.Wait()

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.GreaterOrEqual(t, job.BatchSize, 2)
	assert.LessOrEqual(t, job.BatchSize, 6)
}

func TestSchedulerRejectsInvalidSubmissions(t *testing.T) {
	clk := clock.NewSimulated(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStore()
	s := newTestScheduler(t, jobs.Options{}, &stream.Synthetic{}, store, clk)

	_, err := s.Submit(context.Background(), "", window.Interval1h, time.Time{}, time.Time{})
	assert.Error(t, err)

	_, err = s.Submit(context.Background(), "merchant-a", window.IntervalKind("5m"), time.Time{}, time.Time{})
	assert.Error(t, err)
}

func TestSchedulerStatusUnknownJob(t *testing.T) {
	clk := clock.NewSimulated(time.Now())
	store := storage.NewMemoryStore()
	s := newTestScheduler(t, jobs.Options{}, &stream.Synthetic{}, store, clk)

	_, err := s.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}
