package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"merchant-risk-engine/internal/clock"
	"merchant-risk-engine/internal/metrics"
	"merchant-risk-engine/internal/risk"
	"merchant-risk-engine/internal/stream"
	"merchant-risk-engine/internal/window"
)

// Options tune the scheduler.
type Options struct {
	// MaxConcurrentJobs bounds the global pool of running jobs.
	MaxConcurrentJobs int
	// WorkersPerJob bounds the per-job pool that normalizes windows in
	// parallel. Stateful scoring stays sequential per key regardless.
	WorkersPerJob int

	BatchMin            int
	BatchMax            int
	BatchTargetDuration time.Duration

	// MaxFailureFraction marks the job failed (rather than completed with a
	// failure count) once windows_failed/windows_total exceeds it.
	MaxFailureFraction float64

	// RetryAttempts/RetryBackoff govern persistence retries before a window
	// or job update is surfaced as failed.
	RetryAttempts int
	RetryBackoff  time.Duration

	Planner        window.PlanOptions
	PrefetchBucket time.Duration
	Streams        []stream.Stream
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrentJobs < 1 {
		o.MaxConcurrentJobs = 2
	}
	if o.WorkersPerJob < 1 {
		o.WorkersPerJob = 4
	}
	if o.BatchMin < 1 {
		o.BatchMin = 4
	}
	if o.BatchMax < o.BatchMin {
		o.BatchMax = o.BatchMin * 8
	}
	if o.BatchTargetDuration <= 0 {
		o.BatchTargetDuration = 2 * time.Second
	}
	if o.MaxFailureFraction <= 0 {
		o.MaxFailureFraction = 0.5
	}
	if o.RetryAttempts < 1 {
		o.RetryAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 250 * time.Millisecond
	}
	if len(o.Streams) == 0 {
		o.Streams = stream.All()
	}
}

// Scheduler owns the backfill job queue and drives evaluation.
type Scheduler struct {
	opts      Options
	accessor  stream.Accessor
	evaluator *risk.Evaluator
	clk       clock.Clock
	jobStore  JobStore
	sink      ResultSink
	states    StateStore
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	sem      chan struct{}
	keys     *keyLocks
	rootCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu   sync.Mutex
	live map[uuid.UUID]*liveJob
}

type liveJob struct {
	snapshot Job
	cancel   context.CancelFunc
}

// NewScheduler wires a scheduler. Close must be called to stop background
// jobs.
func NewScheduler(opts Options, accessor stream.Accessor, evaluator *risk.Evaluator, clk clock.Clock,
	jobStore JobStore, sink ResultSink, states StateStore, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {

	opts.applyDefaults()
	rootCtx, shutdown := context.WithCancel(context.Background())

	return &Scheduler{
		opts:      opts,
		accessor:  accessor,
		evaluator: evaluator,
		clk:       clk,
		jobStore:  jobStore,
		sink:      sink,
		states:    states,
		metrics:   m,
		logger:    logger.With().Str("component", "job_scheduler").Logger(),
		sem:       make(chan struct{}, opts.MaxConcurrentJobs),
		keys:      newKeyLocks(),
		rootCtx:   rootCtx,
		shutdown:  shutdown,
		live:      make(map[uuid.UUID]*liveJob),
	}
}

// Submit enqueues a backfill job and starts it as soon as a concurrency slot
// frees up.
func (s *Scheduler) Submit(ctx context.Context, merchantID string, kind window.IntervalKind, rangeStart, rangeEnd time.Time) (uuid.UUID, error) {
	if merchantID == "" {
		return uuid.Nil, errors.New("merchant id required")
	}
	if !kind.Valid() {
		return uuid.Nil, fmt.Errorf("invalid interval kind %q", kind)
	}

	job := Job{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Interval:   kind,
		RangeStart: rangeStart.UTC(),
		RangeEnd:   rangeEnd.UTC(),
		Status:     StatusQueued,
		BatchSize:  s.opts.BatchMin,
		CreatedAt:  s.clk.Now(),
	}

	if err := s.withRetry(ctx, func() error { return s.jobStore.InsertJob(ctx, job) }); err != nil {
		return uuid.Nil, fmt.Errorf("persist job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(s.rootCtx)
	s.mu.Lock()
	s.live[job.ID] = &liveJob{snapshot: job, cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(jobCtx, job)
	}()

	s.logger.Info().Str("job_id", job.ID.String()).Str("merchant_id", merchantID).
		Str("interval", string(kind)).Time("from", job.RangeStart).Time("to", job.RangeEnd).
		Msg("job submitted")
	return job.ID, nil
}

// Status returns the freshest view of a job: the live snapshot while it
// runs, the persisted record afterwards.
func (s *Scheduler) Status(ctx context.Context, id uuid.UUID) (Job, error) {
	s.mu.Lock()
	if lj, ok := s.live[id]; ok {
		job := lj.snapshot
		s.mu.Unlock()
		return job, nil
	}
	s.mu.Unlock()
	return s.jobStore.GetJob(ctx, id)
}

// Cancel requests cooperative cancellation. The worker observes it between
// windows; already-persisted results are left intact.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	lj, ok := s.live[id]
	if ok {
		lj.cancel()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	job, err := s.jobStore.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrJobFinished
	}
	// Not live in this process: flip the record so the owning worker stops
	// at its next between-batch status refresh.
	job.Status = StatusCancelled
	now := s.clk.Now()
	job.FinishedAt = &now
	return s.jobStore.UpdateJob(ctx, job)
}

// Wait blocks until every submitted job has finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Close cancels all running jobs and waits for them to stop.
func (s *Scheduler) Close() {
	s.shutdown()
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	logger := s.logger.With().Str("job_id", job.ID.String()).Str("key", job.MerchantID+"/"+string(job.Interval)).Logger()

	// Global concurrency gate.
	select {
	case <-ctx.Done():
		s.finishJob(job, StatusCancelled, nil, logger)
		return
	case s.sem <- struct{}{}:
	}
	defer func() { <-s.sem }()

	s.metrics.JobStarted()
	defer s.metrics.JobReleased()

	now := s.clk.Now()
	job.Status = StatusRunning
	job.StartedAt = &now

	plan := window.Plan(job.MerchantID, job.Interval, job.RangeStart, job.RangeEnd, s.clk.Now(), s.opts.Planner)
	job.WindowsTotal = len(plan)
	s.updateJob(ctx, &job)

	if len(plan) == 0 {
		logger.Info().Msg("nothing due in requested range")
		s.finishJob(job, StatusCompleted, nil, logger)
		return
	}

	cache := stream.NewPrefetchCache(s.accessor, s.opts.PrefetchBucket)
	cache.Observe(s.metrics.PrefetchHit, s.metrics.PrefetchMiss)

	release := s.keys.acquire(plan[0].Key())
	defer release()

	state, err := s.prepareState(ctx, job, plan[0])
	if err != nil {
		msg := err.Error()
		s.finishJob(job, StatusFailed, &msg, logger)
		return
	}

	sizer := newBatchSizer(s.opts.BatchMin, s.opts.BatchMax, s.opts.BatchTargetDuration)
	cancelled := false

	for next := 0; next < len(plan); {
		if s.cancelRequested(ctx, job.ID) {
			cancelled = true
			break
		}

		size := sizer.current()
		if next+size > len(plan) {
			size = len(plan) - next
		}
		batch := plan[next : next+size]
		started := time.Now()

		cache.Prime(ctx, s.opts.Streams, job.MerchantID, batch[0].Start, batch[len(batch)-1].End)
		observations := s.observeBatch(ctx, cache, batch)

		var stop bool
		state, stop = s.finalizeBatch(ctx, &job, batch, observations, state, logger)
		if stop {
			cancelled = true
			break
		}

		elapsed := time.Since(started)
		job.BatchSize = sizer.observe(elapsed)
		s.metrics.BatchObserved(size, elapsed.Seconds())
		s.updateJob(ctx, &job)

		logger.Debug().Int("batch", size).Dur("elapsed", elapsed).
			Int("done", job.WindowsDone).Int("failed", job.WindowsFailed).
			Int("total", job.WindowsTotal).Msg("batch finished")

		next += size
	}

	switch {
	case cancelled:
		s.finishJob(job, StatusCancelled, nil, logger)
	case float64(job.WindowsFailed) > s.opts.MaxFailureFraction*float64(job.WindowsTotal):
		msg := fmt.Sprintf("%d of %d windows failed", job.WindowsFailed, job.WindowsTotal)
		s.finishJob(job, StatusFailed, &msg, logger)
	default:
		s.finishJob(job, StatusCompleted, nil, logger)
	}
}

// prepareState loads the key's smoothing state and rewinds it when the job
// re-enters already-evaluated territory, reconstructing from the last
// persisted result before the plan's first window.
func (s *Scheduler) prepareState(ctx context.Context, job Job, first window.Window) (risk.SmoothingState, error) {
	state, _, err := s.states.GetState(ctx, job.MerchantID, job.Interval)
	if err != nil {
		return risk.SmoothingState{}, fmt.Errorf("load smoothing state: %w", err)
	}
	if !state.Initialized || first.Start.After(state.LastWindowStart) {
		return state, nil
	}

	prev, found, err := s.sink.LatestResultBefore(ctx, job.MerchantID, job.Interval, first.Start)
	if err != nil {
		return risk.SmoothingState{}, fmt.Errorf("rewind smoothing state: %w", err)
	}
	if !found {
		return risk.SmoothingState{}, nil
	}
	return risk.RestoreState(prev, state), nil
}

type observation struct {
	obs        risk.Observation
	fetchFails int
}

// observeBatch runs the stateless normalization of a batch across the
// per-job worker pool. Results come back indexed so the sequential stage can
// consume them in plan order.
func (s *Scheduler) observeBatch(ctx context.Context, cache *stream.PrefetchCache, batch []window.Window) []observation {
	out := make([]observation, len(batch))

	var wg sync.WaitGroup
	slots := make(chan struct{}, s.opts.WorkersPerJob)
	for i := range batch {
		wg.Add(1)
		slots <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-slots }()
			out[i] = s.observeWindow(ctx, cache, batch[i])
		}(i)
	}
	wg.Wait()
	return out
}

func (s *Scheduler) observeWindow(ctx context.Context, cache *stream.PrefetchCache, w window.Window) observation {
	docs := make(map[stream.Stream][]stream.Document, len(s.opts.Streams))
	fails := 0
	for _, src := range s.opts.Streams {
		fetched, err := cache.Fetch(ctx, src, w.MerchantID, w.Start, w.End)
		if err != nil {
			// Absorbed locally: the component evaluates as unavailable and
			// the window proceeds with reduced confidence.
			fails++
			s.logger.Warn().Err(err).Str("stream", string(src)).
				Time("window_start", w.Start).Msg("stream fetch failed; component unavailable")
			continue
		}
		docs[src] = fetched
	}
	return observation{obs: s.evaluator.Observe(docs), fetchFails: fails}
}

// finalizeBatch applies the stateful stages strictly in window order:
// composite damping, smoothing, confidence, persistence. Returns the
// advanced state and whether cancellation was observed.
func (s *Scheduler) finalizeBatch(ctx context.Context, job *Job, batch []window.Window, observations []observation, state risk.SmoothingState, logger zerolog.Logger) (risk.SmoothingState, bool) {
	for i, w := range batch {
		select {
		case <-ctx.Done():
			return state, true
		default:
		}

		result, next, err := s.evaluator.Evaluate(w, observations[i].obs, state, s.clk.Now())
		if err != nil {
			job.WindowsFailed++
			s.metrics.WindowDone(true)
			logger.Error().Err(err).Time("window_start", w.Start).Msg("window evaluation rejected")
			continue
		}

		if err := s.withRetry(ctx, func() error { return s.sink.UpsertResult(ctx, result) }); err != nil {
			// Persistence failure: count the window as failed and keep the
			// state where it was, so smoothing history always matches the
			// persisted timeline.
			job.WindowsFailed++
			s.metrics.WindowDone(true)
			logger.Error().Err(err).Time("window_start", w.Start).Msg("failed to persist evaluation result")
			continue
		}

		state = next
		if err := s.withRetry(ctx, func() error {
			return s.states.PutState(ctx, w.MerchantID, w.Interval, state)
		}); err != nil {
			logger.Error().Err(err).Time("window_start", w.Start).Msg("failed to persist smoothing state")
		}

		job.WindowsDone++
		s.metrics.WindowDone(false)
		s.snapshot(*job)
	}
	return state, false
}

// cancelRequested checks both the in-process cancel and the persisted job
// record, so a cancel issued from another process is honored between batches.
func (s *Scheduler) cancelRequested(ctx context.Context, id uuid.UUID) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}

	stored, err := s.jobStore.GetJob(ctx, id)
	if err != nil {
		return false
	}
	return stored.Status == StatusCancelled
}

func (s *Scheduler) finishJob(job Job, status Status, errMsg *string, logger zerolog.Logger) {
	now := s.clk.Now()
	job.Status = status
	job.FinishedAt = &now
	job.Error = errMsg

	// The job context may already be cancelled; the final update must still
	// land.
	s.withRetryDetached(func(detached context.Context) error {
		return s.jobStore.UpdateJob(detached, job)
	})
	s.metrics.JobFinished(string(status))

	s.mu.Lock()
	delete(s.live, job.ID)
	s.mu.Unlock()

	logger.Info().Str("status", string(status)).
		Int("done", job.WindowsDone).Int("failed", job.WindowsFailed).
		Int("total", job.WindowsTotal).Msg("job finished")
}

func (s *Scheduler) updateJob(ctx context.Context, job *Job) {
	s.snapshot(*job)
	if err := s.withRetry(ctx, func() error { return s.jobStore.UpdateJob(ctx, *job) }); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to update job record")
	}
}

func (s *Scheduler) snapshot(job Job) {
	s.mu.Lock()
	if lj, ok := s.live[job.ID]; ok {
		lj.snapshot = job
	}
	s.mu.Unlock()
}

// withRetry runs fn with bounded exponential backoff.
func (s *Scheduler) withRetry(ctx context.Context, fn func() error) error {
	backoff := s.opts.RetryBackoff
	var err error
	for attempt := 0; attempt < s.opts.RetryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (s *Scheduler) withRetryDetached(fn func(ctx context.Context) error) {
	detached, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.withRetry(detached, func() error { return fn(detached) }); err != nil {
		s.logger.Error().Err(err).Msg("detached persistence failed")
	}
}
