package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"merchant-risk-engine/internal/clock"
	"merchant-risk-engine/internal/config"
	"merchant-risk-engine/internal/jobs"
	"merchant-risk-engine/internal/metrics"
	"merchant-risk-engine/internal/risk"
	"merchant-risk-engine/internal/scheduler"
	"merchant-risk-engine/internal/storage"
	"merchant-risk-engine/internal/stream"
	"merchant-risk-engine/internal/window"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	metrics *metrics.Metrics
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// Metrics lazily builds the collector set when the endpoint is enabled; a nil
// *metrics.Metrics is a valid no-op otherwise.
func (a *App) Metrics() *metrics.Metrics {
	if !a.Config.Metrics.Enabled {
		return nil
	}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	return a.metrics
}

func (a *App) newAccessor(store *storage.Store) (stream.Accessor, error) {
	switch a.Config.Streams.Source {
	case "http":
		return stream.NewHTTPAccessor(stream.HTTPOptions{
			BaseURL:   a.Config.Streams.BaseURL,
			Timeout:   a.Config.Streams.RequestTimeout,
			UserAgent: a.Config.Streams.UserAgent,
		}, a.Logger), nil
	case "postgres":
		if store == nil {
			return nil, errors.New("streams.source postgres requires database.dsn")
		}
		return storage.NewDocumentAccessor(store), nil
	case "synthetic":
		return &stream.Synthetic{}, nil
	}
	return nil, fmt.Errorf("unknown streams.source %q", a.Config.Streams.Source)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) mustOpenStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}
	return store, closeStore, nil
}

// buildScheduler wires a job scheduler over the pg store. Forward-only
// planning applies to the live loop; backfill jobs plan their full range.
func (a *App) buildScheduler(store *storage.Store, accessor stream.Accessor, clk clock.Clock, planner window.PlanOptions) *jobs.Scheduler {
	evaluator := risk.NewEvaluator(a.Config.Risk.EvaluatorOptions(), a.Logger)
	opts := a.Config.JobOptions()
	opts.Planner = planner
	return jobs.NewScheduler(opts, accessor, evaluator, clk, store, store, store, a.Metrics(), a.Logger)
}

// Run executes the long-running evaluation service: the forward tick loop
// plus the backfill job scheduler, guarded by a postgres advisory lock so
// only one instance evaluates per database.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Engine.AdvisoryLockKey)
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		return errors.New("another instance already holds the evaluation lock")
	}
	defer unlock()

	accessor, err := a.newAccessor(store)
	if err != nil {
		return err
	}

	clk := clock.Wall{}
	sched := a.buildScheduler(store, accessor, clk, a.Config.Planner.PlanOptions())
	defer sched.Close()

	if a.Config.Metrics.Enabled {
		a.serveMetrics(ctx)
	}

	loop := scheduler.New(scheduler.Options{
		Tick:         a.Config.Engine.Tick,
		AlignToStart: a.Config.Engine.AlignToBucket,
		StartupDelay: a.Config.Engine.StartupDelay,
	}, clk, a.Logger)

	forward := newForwardLoop(a.Config, sched, clk, a.Logger)

	a.Logger.Info().Strs("merchants", a.Config.Engine.Merchants).
		Strs("intervals", a.Config.Engine.Intervals).Msg("starting evaluation service")

	err = loop.Run(ctx, forward.tick)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("evaluation service stopped")
	return nil
}

// forwardLoop submits forward-only jobs for every configured key. A key with
// a still-running job is skipped until it finishes; the planner's backtrack
// bound keeps repeated submissions cheap and late data covered.
type forwardLoop struct {
	cfg    *config.Config
	sched  *jobs.Scheduler
	clk    clock.Clock
	logger zerolog.Logger

	inflight map[string]uuid.UUID
}

func newForwardLoop(cfg *config.Config, sched *jobs.Scheduler, clk clock.Clock, logger zerolog.Logger) *forwardLoop {
	return &forwardLoop{
		cfg:      cfg,
		sched:    sched,
		clk:      clk,
		logger:   logger.With().Str("component", "forward_loop").Logger(),
		inflight: make(map[string]uuid.UUID),
	}
}

func (f *forwardLoop) tick(ctx context.Context, _ time.Time) error {
	now := f.clk.Now()
	for _, merchantID := range f.cfg.Engine.Merchants {
		for _, kind := range f.cfg.Engine.IntervalKinds() {
			if err := f.submit(ctx, merchantID, kind, now); err != nil {
				f.logger.Error().Err(err).Str("merchant_id", merchantID).
					Str("interval", string(kind)).Msg("forward submission failed")
			}
		}
	}
	return nil
}

func (f *forwardLoop) submit(ctx context.Context, merchantID string, kind window.IntervalKind, now time.Time) error {
	key := merchantID + "/" + string(kind)
	if id, ok := f.inflight[key]; ok {
		job, err := f.sched.Status(ctx, id)
		if err == nil && !job.Status.Terminal() {
			return nil
		}
		delete(f.inflight, key)
	}

	interval := kind.Duration()
	backtrack := time.Duration(f.cfg.Planner.BacktrackWindows+1) * interval
	rangeStart := now.Add(-backtrack).Truncate(interval)

	plan := window.Plan(merchantID, kind, rangeStart, now, now, f.cfg.Planner.PlanOptions())
	if len(plan) == 0 {
		return nil
	}

	id, err := f.sched.Submit(ctx, merchantID, kind, rangeStart, now)
	if err != nil {
		return err
	}
	f.inflight[key] = id
	return nil
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics().Handler())

	srv := &http.Server{Addr: a.Config.Metrics.ListenAddr, Handler: mux}
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// ExportOptions hold parameters for exporting a risk timeline.
type ExportOptions struct {
	MerchantID string
	Interval   string
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	MerchantID string
	Interval   string
	Limit      int
}

// BackfillOptions configure the backfill command.
type BackfillOptions struct {
	MerchantID string
	Interval   string
	From       time.Time
	To         time.Time
}

// StatusOptions configure the status command.
type StatusOptions struct {
	JobID string
	Limit int
}

// SimulateOptions configure a deterministic synthetic run.
type SimulateOptions struct {
	MerchantID   string
	Interval     string
	From         time.Time
	To           time.Time
	Seed         int64
	IncidentFrom *time.Time
	IncidentTo   *time.Time
	Limit        int
}
