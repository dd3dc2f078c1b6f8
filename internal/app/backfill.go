package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"merchant-risk-engine/internal/clock"
	"merchant-risk-engine/internal/jobs"
	"merchant-risk-engine/internal/window"
)

// Backfill submits one historical evaluation job and blocks until it reaches
// a terminal status.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	kind, err := window.ParseIntervalKind(opts.Interval)
	if err != nil {
		return err
	}
	if opts.MerchantID == "" {
		return errors.New("merchant id required")
	}
	if !opts.From.Before(opts.To) {
		return errors.New("backfill range is empty; check --from/--to")
	}

	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	accessor, err := a.newAccessor(store)
	if err != nil {
		return err
	}

	clk := clock.Wall{}
	sched := a.buildScheduler(store, accessor, clk, window.PlanOptions{})
	defer sched.Close()

	id, err := sched.Submit(ctx, opts.MerchantID, kind, opts.From, opts.To)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("job_id", id.String()).Msg("backfill job submitted")

	sched.Wait()

	job, err := sched.Status(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "job %s: %s (%d evaluated, %d failed of %d windows)\n",
		job.ID, job.Status, job.WindowsDone, job.WindowsFailed, job.WindowsTotal)
	if job.Error != nil {
		fmt.Fprintf(os.Stdout, "error: %s\n", *job.Error)
	}
	if job.Status != jobs.StatusCompleted {
		return fmt.Errorf("backfill finished with status %s", job.Status)
	}
	return nil
}
