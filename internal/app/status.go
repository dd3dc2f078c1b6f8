package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"merchant-risk-engine/internal/jobs"
)

// Status prints one job by id, or the most recent jobs when no id is given.
// It reads the persisted records, so it works against jobs owned by another
// process.
func (a *App) Status(ctx context.Context, opts StatusOptions) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var records []jobs.Job
	if opts.JobID != "" {
		id, parseErr := uuid.Parse(opts.JobID)
		if parseErr != nil {
			return fmt.Errorf("invalid job id: %w", parseErr)
		}
		job, getErr := store.GetJob(ctx, id)
		if getErr != nil {
			return getErr
		}
		records = []jobs.Job{job}
	} else {
		limit := opts.Limit
		if limit <= 0 {
			limit = 10
		}
		records, err = store.ListRecentJobs(ctx, limit)
		if err != nil {
			return err
		}
	}

	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no jobs found")
		return nil
	}

	now := time.Now().UTC()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Job\tKey\tStatus\tProgress\tBatch\tETA\tError")
	for _, job := range records {
		eta := "-"
		if d := job.ETA(now); d > 0 {
			eta = d.Round(time.Second).String()
		}
		errMsg := ""
		if job.Error != nil {
			errMsg = sanitizeInline(*job.Error)
		}
		fmt.Fprintf(writer, "%s\t%s/%s\t%s\t%d/%d (%d failed)\t%d\t%s\t%s\n",
			job.ID, job.MerchantID, job.Interval, job.Status,
			job.WindowsDone, job.WindowsTotal, job.WindowsFailed,
			job.BatchSize, eta, errMsg)
	}
	return writer.Flush()
}

// Cancel flips a persisted job to cancelled. The owning worker observes the
// change at its next between-batch status refresh; already-persisted results
// are left intact.
func (a *App) Cancel(ctx context.Context, jobID string) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}

	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	job, err := store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return errors.New("job already finished")
	}

	job.Status = jobs.StatusCancelled
	now := time.Now().UTC()
	job.FinishedAt = &now
	if err := store.UpdateJob(ctx, job); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "job %s cancelled\n", job.ID)
	return nil
}
