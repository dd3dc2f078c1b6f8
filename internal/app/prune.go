package app

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Prune deletes evaluation results with a window start before the cutoff.
// Jobs and smoothing state are untouched; a later backfill of the pruned
// range simply re-evaluates it.
func (a *App) Prune(ctx context.Context, olderThan time.Time) error {
	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	before, err := store.CountResults(ctx)
	if err != nil {
		return err
	}
	if err := store.DeleteResultsBefore(ctx, olderThan.UTC()); err != nil {
		return err
	}
	after, err := store.CountResults(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "pruned %d results older than %s (%d remain)\n",
		before-after, olderThan.UTC().Format(time.RFC3339), after)
	return nil
}
