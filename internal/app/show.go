package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"merchant-risk-engine/internal/risk"
	"merchant-risk-engine/internal/window"
)

// Show prints the most recent evaluations of one risk timeline.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	kind, err := window.ParseIntervalKind(opts.Interval)
	if err != nil {
		return err
	}
	if opts.MerchantID == "" {
		return errors.New("merchant id required")
	}

	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	results, err := store.ListRecentResults(ctx, opts.MerchantID, kind, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(os.Stdout, "no evaluations found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Window (UTC)\tBase\tDamped\tSmoothed\tLevel\tConf\tIncident\tDrivers")
	for _, r := range results {
		fmt.Fprintf(writer, "%s\t%.3f\t%.3f\t%.3f\t%s\t%.2f\t%v\t%s\n",
			r.Window.Start.UTC().Format(time.RFC3339),
			r.BaseRisk, r.DampedRisk, r.SmoothedRisk,
			r.RiskLevel, r.Confidence, r.Incident,
			formatDrivers(r.Drivers))
	}
	return writer.Flush()
}

func formatDrivers(drivers []risk.Component) string {
	if len(drivers) == 0 {
		return "-"
	}
	names := make([]string, len(drivers))
	for i, d := range drivers {
		names[i] = string(d)
	}
	return strings.Join(names, ",")
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
