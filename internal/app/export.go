package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"merchant-risk-engine/internal/risk"
	"merchant-risk-engine/internal/window"
)

// Export renders one risk timeline as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	kind, err := window.ParseIntervalKind(opts.Interval)
	if err != nil {
		return err
	}
	if opts.MerchantID == "" {
		return errors.New("merchant id required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.mustOpenStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * kind.Duration())
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	results, err := store.ListResultsBetween(ctx, opts.MerchantID, kind, from, to)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		a.Logger.Info().Msg("no evaluations found for export window")
		return nil
	}

	downsampled := downsampleResults(results, opts.MaxPoints)
	a.Logger.Info().Int("total", len(results)).Int("exported", len(downsampled)).Msg("exporting timeline")

	if opts.CSVPath != "" {
		if err := writeResultsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeResultsPNG(opts.PNGPath, opts.MerchantID, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleResults(results []risk.EvaluationResult, max int) []risk.EvaluationResult {
	if max <= 0 || len(results) <= max {
		return results
	}

	out := make([]risk.EvaluationResult, 0, max)
	step := float64(len(results)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(results) {
			idx = len(results) - 1
		}
		out = append(out, results[idx])
	}
	return out
}

func writeResultsCSV(path string, results []risk.EvaluationResult) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"window_start", "base_risk", "damped_risk", "smoothed_risk", "risk_level", "confidence", "incident", "top_driver"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range results {
		topDriver := ""
		if len(r.Drivers) > 0 {
			topDriver = string(r.Drivers[0])
		}
		record := []string{
			r.Window.Start.UTC().Format(time.RFC3339),
			strconv.FormatFloat(r.BaseRisk, 'f', 6, 64),
			strconv.FormatFloat(r.DampedRisk, 'f', 6, 64),
			strconv.FormatFloat(r.SmoothedRisk, 'f', 6, 64),
			string(r.RiskLevel),
			strconv.FormatFloat(r.Confidence, 'f', 4, 64),
			strconv.FormatBool(r.Incident),
			topDriver,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeResultsPNG(path, merchantID string, results []risk.EvaluationResult) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(results))
	damped := make([]float64, len(results))
	smoothed := make([]float64, len(results))
	confidence := make([]float64, len(results))

	for i, r := range results {
		x[i] = r.Window.Start
		damped[i] = r.DampedRisk
		smoothed[i] = r.SmoothedRisk
		confidence[i] = r.Confidence
	}

	riskFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  merchantID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Risk (0..1)",
			ValueFormatter: riskFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Confidence",
			ValueFormatter: riskFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Damped",
				XValues: x,
				YValues: damped,
			},
			chart.TimeSeries{
				Name:    "Smoothed",
				XValues: x,
				YValues: smoothed,
			},
			chart.TimeSeries{
				Name:    "Confidence",
				XValues: x,
				YValues: confidence,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
