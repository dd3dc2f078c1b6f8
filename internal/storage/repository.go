package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"merchant-risk-engine/internal/jobs"
	"merchant-risk-engine/internal/risk"
	"merchant-risk-engine/internal/stream"
	"merchant-risk-engine/internal/window"
)

const (
	upsertResultSQL = `INSERT INTO evaluation_results (
        merchant_id,
        interval_kind,
        window_start,
        window_end,
        base_risk,
        damped_risk,
        smoothed_risk,
        risk_level,
        confidence,
        drivers,
        components,
        counts,
        incident,
        volume_baseline,
        evaluated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    ON CONFLICT (merchant_id, interval_kind, window_start) DO UPDATE
    SET
        window_end      = EXCLUDED.window_end,
        base_risk       = EXCLUDED.base_risk,
        damped_risk     = EXCLUDED.damped_risk,
        smoothed_risk   = EXCLUDED.smoothed_risk,
        risk_level      = EXCLUDED.risk_level,
        confidence      = EXCLUDED.confidence,
        drivers         = EXCLUDED.drivers,
        components      = EXCLUDED.components,
        counts          = EXCLUDED.counts,
        incident        = EXCLUDED.incident,
        volume_baseline = EXCLUDED.volume_baseline,
        evaluated_at    = EXCLUDED.evaluated_at;`

	selectResultColumns = `merchant_id,
        interval_kind,
        window_start,
        window_end,
        base_risk,
        damped_risk,
        smoothed_risk,
        risk_level,
        confidence,
        drivers,
        components,
        counts,
        incident,
        volume_baseline,
        evaluated_at`

	latestResultBeforeSQL = `SELECT ` + selectResultColumns + `
    FROM evaluation_results
    WHERE merchant_id = $1 AND interval_kind = $2 AND window_start < $3
    ORDER BY window_start DESC
    LIMIT 1;`

	listResultsBetweenSQL = `SELECT ` + selectResultColumns + `
    FROM evaluation_results
    WHERE merchant_id = $1 AND interval_kind = $2
      AND window_start >= $3 AND window_start < $4
    ORDER BY window_start;`

	listRecentResultsSQL = `SELECT ` + selectResultColumns + `
    FROM evaluation_results
    WHERE merchant_id = $1 AND interval_kind = $2
    ORDER BY window_start DESC
    LIMIT $3;`

	deleteResultsBeforeSQL = `DELETE FROM evaluation_results WHERE window_start < $1;`

	countResultsSQL = `SELECT COUNT(*) FROM evaluation_results;`

	getStateSQL = `SELECT
        last_smoothed, risk_level, level_since, last_window_start, prev_damped, volume_baseline
    FROM smoothing_state
    WHERE merchant_id = $1 AND interval_kind = $2;`

	putStateSQL = `INSERT INTO smoothing_state (
        merchant_id, interval_kind, last_smoothed, risk_level, level_since,
        last_window_start, prev_damped, volume_baseline, updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,NOW()
    )
    ON CONFLICT (merchant_id, interval_kind) DO UPDATE
    SET last_smoothed     = EXCLUDED.last_smoothed,
        risk_level        = EXCLUDED.risk_level,
        level_since       = EXCLUDED.level_since,
        last_window_start = EXCLUDED.last_window_start,
        prev_damped       = EXCLUDED.prev_damped,
        volume_baseline   = EXCLUDED.volume_baseline,
        updated_at        = NOW();`

	insertJobSQL = `INSERT INTO jobs (
        id, merchant_id, interval_kind, range_start, range_end, status,
        batch_size, windows_total, windows_done, windows_failed, error,
        created_at, started_at, finished_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    );`

	updateJobSQL = `UPDATE jobs
    SET status = $2,
        batch_size = $3,
        windows_total = $4,
        windows_done = $5,
        windows_failed = $6,
        error = $7,
        started_at = $8,
        finished_at = $9
    WHERE id = $1;`

	selectJobColumns = `id, merchant_id, interval_kind, range_start, range_end, status,
        batch_size, windows_total, windows_done, windows_failed, error,
        created_at, started_at, finished_at`

	getJobSQL = `SELECT ` + selectJobColumns + ` FROM jobs WHERE id = $1;`

	listRecentJobsSQL = `SELECT ` + selectJobColumns + `
    FROM jobs
    ORDER BY created_at DESC
    LIMIT $1;`
)

// componentWire is the persisted shape of one component sub-score.
type componentWire struct {
	Value     float64 `json:"value"`
	Count     int     `json:"count"`
	Available bool    `json:"available"`
}

// UpsertResult persists or supersedes a window evaluation. Safe to call
// repeatedly with the same key.
func (s *Store) UpsertResult(ctx context.Context, result risk.EvaluationResult) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	components := make(map[string]componentWire, len(result.Components))
	for name, score := range result.Components {
		components[string(name)] = componentWire{Value: score.Value, Count: score.Count, Available: score.Available}
	}
	componentsJSON, err := json.Marshal(components)
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}

	countsJSON, err := json.Marshal(result.Counts)
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}

	drivers := make([]string, len(result.Drivers))
	for i, d := range result.Drivers {
		drivers[i] = string(d)
	}

	_, execErr := pool.Exec(ctx, upsertResultSQL,
		result.Window.MerchantID,
		string(result.Window.Interval),
		result.Window.Start,
		result.Window.End,
		decimal.NewFromFloat(result.BaseRisk).String(),
		decimal.NewFromFloat(result.DampedRisk).String(),
		decimal.NewFromFloat(result.SmoothedRisk).String(),
		string(result.RiskLevel),
		decimal.NewFromFloat(result.Confidence).String(),
		drivers,
		componentsJSON,
		countsJSON,
		result.Incident,
		decimal.NewFromFloat(result.VolumeBaseline).String(),
		result.EvaluatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert evaluation result: %w", execErr)
	}
	return nil
}

// LatestResultBefore returns the newest persisted result strictly before the
// given window start, used to rewind smoothing state.
func (s *Store) LatestResultBefore(ctx context.Context, merchantID string, kind window.IntervalKind, before time.Time) (risk.EvaluationResult, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return risk.EvaluationResult{}, false, err
	}

	rows, queryErr := pool.Query(ctx, latestResultBeforeSQL, merchantID, string(kind), before)
	if queryErr != nil {
		return risk.EvaluationResult{}, false, fmt.Errorf("latest result before: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return risk.EvaluationResult{}, false, rows.Err()
	}
	result, scanErr := scanResult(rows)
	if scanErr != nil {
		return risk.EvaluationResult{}, false, scanErr
	}
	return result, true, rows.Err()
}

// ListResultsBetween lists results within [from, to) ordered chronologically.
func (s *Store) ListResultsBetween(ctx context.Context, merchantID string, kind window.IntervalKind, from, to time.Time) ([]risk.EvaluationResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listResultsBetweenSQL, merchantID, string(kind), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list results between: %w", queryErr)
	}
	defer rows.Close()

	return collectResults(rows)
}

// ListRecentResults lists the newest results for a key, newest first.
func (s *Store) ListRecentResults(ctx context.Context, merchantID string, kind window.IntervalKind, limit int) ([]risk.EvaluationResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentResultsSQL, merchantID, string(kind), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent results: %w", queryErr)
	}
	defer rows.Close()

	return collectResults(rows)
}

// DeleteResultsBefore prunes historical results.
func (s *Store) DeleteResultsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteResultsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete results before: %w", execErr)
	}
	return nil
}

// CountResults counts stored evaluation results.
func (s *Store) CountResults(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countResultsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count results: %w", scanErr)
	}
	return count, nil
}

// GetState loads the smoothing state for a key.
func (s *Store) GetState(ctx context.Context, merchantID string, kind window.IntervalKind) (risk.SmoothingState, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return risk.SmoothingState{}, false, err
	}

	var (
		lastSmoothedStr   string
		level             string
		levelSince        time.Time
		lastWindowStart   time.Time
		prevDampedStr     string
		volumeBaselineStr string
	)
	scanErr := pool.QueryRow(ctx, getStateSQL, merchantID, string(kind)).Scan(
		&lastSmoothedStr, &level, &levelSince, &lastWindowStart, &prevDampedStr, &volumeBaselineStr,
	)
	if scanErr == pgx.ErrNoRows {
		return risk.SmoothingState{}, false, nil
	}
	if scanErr != nil {
		return risk.SmoothingState{}, false, fmt.Errorf("get smoothing state: %w", scanErr)
	}

	lastSmoothed, err := parseNumeric("last_smoothed", lastSmoothedStr)
	if err != nil {
		return risk.SmoothingState{}, false, err
	}
	prevDamped, err := parseNumeric("prev_damped", prevDampedStr)
	if err != nil {
		return risk.SmoothingState{}, false, err
	}
	volumeBaseline, err := parseNumeric("volume_baseline", volumeBaselineStr)
	if err != nil {
		return risk.SmoothingState{}, false, err
	}

	return risk.SmoothingState{
		LastSmoothed:    lastSmoothed,
		Level:           risk.Level(level),
		LevelSince:      levelSince,
		LastWindowStart: lastWindowStart,
		PrevDamped:      prevDamped,
		VolumeBaseline:  volumeBaseline,
		Initialized:     true,
	}, true, nil
}

// PutState upserts the smoothing state for a key.
func (s *Store) PutState(ctx context.Context, merchantID string, kind window.IntervalKind, state risk.SmoothingState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, putStateSQL,
		merchantID,
		string(kind),
		decimal.NewFromFloat(state.LastSmoothed).String(),
		string(state.Level),
		state.LevelSince,
		state.LastWindowStart,
		decimal.NewFromFloat(state.PrevDamped).String(),
		decimal.NewFromFloat(state.VolumeBaseline).String(),
	)
	if execErr != nil {
		return fmt.Errorf("put smoothing state: %w", execErr)
	}
	return nil
}

// InsertJob persists a freshly submitted job.
func (s *Store) InsertJob(ctx context.Context, job jobs.Job) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertJobSQL,
		job.ID,
		job.MerchantID,
		string(job.Interval),
		job.RangeStart,
		job.RangeEnd,
		string(job.Status),
		job.BatchSize,
		job.WindowsTotal,
		job.WindowsDone,
		job.WindowsFailed,
		nullableString(job.Error),
		job.CreatedAt,
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
	)
	if execErr != nil {
		return fmt.Errorf("insert job: %w", execErr)
	}
	return nil
}

// UpdateJob persists job progress and status.
func (s *Store) UpdateJob(ctx context.Context, job jobs.Job) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, updateJobSQL,
		job.ID,
		string(job.Status),
		job.BatchSize,
		job.WindowsTotal,
		job.WindowsDone,
		job.WindowsFailed,
		nullableString(job.Error),
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
	)
	if execErr != nil {
		return fmt.Errorf("update job: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

// GetJob fetches one job record.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (jobs.Job, error) {
	pool, err := s.getPool()
	if err != nil {
		return jobs.Job{}, err
	}

	rows, queryErr := pool.Query(ctx, getJobSQL, id)
	if queryErr != nil {
		return jobs.Job{}, fmt.Errorf("get job: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return jobs.Job{}, rows.Err()
		}
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return scanJob(rows)
}

// ListRecentJobs lists the newest jobs.
func (s *Store) ListRecentJobs(ctx context.Context, limit int) ([]jobs.Job, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentJobsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent jobs: %w", queryErr)
	}
	defer rows.Close()

	records := make([]jobs.Job, 0, limit)
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, job)
	}
	return records, rows.Err()
}

func collectResults(rows pgx.Rows) ([]risk.EvaluationResult, error) {
	results := make([]risk.EvaluationResult, 0)
	for rows.Next() {
		result, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func scanResult(rows pgx.Rows) (risk.EvaluationResult, error) {
	var (
		merchantID     string
		intervalKind   string
		windowStart    time.Time
		windowEnd      time.Time
		baseStr        string
		dampedStr      string
		smoothedStr    string
		level          string
		confidenceStr  string
		drivers        []string
		componentsJSON []byte
		countsJSON     []byte
		incident       bool
		baselineStr    string
		evaluatedAt    time.Time
	)

	if err := rows.Scan(
		&merchantID,
		&intervalKind,
		&windowStart,
		&windowEnd,
		&baseStr,
		&dampedStr,
		&smoothedStr,
		&level,
		&confidenceStr,
		&drivers,
		&componentsJSON,
		&countsJSON,
		&incident,
		&baselineStr,
		&evaluatedAt,
	); err != nil {
		return risk.EvaluationResult{}, err
	}

	base, err := parseNumeric("base_risk", baseStr)
	if err != nil {
		return risk.EvaluationResult{}, err
	}
	damped, err := parseNumeric("damped_risk", dampedStr)
	if err != nil {
		return risk.EvaluationResult{}, err
	}
	smoothed, err := parseNumeric("smoothed_risk", smoothedStr)
	if err != nil {
		return risk.EvaluationResult{}, err
	}
	confidence, err := parseNumeric("confidence", confidenceStr)
	if err != nil {
		return risk.EvaluationResult{}, err
	}
	baseline, err := parseNumeric("volume_baseline", baselineStr)
	if err != nil {
		return risk.EvaluationResult{}, err
	}

	var wire map[string]componentWire
	if err := json.Unmarshal(componentsJSON, &wire); err != nil {
		return risk.EvaluationResult{}, fmt.Errorf("unmarshal components: %w", err)
	}
	components := make(map[risk.Component]risk.ComponentScore, len(wire))
	for name, score := range wire {
		components[risk.Component(name)] = risk.ComponentScore{
			Value: score.Value, Count: score.Count, Available: score.Available,
		}
	}

	var counts map[stream.Stream]int
	if err := json.Unmarshal(countsJSON, &counts); err != nil {
		return risk.EvaluationResult{}, fmt.Errorf("unmarshal counts: %w", err)
	}

	driverComponents := make([]risk.Component, len(drivers))
	for i, d := range drivers {
		driverComponents[i] = risk.Component(d)
	}

	return risk.EvaluationResult{
		Window: window.Window{
			MerchantID: merchantID,
			Interval:   window.IntervalKind(intervalKind),
			Start:      windowStart,
			End:        windowEnd,
		},
		Components:     components,
		BaseRisk:       base,
		DampedRisk:     damped,
		SmoothedRisk:   smoothed,
		RiskLevel:      risk.Level(level),
		Confidence:     confidence,
		Drivers:        driverComponents,
		Counts:         counts,
		Incident:       incident,
		VolumeBaseline: baseline,
		EvaluatedAt:    evaluatedAt,
	}, nil
}

func scanJob(rows pgx.Rows) (jobs.Job, error) {
	var (
		job        jobs.Job
		kind       string
		status     string
		errMsg     sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	if err := rows.Scan(
		&job.ID,
		&job.MerchantID,
		&kind,
		&job.RangeStart,
		&job.RangeEnd,
		&status,
		&job.BatchSize,
		&job.WindowsTotal,
		&job.WindowsDone,
		&job.WindowsFailed,
		&errMsg,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return jobs.Job{}, err
	}

	job.Interval = window.IntervalKind(kind)
	job.Status = jobs.Status(status)
	if errMsg.Valid {
		msg := errMsg.String
		job.Error = &msg
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return job, nil
}

func parseNumeric(field, value string) (float64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return d.InexactFloat64(), nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

var (
	_ jobs.ResultSink = (*Store)(nil)
	_ jobs.StateStore = (*Store)(nil)
	_ jobs.JobStore   = (*Store)(nil)
)
