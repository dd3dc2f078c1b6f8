// Package jobs owns the backfill job lifecycle: the queue, the global
// concurrency limit, per-job worker pools with adaptive batch sizing,
// prefetch-driven evaluation, and per-(merchant, interval) serialization.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"merchant-risk-engine/internal/risk"
	"merchant-risk-engine/internal/window"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is one backfill request over a merchant's timeline. The record is
// owned exclusively by the worker running it; everyone else reads snapshots.
type Job struct {
	ID            uuid.UUID
	MerchantID    string
	Interval      window.IntervalKind
	RangeStart    time.Time
	RangeEnd      time.Time
	Status        Status
	BatchSize     int
	WindowsTotal  int
	WindowsDone   int
	WindowsFailed int
	Error         *string
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// ETA estimates remaining runtime from observed throughput. Zero when the
// job is terminal or has made no progress yet.
func (j Job) ETA(now time.Time) time.Duration {
	if j.Status.Terminal() || j.StartedAt == nil || j.WindowsDone == 0 {
		return 0
	}
	elapsed := now.Sub(*j.StartedAt)
	if elapsed <= 0 {
		return 0
	}
	perWindow := elapsed / time.Duration(j.WindowsDone)
	remaining := j.WindowsTotal - j.WindowsDone - j.WindowsFailed
	if remaining <= 0 {
		return 0
	}
	return perWindow * time.Duration(remaining)
}

var (
	// ErrJobNotFound reports an unknown job id.
	ErrJobNotFound = errors.New("jobs: job not found")
	// ErrJobFinished reports an operation against a terminal job.
	ErrJobFinished = errors.New("jobs: job already finished")
)

// JobStore persists job records.
type JobStore interface {
	InsertJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id uuid.UUID) (Job, error)
	ListRecentJobs(ctx context.Context, limit int) ([]Job, error)
}

// ResultSink persists evaluation results, idempotently keyed by
// (merchant, interval, window start).
type ResultSink interface {
	UpsertResult(ctx context.Context, result risk.EvaluationResult) error
	LatestResultBefore(ctx context.Context, merchantID string, kind window.IntervalKind, before time.Time) (risk.EvaluationResult, bool, error)
}

// StateStore persists per-key smoothing state.
type StateStore interface {
	GetState(ctx context.Context, merchantID string, kind window.IntervalKind) (risk.SmoothingState, bool, error)
	PutState(ctx context.Context, merchantID string, kind window.IntervalKind, state risk.SmoothingState) error
}
