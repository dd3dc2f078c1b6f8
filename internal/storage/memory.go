package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"merchant-risk-engine/internal/jobs"
	"merchant-risk-engine/internal/risk"
	"merchant-risk-engine/internal/window"
)

// MemoryStore is an in-memory implementation of the persistence contracts,
// used by simulate runs and tests. All methods are safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	results map[string][]risk.EvaluationResult
	states  map[string]risk.SmoothingState
	jobs    map[uuid.UUID]jobs.Job
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string][]risk.EvaluationResult),
		states:  make(map[string]risk.SmoothingState),
		jobs:    make(map[uuid.UUID]jobs.Job),
	}
}

func memKey(merchantID string, kind window.IntervalKind) string {
	return merchantID + "/" + string(kind)
}

// UpsertResult stores a result keyed by (merchant, interval, window start),
// replacing any previous evaluation of the same window.
func (m *MemoryStore) UpsertResult(_ context.Context, result risk.EvaluationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memKey(result.Window.MerchantID, result.Window.Interval)
	list := m.results[key]
	for i, existing := range list {
		if existing.Window.Start.Equal(result.Window.Start) {
			list[i] = result
			return nil
		}
	}
	list = append(list, result)
	sort.Slice(list, func(i, j int) bool {
		return list[i].Window.Start.Before(list[j].Window.Start)
	})
	m.results[key] = list
	return nil
}

// LatestResultBefore returns the newest result strictly before the given
// window start.
func (m *MemoryStore) LatestResultBefore(_ context.Context, merchantID string, kind window.IntervalKind, before time.Time) (risk.EvaluationResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.results[memKey(merchantID, kind)]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Window.Start.Before(before) {
			return list[i], true, nil
		}
	}
	return risk.EvaluationResult{}, false, nil
}

// ListResultsBetween lists results with window start in [from, to),
// chronologically.
func (m *MemoryStore) ListResultsBetween(_ context.Context, merchantID string, kind window.IntervalKind, from, to time.Time) ([]risk.EvaluationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []risk.EvaluationResult
	for _, r := range m.results[memKey(merchantID, kind)] {
		if !r.Window.Start.Before(from) && r.Window.Start.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListRecentResults lists up to limit results, newest first.
func (m *MemoryStore) ListRecentResults(_ context.Context, merchantID string, kind window.IntervalKind, limit int) ([]risk.EvaluationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.results[memKey(merchantID, kind)]
	out := make([]risk.EvaluationResult, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// DeleteResultsBefore prunes results with window start before the cutoff.
func (m *MemoryStore) DeleteResultsBefore(_ context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, list := range m.results {
		kept := list[:0]
		for _, r := range list {
			if !r.Window.Start.Before(olderThan) {
				kept = append(kept, r)
			}
		}
		m.results[key] = kept
	}
	return nil
}

// CountResults counts all stored results.
func (m *MemoryStore) CountResults(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, list := range m.results {
		n += int64(len(list))
	}
	return n, nil
}

// GetState loads the smoothing state for a key.
func (m *MemoryStore) GetState(_ context.Context, merchantID string, kind window.IntervalKind) (risk.SmoothingState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[memKey(merchantID, kind)]
	return state, ok, nil
}

// PutState stores the smoothing state for a key.
func (m *MemoryStore) PutState(_ context.Context, merchantID string, kind window.IntervalKind, state risk.SmoothingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[memKey(merchantID, kind)] = state
	return nil
}

// InsertJob stores a job record.
func (m *MemoryStore) InsertJob(_ context.Context, job jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[job.ID] = job
	return nil
}

// UpdateJob replaces a job record.
func (m *MemoryStore) UpdateJob(_ context.Context, job jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return jobs.ErrJobNotFound
	}
	m.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job record.
func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return job, nil
}

// ListRecentJobs lists up to limit jobs, newest first by creation time.
func (m *MemoryStore) ListRecentJobs(_ context.Context, limit int) ([]jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]jobs.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		all = append(all, job)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

var (
	_ jobs.ResultSink = (*MemoryStore)(nil)
	_ jobs.StateStore = (*MemoryStore)(nil)
	_ jobs.JobStore   = (*MemoryStore)(nil)
)
