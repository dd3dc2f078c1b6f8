package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPlanEmptyRange(t *testing.T) {
	now := ts("2026-01-10T12:00:00Z")
	assert.Empty(t, Plan("m1", Interval1h, now, now, now, PlanOptions{}))
	assert.Empty(t, Plan("m1", Interval1h, now, now.Add(-time.Hour), now, PlanOptions{}))
}

func TestPlanNowBeforeRange(t *testing.T) {
	start := ts("2026-01-10T00:00:00Z")
	assert.Empty(t, Plan("m1", Interval1h, start, start.Add(6*time.Hour), start.Add(-time.Minute), PlanOptions{}))
}

func TestPlanAlignment(t *testing.T) {
	windows := Plan("m1", Interval1h,
		ts("2026-01-10T00:20:00Z"), ts("2026-01-10T04:00:00Z"), ts("2026-01-11T00:00:00Z"),
		PlanOptions{})

	require.Len(t, windows, 3)
	assert.Equal(t, ts("2026-01-10T01:00:00Z"), windows[0].Start)
	for i, w := range windows {
		assert.Equal(t, w.Start.Add(time.Hour), w.End)
		assert.True(t, w.Start.Equal(w.Start.Truncate(time.Hour)), "window %d not aligned", i)
		if i > 0 {
			assert.Equal(t, windows[i-1].End, w.Start, "windows must be contiguous")
		}
	}
}

func TestPlanForwardOnlyClipsFutureWindows(t *testing.T) {
	now := ts("2026-01-10T02:30:00Z")
	windows := Plan("m1", Interval1h,
		ts("2026-01-10T00:00:00Z"), ts("2026-01-10T12:00:00Z"), now,
		PlanOptions{ForwardOnly: true, BacktrackWindows: 48})

	require.Len(t, windows, 2)
	for _, w := range windows {
		assert.False(t, w.End.After(now), "forward-only plan must not include incomplete windows")
	}
}

func TestPlanForwardOnlyDropsStaleWindows(t *testing.T) {
	now := ts("2026-01-10T12:00:00Z")
	windows := Plan("m1", Interval1h,
		ts("2026-01-10T00:00:00Z"), ts("2026-01-10T12:00:00Z"), now,
		PlanOptions{ForwardOnly: true, BacktrackWindows: 3})

	require.Len(t, windows, 4)
	assert.Equal(t, ts("2026-01-10T08:00:00Z"), windows[0].Start)
	assert.Equal(t, ts("2026-01-10T11:00:00Z"), windows[3].Start)
}

func TestPlanBackfillIgnoresNowClipping(t *testing.T) {
	// Historical re-evaluation under a simulated clock evaluates the whole
	// range regardless of staleness.
	now := ts("2026-03-01T00:00:00Z")
	windows := Plan("m1", Interval1d,
		ts("2026-01-01T00:00:00Z"), ts("2026-01-08T00:00:00Z"), now,
		PlanOptions{ForwardOnly: false})

	assert.Len(t, windows, 7)
}

func TestPlanIdempotent(t *testing.T) {
	args := func() []Window {
		return Plan("m1", Interval30m,
			ts("2026-01-10T00:05:00Z"), ts("2026-01-10T06:00:00Z"), ts("2026-01-10T03:00:00Z"),
			PlanOptions{ForwardOnly: true, BacktrackWindows: 2})
	}
	assert.Equal(t, args(), args())
}

func TestParseIntervalKind(t *testing.T) {
	for _, s := range []string{"30m", "1h", "1d"} {
		k, err := ParseIntervalKind(s)
		require.NoError(t, err)
		assert.True(t, k.Valid())
	}
	_, err := ParseIntervalKind("5m")
	assert.Error(t, err)
}
