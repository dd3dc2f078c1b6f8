package window

import (
	"fmt"
	"time"
)

// IntervalKind identifies the evaluation cadence of a risk timeline.
type IntervalKind string

const (
	// Interval30m evaluates half-hour windows.
	Interval30m IntervalKind = "30m"
	// Interval1h evaluates hourly windows.
	Interval1h IntervalKind = "1h"
	// Interval1d evaluates daily windows.
	Interval1d IntervalKind = "1d"
)

// ParseIntervalKind validates a user-supplied interval string.
func ParseIntervalKind(s string) (IntervalKind, error) {
	switch IntervalKind(s) {
	case Interval30m, Interval1h, Interval1d:
		return IntervalKind(s), nil
	}
	return "", fmt.Errorf("unknown interval kind %q (want 30m, 1h or 1d)", s)
}

// Duration returns the wall length of one window of this kind.
func (k IntervalKind) Duration() time.Duration {
	switch k {
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval1d:
		return 24 * time.Hour
	}
	return 0
}

// Valid reports whether k is a recognized interval kind.
func (k IntervalKind) Valid() bool { return k.Duration() > 0 }

// Window is a half-open, boundary-aligned [Start, End) slice of one
// merchant's timeline. Windows of the same kind are contiguous and
// non-overlapping.
type Window struct {
	MerchantID string
	Interval   IntervalKind
	Start      time.Time
	End        time.Time
}

// Key returns the serialization key shared by all windows of the same
// merchant and interval kind.
func (w Window) Key() string {
	return w.MerchantID + "/" + string(w.Interval)
}

// AlignForward rounds t up to the next interval boundary (or returns t if
// already aligned).
func AlignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
