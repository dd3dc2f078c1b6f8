package window

import "time"

// PlanOptions control how a requested range is expanded into windows.
type PlanOptions struct {
	// ForwardOnly clips windows that are not yet complete and drops windows
	// that have fallen more than BacktrackWindows intervals behind now.
	ForwardOnly bool
	// BacktrackWindows bounds how far a forward-only plan may rewind to pick
	// up late-arriving data.
	BacktrackWindows int
}

// Plan expands [rangeStart, rangeEnd) into the ordered, aligned windows due
// for evaluation at the given now. It is a pure function of its arguments:
// calling it twice with identical inputs yields identical plans.
//
// An empty or inverted range yields an empty plan, as does a now that
// precedes the range entirely.
func Plan(merchantID string, kind IntervalKind, rangeStart, rangeEnd, now time.Time, opts PlanOptions) []Window {
	interval := kind.Duration()
	if interval <= 0 {
		return nil
	}

	rangeStart = rangeStart.UTC()
	rangeEnd = rangeEnd.UTC()
	now = now.UTC()

	if !rangeStart.Before(rangeEnd) {
		return nil
	}
	if now.Before(rangeStart) {
		return nil
	}

	// A window is stale once its end is more than BacktrackWindows intervals
	// behind now; forward-only plans skip stale windows instead of rewinding.
	floor := time.Time{}
	if opts.ForwardOnly && opts.BacktrackWindows >= 0 {
		floor = now.Add(-time.Duration(opts.BacktrackWindows) * interval)
	}

	windows := make([]Window, 0)
	for start := AlignForward(rangeStart, interval); ; start = start.Add(interval) {
		end := start.Add(interval)
		if end.After(rangeEnd) {
			break
		}
		if opts.ForwardOnly {
			if end.After(now) {
				break
			}
			if end.Before(floor) {
				continue
			}
		}
		windows = append(windows, Window{
			MerchantID: merchantID,
			Interval:   kind,
			Start:      start,
			End:        end,
		})
	}
	return windows
}
