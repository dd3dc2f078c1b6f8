package clock

import (
	"sync"
	"time"
)

// Clock is the single source of "now" for window planning. The planner must
// never read wall-clock time directly; a simulated clock can be injected for
// backtests and deterministic runs.
type Clock interface {
	Now() time.Time
}

// Wall reads the operating system clock in UTC.
type Wall struct{}

// Now returns the current wall-clock time in UTC.
func (Wall) Now() time.Time { return time.Now().UTC() }

// Simulated is a manually driven clock.
type Simulated struct {
	mu  sync.Mutex
	now time.Time
}

// NewSimulated constructs a simulated clock frozen at start.
func NewSimulated(start time.Time) *Simulated {
	return &Simulated{now: start.UTC()}
}

// Now returns the simulated time.
func (s *Simulated) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the simulated time forward by d.
func (s *Simulated) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

// Set jumps the simulated time to t.
func (s *Simulated) Set(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t.UTC()
}

var _ Clock = Wall{}
var _ Clock = (*Simulated)(nil)
