// Package scheduler drives the forward evaluation loop on an aligned cadence.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"merchant-risk-engine/internal/clock"
)

// TickFunc is invoked on every aligned tick with the tick's boundary time.
type TickFunc func(ctx context.Context, boundary time.Time) error

// Options tune the tick loop.
type Options struct {
	Tick         time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Loop fires the evaluation tick at each aligned boundary. A tick that errors
// is logged and the loop keeps going; only context cancellation stops it.
type Loop struct {
	opts   Options
	clk    clock.Clock
	logger zerolog.Logger
}

// New constructs a Loop.
func New(opts Options, clk clock.Clock, logger zerolog.Logger) *Loop {
	if opts.Tick <= 0 {
		panic("scheduler tick must be positive")
	}
	if clk == nil {
		clk = clock.Wall{}
	}
	return &Loop{opts: opts, clk: clk, logger: logger.With().Str("component", "tick_loop").Logger()}
}

// Run blocks, invoking tick at each boundary until ctx is cancelled.
func (l *Loop) Run(ctx context.Context, tick TickFunc) error {
	if l.opts.StartupDelay > 0 {
		timer := time.NewTimer(l.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := l.nextTick(l.clk.Now())
	for {
		delay := next.Sub(l.clk.Now())
		if delay < 0 {
			next = l.nextTick(l.clk.Now())
			delay = next.Sub(l.clk.Now())
		}

		timer := time.NewTimer(delay)
		l.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		boundary := l.boundary(next)
		l.logger.Info().Time("tick", boundary).Msg("executing evaluation tick")

		if err := tick(ctx, boundary); err != nil {
			l.logger.Error().Err(err).Time("tick", boundary).Msg("tick execution failed")
		}

		next = next.Add(l.opts.Tick)
	}
}

func (l *Loop) nextTick(now time.Time) time.Time {
	if !l.opts.AlignToStart {
		return now.Add(l.opts.Tick)
	}
	boundary := now.Truncate(l.opts.Tick)
	if !boundary.After(now) {
		boundary = boundary.Add(l.opts.Tick)
	}
	return boundary
}

func (l *Loop) boundary(t time.Time) time.Time {
	if !l.opts.AlignToStart {
		return t
	}
	return t.Truncate(l.opts.Tick)
}
