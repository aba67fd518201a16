// Package scheduler drives periodic work on an explicit tick source so tests
// can fire ticks deterministically instead of depending on wall-clock timers.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// TickSource supplies tick instants. Production code uses Ticker; tests use
// Manual.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

type ticker struct {
	t *time.Ticker
}

// NewTicker returns a wall-clock tick source.
func NewTicker(interval time.Duration) TickSource {
	return &ticker{t: time.NewTicker(interval)}
}

func (t *ticker) C() <-chan time.Time { return t.t.C }
func (t *ticker) Stop()               { t.t.Stop() }

// Manual is a test tick source fired by calling Tick.
type Manual struct {
	ch chan time.Time
}

func NewManual() *Manual {
	return &Manual{ch: make(chan time.Time, 1)}
}

func (m *Manual) C() <-chan time.Time { return m.ch }
func (m *Manual) Stop()               {}

// Tick fires one tick carrying the given instant.
func (m *Manual) Tick(now time.Time) { m.ch <- now }

// Job is one unit of periodic work. The ctx carries the per-tick budget.
type Job func(ctx context.Context, now time.Time) error

// Loop runs a named job on every tick with a bounded execution budget. A tick
// that arrives while the previous run is still in flight is skipped, never
// queued, so a slow cycle cannot cascade into unbounded backlog.
type Loop struct {
	name    string
	budget  time.Duration
	job     Job
	logger  *slog.Logger
	busy    atomic.Bool
	skipped atomic.Int64
}

func NewLoop(name string, budget time.Duration, job Job, logger *slog.Logger) *Loop {
	return &Loop{name: name, budget: budget, job: job, logger: logger}
}

// Skipped reports how many ticks were dropped due to overrun.
func (l *Loop) Skipped() int64 { return l.skipped.Load() }

// Run consumes ticks until ctx is cancelled. It owns stopping the source.
func (l *Loop) Run(ctx context.Context, source TickSource) error {
	defer source.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-source.C():
			l.runOnce(ctx, now)
		}
	}
}

func (l *Loop) runOnce(ctx context.Context, now time.Time) {
	if !l.busy.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		l.logger.WarnContext(ctx, "tick overran budget, skipping",
			"loop", l.name,
			"skipped_total", l.skipped.Load(),
		)
		return
	}
	go func() {
		defer l.busy.Store(false)

		tickCtx, cancel := context.WithTimeout(ctx, l.budget)
		defer cancel()

		start := time.Now()
		if err := l.job(tickCtx, now); err != nil {
			l.logger.ErrorContext(ctx, "tick failed",
				"loop", l.name,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
		}
	}()
}
