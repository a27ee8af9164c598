// Package ratelimit paces task admissions with a fixed counting window.
// Once the per-window budget is spent, callers sleep until the window
// rolls over; the counter never refills gradually.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/clock"
)

// Window admits at most Limit calls per fixed interval. The first admission
// after an interval elapses opens a fresh window anchored at that moment.
type Window struct {
	limit    int
	interval time.Duration
	clk      clock.Clock
	sleep    func(ctx context.Context, d time.Duration) error
	log      *zap.Logger

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// Option adjusts a Window at construction.
type Option func(*Window)

// WithClock swaps the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(w *Window) { w.clk = clk }
}

// WithSleeper swaps the blocking sleep, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Window) { w.sleep = sleep }
}

// New creates a Window admitting limit calls every interval.
func New(limit int, interval time.Duration, log *zap.Logger, opts ...Option) *Window {
	if limit <= 0 {
		limit = 1
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &Window{
		limit:    limit,
		interval: interval,
		clk:      clock.System{},
		sleep:    sleepCtx,
		log:      log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Admit blocks until the caller may proceed, or until ctx is cancelled.
func (w *Window) Admit(ctx context.Context) error {
	for {
		wait, ok := w.tryAdmit()
		if ok {
			return nil
		}
		w.log.Info("rate window exhausted, pausing", zap.Duration("wait", wait))
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAdmit takes a slot if one is free, otherwise returns how long until
// the current window closes.
func (w *Window) tryAdmit() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clk.Now()
	elapsed := now.Sub(w.windowStart)
	if w.windowStart.IsZero() || elapsed >= w.interval {
		w.windowStart = now
		w.count = 1
		return 0, true
	}
	if w.count < w.limit {
		w.count++
		return 0, true
	}
	return w.interval - elapsed, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
