// Package circuit coordinates block cooldowns across crawler processes
// through a shared flag file. Any process can raise the flag; only the
// process that raised it clears it, after a randomized cooldown.
package circuit

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/clock"
)

// flag is the JSON payload stored in the block file.
type flag struct {
	Owner    string    `json:"owner"`
	RaisedAt time.Time `json:"raised_at"`
	Cooldown float64   `json:"cooldown_seconds"`
}

func (f flag) expiry() time.Time {
	return f.RaisedAt.Add(time.Duration(f.Cooldown * float64(time.Second)))
}

// FileBreaker implements the shared block flag over the local filesystem.
// A flag whose cooldown has already elapsed counts as cleared, so a raiser
// that crashed before removing its file cannot stall other processes.
type FileBreaker struct {
	path        string
	owner       string
	minCooldown time.Duration
	maxCooldown time.Duration
	poll        time.Duration
	clk         clock.Clock
	sleep       func(ctx context.Context, d time.Duration) error
	remove      func(path string) error
	log         *zap.Logger
}

// Option adjusts a FileBreaker at construction.
type Option func(*FileBreaker)

// WithClock swaps the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(b *FileBreaker) { b.clk = clk }
}

// WithSleeper swaps the blocking sleep, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(b *FileBreaker) { b.sleep = sleep }
}

// WithPollInterval sets how often waiting processes re-check the flag.
func WithPollInterval(d time.Duration) Option {
	return func(b *FileBreaker) { b.poll = d }
}

// NewFile creates a FileBreaker over path. Cooldowns drawn on Trip are
// uniform in [min, max].
func NewFile(path string, min, max time.Duration, log *zap.Logger, opts ...Option) *FileBreaker {
	if min <= 0 {
		min = 2 * time.Minute
	}
	if max < min {
		max = min
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &FileBreaker{
		path:        path,
		owner:       uuid.NewString(),
		minCooldown: min,
		maxCooldown: max,
		poll:        5 * time.Second,
		clk:         clock.System{},
		sleep:       sleepCtx,
		remove:      os.Remove,
		log:         log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Active reports whether the flag is raised and how long until it expires.
func (b *FileBreaker) Active() (bool, time.Duration) {
	f, err := b.read()
	if err != nil {
		return false, 0
	}
	remaining := f.expiry().Sub(b.clk.Now())
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

// Wait blocks until the flag is clear or ctx is cancelled.
func (b *FileBreaker) Wait(ctx context.Context) error {
	for {
		active, remaining := b.Active()
		if !active {
			return nil
		}
		wait := b.poll
		if remaining < wait {
			wait = remaining
		}
		b.log.Info("block flag active, waiting", zap.Duration("remaining", remaining))
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Trip raises the flag with a randomized cooldown and schedules its removal.
// If another live process already holds the flag, Trip adopts that flag's
// remaining cooldown instead of raising a second one.
func (b *FileBreaker) Trip(ctx context.Context) (time.Duration, error) {
	cooldown := b.minCooldown + randomSpan(b.maxCooldown-b.minCooldown)
	now := b.clk.Now()

	created, err := b.claim(flag{Owner: b.owner, RaisedAt: now, Cooldown: cooldown.Seconds()})
	if err != nil {
		return 0, err
	}
	if !created {
		if active, remaining := b.Active(); active {
			return remaining, nil
		}
		// The holder expired between claim and read; raise our own.
		if err := b.remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("replace expired block flag: %w", err)
		}
		created, err = b.claim(flag{Owner: b.owner, RaisedAt: now, Cooldown: cooldown.Seconds()})
		if err != nil {
			return 0, err
		}
		if !created {
			// Another process raised while we replaced the expired flag;
			// adopt its cooldown. The rival owns the clear.
			_, remaining := b.Active()
			return remaining, nil
		}
	}

	go b.clearAfter(cooldown)
	return cooldown, nil
}

// claim writes the flag only if no file exists yet.
func (b *FileBreaker) claim(f flag) (bool, error) {
	fh, err := os.OpenFile(b.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create block flag: %w", err)
	}
	defer fh.Close()
	if err := json.NewEncoder(fh).Encode(f); err != nil {
		return false, fmt.Errorf("write block flag: %w", err)
	}
	return true, nil
}

// clearAfter sleeps out the cooldown and removes the flag if this process
// still owns it. Removal is skipped when another owner replaced the file.
func (b *FileBreaker) clearAfter(cooldown time.Duration) {
	if err := b.sleep(context.Background(), cooldown); err != nil {
		return
	}
	f, err := b.read()
	if err != nil {
		return
	}
	if f.Owner != b.owner {
		return
	}
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		b.log.Warn("clearing block flag failed", zap.Error(err))
		return
	}
	b.log.Info("block flag cleared", zap.Duration("cooldown", cooldown))
}

func (b *FileBreaker) read() (flag, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return flag{}, err
	}
	var f flag
	if err := json.Unmarshal(data, &f); err != nil {
		return flag{}, fmt.Errorf("decode block flag: %w", err)
	}
	return f, nil
}

func randomSpan(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
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
