// Package worker executes single crawl tasks against a browser session,
// classifies the page and packages the result as an outcome.
package worker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/clock"
	"github.com/venuegrid/crawler/internal/crawl"
)

// Config tunes per-task execution.
type Config struct {
	// NavTimeout bounds one navigate-and-classify attempt.
	NavTimeout time.Duration
	// PauseMin and PauseMax bound the randomized pause after each task,
	// which keeps request pacing irregular.
	PauseMin time.Duration
	PauseMax time.Duration
}

// Worker runs one task at a time. Several workers share the same rate
// limiter, breaker and sink; each task gets its own browser session.
type Worker struct {
	sessions crawl.SessionProvider
	auth     crawl.Authenticator
	classify crawl.Classifier
	limiter  crawl.Admitter
	breaker  crawl.Breaker
	snaps    crawl.Snapshotter
	policy   crawl.RetryPolicy
	cfg      Config
	clk      clock.Clock
	sleep    func(ctx context.Context, d time.Duration) error
	log      *zap.Logger
}

// Option adjusts a Worker at construction.
type Option func(*Worker)

// WithClock swaps the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(w *Worker) { w.clk = clk }
}

// WithSleeper swaps the blocking sleep, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Worker) { w.sleep = sleep }
}

// New creates a Worker.
func New(
	sessions crawl.SessionProvider,
	auth crawl.Authenticator,
	classify crawl.Classifier,
	limiter crawl.Admitter,
	breaker crawl.Breaker,
	snaps crawl.Snapshotter,
	policy crawl.RetryPolicy,
	cfg Config,
	log *zap.Logger,
	opts ...Option,
) *Worker {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &Worker{
		sessions: sessions,
		auth:     auth,
		classify: classify,
		limiter:  limiter,
		breaker:  breaker,
		snaps:    snaps,
		policy:   policy,
		cfg:      cfg,
		clk:      clock.System{},
		sleep:    sleepCtx,
		log:      log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute runs the task to a terminal outcome. Only navigation timeouts are
// retried; authentication failures and unexpected errors end the task on the
// first attempt.
func (w *Worker) Execute(ctx context.Context, task crawl.Task) crawl.Outcome {
	started := w.clk.Now()
	out := crawl.Outcome{Task: task, Attempts: 1}
	defer func() {
		out.Duration = w.clk.Now().Sub(started)
	}()

	if w.breaker != nil {
		if err := w.breaker.Wait(ctx); err != nil {
			return w.fail(&out, crawl.OutcomeWorkerError, fmt.Errorf("waiting on block flag: %w", err))
		}
	}
	if err := w.limiter.Admit(ctx); err != nil {
		return w.fail(&out, crawl.OutcomeWorkerError, fmt.Errorf("rate admission: %w", err))
	}

	session, err := w.sessions.NewSession(ctx)
	if err != nil {
		return w.fail(&out, crawl.OutcomeWorkerError, fmt.Errorf("open session: %w", err))
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			w.log.Warn("closing session", zap.Int("index", task.Index), zap.Error(cerr))
		}
	}()

	if w.auth != nil {
		if err := w.auth.Ensure(ctx, session); err != nil {
			return w.fail(&out, crawl.OutcomeAuthError, fmt.Errorf("authenticate: %w", err))
		}
	}

	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		cls, err := w.attempt(ctx, session, task)
		if err == nil {
			w.settle(ctx, session, task, cls, &out)
			w.pause(ctx)
			return out
		}
		if w.policy.ShouldRetry(err, attempt) {
			backoff := w.policy.Backoff(attempt)
			crawl.ObserveRetry()
			w.log.Warn("attempt timed out, retrying",
				zap.Int("index", task.Index),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			if serr := w.sleep(ctx, backoff); serr != nil {
				return w.fail(&out, crawl.OutcomeWorkerError, serr)
			}
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return w.fail(&out, crawl.OutcomeTimeout, err)
		}
		return w.fail(&out, crawl.OutcomeWorkerError, err)
	}
}

// attempt performs one bounded navigate-and-classify pass.
func (w *Worker) attempt(ctx context.Context, session crawl.Session, task crawl.Task) (crawl.Classification, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.NavTimeout)
	defer cancel()

	if err := session.Navigate(attemptCtx, task.URL); err != nil {
		return crawl.Classification{}, fmt.Errorf("navigate %s: %w", task.URL, err)
	}
	cls, err := w.classify.Classify(attemptCtx, session, task)
	if err != nil {
		return crawl.Classification{}, fmt.Errorf("classify %s: %w", task.URL, err)
	}
	return cls, nil
}

// settle turns a classification into the outcome, capturing a page snapshot
// when the site served a block page.
func (w *Worker) settle(ctx context.Context, session crawl.Session, task crawl.Task, cls crawl.Classification, out *crawl.Outcome) {
	out.Tag = cls.Tag
	out.Records = cls.Records
	// A page that renders but yields nothing is an empty result, not a win.
	if out.Tag == crawl.OutcomeSuccess && len(out.Records) == 0 {
		out.Tag = crawl.OutcomeNoResults
	}
	if out.Tag == crawl.OutcomeBlocked {
		out.Err = "block page served"
		w.snapshot(ctx, session, task)
	}
}

func (w *Worker) snapshot(ctx context.Context, session crawl.Session, task crawl.Task) {
	if w.snaps == nil {
		return
	}
	html, err := session.HTML(ctx)
	if err != nil {
		w.log.Warn("capturing block page failed", zap.Error(err))
		return
	}
	ref, err := w.snaps.Save(ctx, task, html)
	if err != nil {
		w.log.Warn("saving block page failed", zap.Error(err))
		return
	}
	w.log.Info("block page saved", zap.Int("index", task.Index), zap.String("ref", ref))
}

func (w *Worker) fail(out *crawl.Outcome, tag crawl.OutcomeTag, err error) crawl.Outcome {
	out.Tag = tag
	if err != nil {
		out.Err = err.Error()
	}
	return *out
}

// pause sleeps a random interval inside [PauseMin, PauseMax] so consecutive
// tasks do not fire on a fixed cadence.
func (w *Worker) pause(ctx context.Context) {
	if w.cfg.PauseMax <= 0 {
		return
	}
	d := w.cfg.PauseMin + randomSpan(w.cfg.PauseMax-w.cfg.PauseMin)
	_ = w.sleep(ctx, d)
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
