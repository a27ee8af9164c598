package crawl

import (
	"context"
	"net/http"
	"time"
)

// Session is one isolated browsing context. Sessions are never shared
// between tasks; the worker that acquires one must release it.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitAny(ctx context.Context, selectors ...string) (string, error)
	Visible(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	SetCookies(ctx context.Context, cookies []*http.Cookie) error
	Close() error
}

// SessionProvider hands out fresh browsing sessions.
type SessionProvider interface {
	NewSession(ctx context.Context) (Session, error)
}

// Authenticator establishes a logged-in state on a fresh session before
// the task navigates anywhere.
type Authenticator interface {
	Ensure(ctx context.Context, s Session) error
}

// Classifier inspects a loaded page and reports a classified outcome plus
// any extracted records.
type Classifier interface {
	Classify(ctx context.Context, s Session, task Task) (Classification, error)
}

// Executor runs one task to a terminal outcome. Implementations must never
// let a task's failure escape as an error; everything maps to a tag.
type Executor interface {
	Execute(ctx context.Context, task Task) Outcome
}

// Admitter gates requests under a shared budget. Admit blocks until a slot
// is available or the context finishes.
type Admitter interface {
	Admit(ctx context.Context) error
}

// Breaker is the cross-process circuit breaker raised on detected blocking.
type Breaker interface {
	// Active reports whether a cooldown is in effect and how long remains.
	Active() (bool, time.Duration)
	// Wait blocks until no cooldown is active.
	Wait(ctx context.Context) error
	// Trip raises the flag with a randomized cooldown. It returns the
	// cooldown chosen, or zero when another process already holds the flag.
	Trip(ctx context.Context) (time.Duration, error)
}

// Sink deduplicates, persists and checkpoints results. Merge calls for the
// same context are serialized by the implementation.
type Sink interface {
	Merge(ctx context.Context, contextKey string, records []Record) (MergeStats, error)
	LastIndex(ctx context.Context, source string) (int, error)
	Checkpoint(ctx context.Context, source string, index int) error
	Fail(ctx context.Context, f Failure) error
	Flush(ctx context.Context, stats RunStats) error
}

// TaskSource produces the ordered task list for a run.
type TaskSource interface {
	ID() string
	Tasks() []Task
}

// Snapshotter stores page snapshots for manual inspection of failures.
type Snapshotter interface {
	Save(ctx context.Context, task Task, html string) (string, error)
}

// EventPublisher pushes per-task outcome events to an external bus.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
