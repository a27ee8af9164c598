package crawl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/clock"
)

type fakeExec struct {
	fn func(Task) Outcome
}

func (e *fakeExec) Execute(_ context.Context, t Task) Outcome { return e.fn(t) }

type fakeSink struct {
	mu          sync.Mutex
	last        int
	lastErr     error
	mergeErr    error
	checkpoint  func(index int) error
	merges      []MergeStats
	mergedKeys  []string
	checkpoints []int
	failures    []Failure
	flushes     []RunStats
}

func (s *fakeSink) Merge(_ context.Context, contextKey string, records []Record) (MergeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mergeErr != nil {
		return MergeStats{}, s.mergeErr
	}
	stats := MergeStats{New: len(records), Total: len(records)}
	s.merges = append(s.merges, stats)
	s.mergedKeys = append(s.mergedKeys, contextKey)
	return stats, nil
}

func (s *fakeSink) LastIndex(context.Context, string) (int, error) {
	return s.last, s.lastErr
}

func (s *fakeSink) Checkpoint(_ context.Context, _ string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint != nil {
		if err := s.checkpoint(index); err != nil {
			return err
		}
	}
	s.checkpoints = append(s.checkpoints, index)
	return nil
}

func (s *fakeSink) Fail(_ context.Context, f Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
	return nil
}

func (s *fakeSink) Flush(_ context.Context, stats RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes = append(s.flushes, stats)
	return nil
}

type fakeBreaker struct {
	mu    sync.Mutex
	trips int
}

func (b *fakeBreaker) Active() (bool, time.Duration)     { return false, 0 }
func (b *fakeBreaker) Wait(context.Context) error        { return nil }
func (b *fakeBreaker) Trip(context.Context) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trips++
	return 2 * time.Minute, nil
}

type listSource struct {
	id    string
	tasks []Task
}

func (s listSource) ID() string    { return s.id }
func (s listSource) Tasks() []Task { return s.tasks }

func venueTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Task{Index: i, Zone: "zone", Region: "region", Kind: KindVenue}
	}
	return tasks
}

func newTestOrchestrator(exec Executor, sink Sink, breaker Breaker, cfg Config) *Orchestrator {
	return NewOrchestrator(exec, sink, breaker, clock.NewFake(time.Unix(1700000000, 0)), cfg, zap.NewNop())
}

func TestRunMergesAndCheckpointsSuccesses(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{last: -1}
	exec := &fakeExec{fn: func(task Task) Outcome {
		return Outcome{
			Task:    task,
			Tag:     OutcomeSuccess,
			Records: []Record{{Kind: KindVenue, URL: "https://example.com/" + task.Zone}},
		}
	}}
	o := newTestOrchestrator(exec, sink, &fakeBreaker{}, Config{Workers: 1})

	stats, err := o.Run(context.Background(), listSource{id: "venues.csv", tasks: venueTasks(3)})
	require.NoError(t, err)

	require.Equal(t, 3, stats.Processed)
	require.Equal(t, 3, stats.ByTag[OutcomeSuccess])
	require.Equal(t, 3, stats.NewRecords)
	require.Len(t, sink.merges, 3)
	require.ElementsMatch(t, []int{0, 1, 2}, sink.checkpoints)
	require.Len(t, sink.flushes, 1, "final flush only")
}

func TestRunResumesAfterStoredCheckpoint(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{last: 3}
	var mu sync.Mutex
	var executed []int
	exec := &fakeExec{fn: func(task Task) Outcome {
		mu.Lock()
		executed = append(executed, task.Index)
		mu.Unlock()
		return Outcome{Task: task, Tag: OutcomeNoResults}
	}}
	o := newTestOrchestrator(exec, sink, &fakeBreaker{}, Config{Workers: 2})

	stats, err := o.Run(context.Background(), listSource{id: "venues.csv", tasks: venueTasks(6)})
	require.NoError(t, err)

	require.Equal(t, 2, stats.Processed)
	require.ElementsMatch(t, []int{4, 5}, executed)
	require.ElementsMatch(t, []int{4, 5}, sink.checkpoints)
}

func TestRunHonorsEndIndexBound(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{last: -1}
	var mu sync.Mutex
	var executed []int
	exec := &fakeExec{fn: func(task Task) Outcome {
		mu.Lock()
		executed = append(executed, task.Index)
		mu.Unlock()
		return Outcome{Task: task, Tag: OutcomeNoResults}
	}}
	o := newTestOrchestrator(exec, sink, &fakeBreaker{}, Config{Workers: 1, StartIndex: 1, EndIndex: 3})

	stats, err := o.Run(context.Background(), listSource{id: "venues.csv", tasks: venueTasks(6)})
	require.NoError(t, err)

	require.Equal(t, 3, stats.Processed)
	require.ElementsMatch(t, []int{1, 2, 3}, executed)
}

func TestRunNoResultsCheckpointsWithoutMerge(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{last: -1}
	exec := &fakeExec{fn: func(task Task) Outcome {
		return Outcome{Task: task, Tag: OutcomeNoResults}
	}}
	o := newTestOrchestrator(exec, sink, &fakeBreaker{}, Config{Workers: 1})

	_, err := o.Run(context.Background(), listSource{id: "venues.csv", tasks: venueTasks(2)})
	require.NoError(t, err)

	require.Empty(t, sink.merges)
	require.ElementsMatch(t, []int{0, 1}, sink.checkpoints)
	require.Empty(t, sink.failures)
}

func TestRunBlockedTripsBreakerAndRecordsFailure(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{last: -1}
	breaker := &fakeBreaker{}
	exec := &fakeExec{fn: func(task Task) Outcome {
		if task.Index == 1 {
			return Outcome{Task: task, Tag: OutcomeBlocked, Err: "block page shown"}
		}
		return Outcome{Task: task, Tag: OutcomeSuccess, Records: []Record{{URL: "https://example.com/a"}}}
	}}
	o := newTestOrchestrator(exec, sink, breaker, Config{Workers: 1})

	stats, err := o.Run(context.Background(), listSource{id: "venues.csv", tasks: venueTasks(3)})
	require.NoError(t, err)

	require.Equal(t, 1, breaker.trips)
	require.Equal(t, 1, stats.ByTag[OutcomeBlocked])
	require.Len(t, sink.failures, 1)
	require.Equal(t, OutcomeBlocked, sink.failures[0].Tag)
	require.ElementsMatch(t, []int{0, 1, 2}, sink.checkpoints, "blocked tasks still advance the checkpoint")
}

func TestRunMergeErrorSkipsCheckpoint(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{last: -1, mergeErr: errors.New("disk full")}
	exec := &fakeExec{fn: func(task Task) Outcome {
		return Outcome{Task: task, Tag: OutcomeSuccess, Records: []Record{{URL: "https://example.com/a"}}}
	}}
	o := newTestOrchestrator(exec, sink, &fakeBreaker{}, Config{Workers: 1})

	_, err := o.Run(context.Background(), listSource{id: "venues.csv", tasks: venueTasks(1)})
	require.NoError(t, err)

	require.Empty(t, sink.checkpoints)
	require.Len(t, sink.failures, 1)
}

func TestRunCheckpointFailureAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("checkpoint store gone")
	sink := &fakeSink{last: -1, checkpoint: func(int) error { return boom }}
	var mu sync.Mutex
	executed := 0
	exec := &fakeExec{fn: func(task Task) Outcome {
		mu.Lock()
		executed++
		mu.Unlock()
		return Outcome{Task: task, Tag: OutcomeNoResults}
	}}
	o := newTestOrchestrator(exec, sink, &fakeBreaker{}, Config{Workers: 1})

	_, err := o.Run(context.Background(), listSource{id: "venues.csv", tasks: venueTasks(50)})
	require.ErrorIs(t, err, boom)

	mu.Lock()
	defer mu.Unlock()
	require.Less(t, executed, 50, "dispatch should stop after the first checkpoint failure")
}

func TestRunIntermediateFlushes(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{last: -1}
	exec := &fakeExec{fn: func(task Task) Outcome {
		return Outcome{Task: task, Tag: OutcomeNoResults}
	}}
	o := newTestOrchestrator(exec, sink, &fakeBreaker{}, Config{Workers: 1, SummaryEvery: 2})

	_, err := o.Run(context.Background(), listSource{id: "venues.csv", tasks: venueTasks(5)})
	require.NoError(t, err)

	// Flushes after tasks 2 and 4, plus the final one.
	require.Len(t, sink.flushes, 3)
	final := sink.flushes[len(sink.flushes)-1]
	require.Equal(t, 5, final.Processed)
}

func TestRunCancelledContextStillFlushes(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{last: -1}
	ctx, cancel := context.WithCancel(context.Background())
	exec := &fakeExec{fn: func(task Task) Outcome {
		if task.Index == 0 {
			cancel()
		}
		return Outcome{Task: task, Tag: OutcomeNoResults}
	}}
	o := newTestOrchestrator(exec, sink, &fakeBreaker{}, Config{Workers: 1})

	stats, err := o.Run(ctx, listSource{id: "venues.csv", tasks: venueTasks(100)})
	require.NoError(t, err)

	require.Less(t, stats.Processed, 100)
	require.NotEmpty(t, sink.flushes, "summary written despite cancellation")
}
