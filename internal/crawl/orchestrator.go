package crawl

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/clock"
)

// Config tunes a single orchestrator run.
type Config struct {
	// Workers is the number of concurrent task executors.
	Workers int
	// StartIndex skips every task below it, on top of the stored checkpoint.
	StartIndex int
	// EndIndex, when positive, skips every task above it.
	EndIndex int
	// SummaryEvery flushes an intermediate run summary after that many
	// processed tasks. Zero disables intermediate flushes.
	SummaryEvery int
}

// Orchestrator walks a task list with a pool of workers, merges extracted
// records through the sink and advances the checkpoint as outcomes arrive.
// Outcomes complete in any order; the checkpoint only ever moves forward
// because the sink keeps the maximum index it has seen.
type Orchestrator struct {
	exec    Executor
	sink    Sink
	breaker Breaker
	clk     clock.Clock
	cfg     Config
	log     *zap.Logger
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(exec Executor, sink Sink, breaker Breaker, clk clock.Clock, cfg Config, log *zap.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		exec:    exec,
		sink:    sink,
		breaker: breaker,
		clk:     clk,
		cfg:     cfg,
		log:     log,
	}
}

// Run processes every task in source at or above the resume point and returns
// the summary of the run. A cancelled context stops dispatch, lets in-flight
// tasks finish and still writes the final summary. A checkpoint write failure
// aborts the run the same way, because continuing would lose the ability to
// resume.
func (o *Orchestrator) Run(ctx context.Context, source TaskSource) (RunStats, error) {
	stats := RunStats{
		RunID:     uuid.NewString(),
		Source:    source.ID(),
		ByTag:     make(map[OutcomeTag]int),
		StartedAt: o.clk.Now(),
	}

	all := source.Tasks()
	stats.Total = len(all)

	last, err := o.sink.LastIndex(ctx, source.ID())
	if err != nil {
		return stats, fmt.Errorf("load checkpoint for %s: %w", source.ID(), err)
	}
	start := o.cfg.StartIndex
	if last+1 > start {
		start = last + 1
	}

	pending := make([]Task, 0, len(all))
	for _, t := range all {
		if t.Index < start {
			continue
		}
		if o.cfg.EndIndex > 0 && t.Index > o.cfg.EndIndex {
			continue
		}
		pending = append(pending, t)
	}
	o.log.Info("run starting",
		zap.String("run_id", stats.RunID),
		zap.String("source", source.ID()),
		zap.Int("total", len(all)),
		zap.Int("pending", len(pending)),
		zap.Int("resume_index", start),
		zap.Int("workers", o.cfg.Workers),
	)

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	taskCh := make(chan Task)
	outCh := make(chan Outcome)

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				outCh <- o.exec.Execute(ctx, t)
			}
		}()
	}
	go func() {
		defer close(taskCh)
		for _, t := range pending {
			select {
			case taskCh <- t:
			case <-dispatchCtx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(outCh)
	}()

	var runErr error
	maxIndex := -1
	for out := range outCh {
		err := o.handleOutcome(ctx, source.ID(), out, &stats)
		if err != nil && runErr == nil {
			runErr = err
			stopDispatch()
			continue
		}
		if err == nil && out.Task.Index > maxIndex {
			maxIndex = out.Task.Index
			checkpointIndex.WithLabelValues(source.ID()).Set(float64(maxIndex))
		}
	}

	stats.FinishedAt = o.clk.Now()

	// The summary must land even when the run was cancelled mid-flight.
	flushCtx := context.WithoutCancel(ctx)
	if err := o.sink.Flush(flushCtx, stats); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("flush run summary: %w", err)
		}
		o.log.Error("final flush failed", zap.Error(err))
	}

	o.log.Info("run finished",
		zap.String("run_id", stats.RunID),
		zap.Int("processed", stats.Processed),
		zap.Int("new_records", stats.NewRecords),
		zap.Int("duplicate_records", stats.DuplicateRecords),
		zap.Int("failed", len(stats.FailedContexts)),
	)
	return stats, runErr
}

// handleOutcome applies one finished task to the sink and stats. It returns
// an error only for checkpoint write failures, which are fatal to the run.
func (o *Orchestrator) handleOutcome(ctx context.Context, source string, out Outcome, stats *RunStats) error {
	observeOutcome(out)
	stats.Processed++
	stats.ByTag[out.Tag]++

	o.log.Info("task finished",
		zap.Int("index", out.Task.Index),
		zap.String("zone", out.Task.Zone),
		zap.String("outcome", string(out.Tag)),
		zap.Int("records", len(out.Records)),
		zap.Int("attempts", out.Attempts),
		zap.Duration("took", out.Duration),
		zap.Int("processed", stats.Processed),
		zap.Int("total", stats.Total),
	)

	advance := true
	if out.Tag.Mergeable() {
		if len(out.Records) > 0 {
			merged, err := o.sink.Merge(ctx, out.Task.Context(), out.Records)
			if err != nil {
				// Without the merge the checkpoint must not move past
				// this index, or the records would be unrecoverable.
				advance = false
				o.log.Error("merge failed",
					zap.String("context", out.Task.Context()),
					zap.Int("index", out.Task.Index),
					zap.Error(err),
				)
				o.recordFailure(ctx, out, err.Error(), stats)
			} else {
				observeMerge(merged)
				stats.NewRecords += merged.New
				stats.DuplicateRecords += merged.Duplicates
			}
		}
	} else {
		if out.Tag == OutcomeBlocked && o.breaker != nil {
			cooldown, err := o.breaker.Trip(ctx)
			if err != nil {
				o.log.Error("raising block flag failed", zap.Error(err))
			} else {
				blockTrips.Inc()
				o.log.Warn("block flag raised",
					zap.Int("index", out.Task.Index),
					zap.Duration("cooldown", cooldown),
				)
			}
		}
		o.recordFailure(ctx, out, out.Err, stats)
	}

	if advance {
		if err := o.sink.Checkpoint(ctx, source, out.Task.Index); err != nil {
			return fmt.Errorf("checkpoint index %d: %w", out.Task.Index, err)
		}
	}

	if o.cfg.SummaryEvery > 0 && stats.Processed%o.cfg.SummaryEvery == 0 {
		if err := o.sink.Flush(ctx, *stats); err != nil {
			o.log.Warn("intermediate flush failed", zap.Error(err))
		}
	}
	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, out Outcome, detail string, stats *RunStats) {
	stats.FailedContexts = append(stats.FailedContexts, out.Task.Zone)
	f := Failure{
		Task:   out.Task,
		Tag:    out.Tag,
		Detail: detail,
		At:     o.clk.Now(),
	}
	if err := o.sink.Fail(ctx, f); err != nil {
		o.log.Warn("recording failure failed",
			zap.Int("index", out.Task.Index),
			zap.Error(err),
		)
	}
}
