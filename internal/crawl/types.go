// Package crawl defines the core task, outcome and record types shared
// across the crawler, plus the orchestrator that drives a run.
package crawl

import (
	"time"
)

// RecordKind identifies what kind of entity a Record (and the Task that
// produces it) represents. It is a closed set: venue listings extracted
// from zone searches, and reviewer profiles extracted from venue pages.
type RecordKind string

// Record kinds persisted by the sink.
const (
	KindVenue    RecordKind = "venue"
	KindReviewer RecordKind = "reviewer"
)

// Module returns the pipeline name used to key checkpoints for this kind.
func (k RecordKind) Module() string {
	switch k {
	case KindReviewer:
		return "reviewers"
	default:
		return "venues"
	}
}

// ArtifactPrefix returns the file-artifact prefix for this kind.
func (k RecordKind) ArtifactPrefix() string {
	return k.Module()
}

// Task is one unit of crawl work: a zone search URL or a venue page whose
// reviewers are wanted. Tasks are immutable once built.
type Task struct {
	Index  int        `json:"index"`
	Zone   string     `json:"zone"`
	URL    string     `json:"url"`
	Region string     `json:"region"`
	Group  string     `json:"group,omitempty"`
	Kind   RecordKind `json:"kind"`
}

// Context returns the grouping key under which this task's records are
// deduplicated and persisted.
func (t Task) Context() string {
	return t.Region
}

// OutcomeTag is the terminal state of executing one Task.
type OutcomeTag string

// Outcome tags. All tags are terminal; retries happen inside the worker
// before a tag is assigned.
const (
	OutcomeSuccess     OutcomeTag = "success"
	OutcomeNoResults   OutcomeTag = "no_results"
	OutcomeBlocked     OutcomeTag = "blocked"
	OutcomeTimeout     OutcomeTag = "timeout"
	OutcomeAuthError   OutcomeTag = "auth_error"
	OutcomeWorkerError OutcomeTag = "worker_error"
)

// Mergeable reports whether an outcome with this tag carries records that
// should flow into the sink.
func (t OutcomeTag) Mergeable() bool {
	return t == OutcomeSuccess || t == OutcomeNoResults
}

// Failed reports whether the tag represents a task that needs a re-run.
func (t OutcomeTag) Failed() bool {
	switch t {
	case OutcomeBlocked, OutcomeTimeout, OutcomeAuthError, OutcomeWorkerError:
		return true
	default:
		return false
	}
}

// Outcome is the typed result of executing one Task. It always carries the
// originating Task for traceability; records are present only on mergeable
// tags.
type Outcome struct {
	Task     Task
	Tag      OutcomeTag
	Records  []Record
	Attempts int
	Err      string
	Duration time.Duration
}

// Classification is what a Classifier reports for a loaded page.
type Classification struct {
	Tag     OutcomeTag
	Records []Record
}

// Record is a deduplicable extracted entity. Its canonical URL is the
// natural unique key; uniqueness is enforced only at the sink.
type Record struct {
	Kind        RecordKind `json:"kind"`
	URL         string     `json:"url"`
	Name        string     `json:"name"`
	Category    string     `json:"category,omitempty"`
	Address     string     `json:"address,omitempty"`
	Rating      string     `json:"rating,omitempty"`
	Context     string     `json:"context"`
	SourceURL   string     `json:"source_url"`
	ExtractedAt time.Time  `json:"extracted_at"`
}

// Key returns the record's natural unique key.
func (r Record) Key() string {
	return r.URL
}

// MergeStats reports the result of merging a batch of records into the
// sink for one context.
type MergeStats struct {
	New        int `json:"new"`
	Duplicates int `json:"duplicates"`
	Total      int `json:"total"`
}

// Failure captures a terminally failed task for targeted re-runs.
type Failure struct {
	Task   Task       `json:"task"`
	Tag    OutcomeTag `json:"tag"`
	Detail string     `json:"detail,omitempty"`
	At     time.Time  `json:"at"`
}

// RunStats summarizes a completed (or interrupted) run.
type RunStats struct {
	RunID            string             `json:"run_id"`
	Source           string             `json:"source"`
	Total            int                `json:"total"`
	Processed        int                `json:"processed"`
	ByTag            map[OutcomeTag]int `json:"by_tag"`
	NewRecords       int                `json:"new_records"`
	DuplicateRecords int                `json:"duplicate_records"`
	FailedContexts   []string           `json:"failed_contexts,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	FinishedAt       time.Time          `json:"finished_at"`
}
