package crawl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "venuecrawl",
		Name:      "tasks_total",
		Help:      "Tasks finished, labeled by outcome tag.",
	}, []string{"outcome", "kind"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "venuecrawl",
		Name:      "task_duration_seconds",
		Help:      "Wall time spent executing a single task.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"kind"})

	recordsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "venuecrawl",
		Name:      "records_merged_total",
		Help:      "Records offered to the sink, labeled new or duplicate.",
	}, []string{"disposition"})

	blockTrips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "venuecrawl",
		Name:      "block_trips_total",
		Help:      "Times the shared block flag was raised by this process.",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "venuecrawl",
		Name:      "task_retries_total",
		Help:      "Task attempts repeated after a navigation timeout.",
	})

	checkpointIndex = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "venuecrawl",
		Name:      "checkpoint_index",
		Help:      "Highest task index persisted for a source list.",
	}, []string{"source"})
)

func observeOutcome(o Outcome) {
	tasksTotal.WithLabelValues(string(o.Tag), string(o.Task.Kind)).Inc()
	taskDuration.WithLabelValues(string(o.Task.Kind)).Observe(o.Duration.Seconds())
}

func observeMerge(stats MergeStats) {
	recordsMerged.WithLabelValues("new").Add(float64(stats.New))
	recordsMerged.WithLabelValues("duplicate").Add(float64(stats.Duplicates))
}

// ObserveRetry counts one repeated attempt after a navigation timeout.
func ObserveRetry() { retriesTotal.Inc() }
