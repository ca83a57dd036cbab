package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess   = "success"
	ResultConflict  = "conflict"
	ResultUnknown   = "unknown"
	ResultUnchanged = "unchanged"
	ResultError     = "error"
)

var (
	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablemeta_commits_total",
		Help: "Total number of commit attempts by result.",
	}, []string{"result"})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tablemeta_commit_duration_seconds",
		Help:    "Duration of commit attempts, from staging to pointer swap.",
		Buckets: prometheus.DefBuckets,
	})

	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablemeta_refresh_total",
		Help: "Total number of metadata refreshes by result.",
	}, []string{"result"})

	MetadataBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablemeta_metadata_bytes_written_total",
		Help: "Total bytes of metadata files staged.",
	})

	CleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablemeta_cleanup_failures_total",
		Help: "Total number of failed best-effort metadata file deletions.",
	})

	CommitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablemeta_commit_retries_total",
		Help: "Total number of commits retried after a conflict.",
	})
)
