package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/shardkv/internal/storage/snapshot"
)

const namespace = "shardkv"

// Registry holds all application metrics.
//
// It implements wal.BatchObserver and storage.SnapshotObserver, so it can
// be plugged into the engine configuration directly.
type Registry struct {
	reg *prometheus.Registry

	// WAL metrics
	WALBatchRecords  prometheus.Histogram
	WALBatchBytes    prometheus.Histogram
	WALCommitSeconds prometheus.Histogram
	WALBatchFailures prometheus.Counter

	// Snapshot metrics
	SnapshotSeconds  prometheus.Histogram
	SnapshotFailures prometheus.Counter
	SnapshotBytes    prometheus.Gauge
	SnapshotEntries  prometheus.Gauge
	SnapshotLastTime prometheus.Gauge
}

// NewRegistry creates a registry with the storage metrics and the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		WALBatchRecords: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "batch_records",
			Help:      "Records per committed WAL batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		WALBatchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "batch_bytes",
			Help:      "Bytes per committed WAL batch.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
		WALCommitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "commit_seconds",
			Help:      "Time to write and fsync a WAL batch.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		WALBatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "batch_failures_total",
			Help:      "WAL batches whose write or fsync failed.",
		}),
		SnapshotSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "duration_seconds",
			Help:      "Time to write a snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		SnapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "failures_total",
			Help:      "Failed snapshot attempts.",
		}),
		SnapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "last_size_bytes",
			Help:      "Size of the last snapshot written.",
		}),
		SnapshotEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "last_entries",
			Help:      "Entries in the last snapshot written.",
		}),
		SnapshotLastTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful snapshot.",
		}),
	}

	r.reg.MustRegister(
		r.WALBatchRecords,
		r.WALBatchBytes,
		r.WALCommitSeconds,
		r.WALBatchFailures,
		r.SnapshotSeconds,
		r.SnapshotFailures,
		r.SnapshotBytes,
		r.SnapshotEntries,
		r.SnapshotLastTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// MustRegister registers additional collectors.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.reg.MustRegister(cs...)
}

// Gatherer returns the underlying registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveBatch records a WAL batch commit.
func (r *Registry) ObserveBatch(records, bytes int, elapsed time.Duration, err error) {
	if err != nil {
		r.WALBatchFailures.Inc()
		return
	}
	r.WALBatchRecords.Observe(float64(records))
	r.WALBatchBytes.Observe(float64(bytes))
	r.WALCommitSeconds.Observe(elapsed.Seconds())
}

// ObserveSnapshot records a snapshot attempt.
func (r *Registry) ObserveSnapshot(info *snapshot.Info, elapsed time.Duration, err error) {
	if err != nil {
		r.SnapshotFailures.Inc()
		return
	}
	r.SnapshotSeconds.Observe(elapsed.Seconds())
	if info != nil {
		r.SnapshotBytes.Set(float64(info.Size))
		r.SnapshotEntries.Set(float64(info.Entries))
	}
	r.SnapshotLastTime.SetToCurrentTime()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
