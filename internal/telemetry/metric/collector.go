package metric

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/shardkv/internal/storage"
)

// StatsFunc returns the engine state at scrape time.
type StatsFunc func() storage.Stats

// Collector exports engine counters read at scrape time, so the store
// does no metric bookkeeping of its own.
type Collector struct {
	stats StatsFunc

	keys          *prometheus.Desc
	expiringKeys  *prometheus.Desc
	shardKeys     *prometheus.Desc
	ops           *prometheus.Desc
	hits          *prometheus.Desc
	misses        *prometheus.Desc
	expired       *prometheus.Desc
	evicted       *prometheus.Desc
	memory        *prometheus.Desc
	rejected      *prometheus.Desc
	degraded      *prometheus.Desc
	sinceSnapshot *prometheus.Desc
	walAppended   *prometheus.Desc
	walPending    *prometheus.Desc
	walSegment    *prometheus.Desc
}

// NewCollector creates a collector over stats.
func NewCollector(stats StatsFunc) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		stats:         stats,
		keys:          desc("keys", "Stored entries, including not yet reaped expired ones."),
		expiringKeys:  desc("expiring_keys", "Stored entries with a deadline."),
		shardKeys:     desc("shard_keys", "Stored entries per shard.", "shard"),
		ops:           desc("operations_total", "Store operations by kind.", "op"),
		hits:          desc("hits_total", "Lookups that found a live entry."),
		misses:        desc("misses_total", "Lookups that found nothing."),
		expired:       desc("expired_total", "Entries removed lazily on access or load."),
		evicted:       desc("evicted_total", "Entries removed by the TTL sampler."),
		memory:        desc("memory_bytes", "Estimated size of stored entries."),
		rejected:      desc("memory_rejected_total", "Writes refused by the memory limit."),
		degraded:      desc("degraded", "1 while mutations are rejected after a WAL failure."),
		sinceSnapshot: desc("ops_since_snapshot", "Mutations since the last snapshot."),
		walAppended:   desc("wal_appended_total", "Records appended to the WAL."),
		walPending:    desc("wal_pending_records", "Records waiting for group commit."),
		walSegment:    desc("wal_active_segment", "ID of the active WAL segment."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.keys, c.expiringKeys, c.shardKeys, c.ops, c.hits, c.misses,
		c.expired, c.evicted, c.memory, c.rejected, c.degraded, c.sinceSnapshot,
		c.walAppended, c.walPending, c.walSegment,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	s := st.Store

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(c.keys, float64(s.Keys))
	gauge(c.expiringKeys, float64(s.ExpiringKeys))
	for _, sh := range s.Shards {
		gauge(c.shardKeys, float64(sh.Keys), strconv.Itoa(sh.Index))
	}
	counter(c.ops, s.Gets, "get")
	counter(c.ops, s.Sets, "set")
	counter(c.ops, s.Deletes, "delete")
	counter(c.hits, s.Hits)
	counter(c.misses, s.Misses)
	counter(c.expired, s.Expired)
	counter(c.evicted, s.Evicted)
	gauge(c.memory, float64(s.MemoryBytes))
	counter(c.rejected, s.Rejected)

	degraded := 0.0
	if st.Degraded {
		degraded = 1
	}
	gauge(c.degraded, degraded)
	gauge(c.sinceSnapshot, float64(st.OpsSinceSnapshot))

	if st.WAL != nil {
		counter(c.walAppended, st.WAL.Appended)
		gauge(c.walPending, float64(st.WAL.Pending))
		gauge(c.walSegment, float64(st.WAL.ActiveSegment))
	}
}
