package metric

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/shardkv/internal/storage"
	"github.com/yndnr/shardkv/internal/storage/memory"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
	"github.com/yndnr/shardkv/internal/storage/wal"
)

// value returns the value of the first sample of family name whose labels
// include all of want.
func value(t *testing.T, g prometheus.Gatherer, name string, want map[string]string) float64 {
	t.Helper()
	mfs, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			switch {
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, want)
	return 0
}

func TestRegistry_ObserveBatch(t *testing.T) {
	r := NewRegistry()

	r.ObserveBatch(10, 512, 2*time.Millisecond, nil)
	r.ObserveBatch(3, 100, time.Millisecond, nil)
	r.ObserveBatch(5, 200, time.Millisecond, errors.New("fsync"))

	if got := value(t, r.Gatherer(), "shardkv_wal_batch_records", nil); got != 2.0 {
		t.Errorf("shardkv_wal_batch_records = %v, want 2", got)
	}
	if got := value(t, r.Gatherer(), "shardkv_wal_commit_seconds", nil); got != 2.0 {
		t.Errorf("shardkv_wal_commit_seconds = %v, want 2", got)
	}
	if got := value(t, r.Gatherer(), "shardkv_wal_batch_failures_total", nil); got != 1.0 {
		t.Errorf("shardkv_wal_batch_failures_total = %v, want 1", got)
	}
}

func TestRegistry_ObserveSnapshot(t *testing.T) {
	r := NewRegistry()

	r.ObserveSnapshot(&snapshot.Info{Size: 4096, Entries: 12}, time.Second, nil)
	r.ObserveSnapshot(nil, time.Second, errors.New("disk full"))

	if got := value(t, r.Gatherer(), "shardkv_snapshot_last_size_bytes", nil); got != 4096.0 {
		t.Errorf("shardkv_snapshot_last_size_bytes = %v, want 4096", got)
	}
	if got := value(t, r.Gatherer(), "shardkv_snapshot_last_entries", nil); got != 12.0 {
		t.Errorf("shardkv_snapshot_last_entries = %v, want 12", got)
	}
	if got := value(t, r.Gatherer(), "shardkv_snapshot_failures_total", nil); got != 1.0 {
		t.Errorf("shardkv_snapshot_failures_total = %v, want 1", got)
	}
	if got := value(t, r.Gatherer(), "shardkv_snapshot_duration_seconds", nil); got != 1.0 {
		t.Errorf("shardkv_snapshot_duration_seconds = %v, want 1", got)
	}
	if got := value(t, r.Gatherer(), "shardkv_snapshot_last_success_timestamp_seconds", nil); got <= 0 {
		t.Errorf("last success timestamp = %v, want > 0", got)
	}
}

func TestRegistry_SatisfiesObservers(t *testing.T) {
	var _ wal.BatchObserver = NewRegistry()
	var _ storage.SnapshotObserver = NewRegistry()
}

func TestCollector(t *testing.T) {
	st := storage.Stats{
		Store: memory.Stats{
			Keys:         7,
			ExpiringKeys: 2,
			Gets:         10,
			Sets:         7,
			Hits:         8,
			Misses:       2,
			Evicted:      3,
			MemoryBytes:  2048,
			Rejected:     4,
			Shards: []memory.ShardStats{
				{Index: 0, Keys: 4},
				{Index: 1, Keys: 3},
			},
		},
		Degraded:         true,
		OpsSinceSnapshot: 5,
		WAL:              &wal.Stats{Appended: 7, Pending: 1, ActiveSegment: 3},
	}

	r := NewRegistry()
	r.MustRegister(NewCollector(func() storage.Stats { return st }))
	g := r.Gatherer()

	if got := value(t, g, "shardkv_keys", nil); got != 7.0 {
		t.Errorf("shardkv_keys = %v, want 7", got)
	}
	if got := value(t, g, "shardkv_expiring_keys", nil); got != 2.0 {
		t.Errorf("shardkv_expiring_keys = %v, want 2", got)
	}
	if got := value(t, g, "shardkv_shard_keys", map[string]string{"shard": "1"}); got != 3.0 {
		t.Errorf("shardkv_shard_keys = %v, want 3", got)
	}
	if got := value(t, g, "shardkv_operations_total", map[string]string{"op": "get"}); got != 10.0 {
		t.Errorf("shardkv_operations_total = %v, want 10", got)
	}
	if got := value(t, g, "shardkv_evicted_total", nil); got != 3.0 {
		t.Errorf("shardkv_evicted_total = %v, want 3", got)
	}
	if got := value(t, g, "shardkv_memory_bytes", nil); got != 2048.0 {
		t.Errorf("shardkv_memory_bytes = %v, want 2048", got)
	}
	if got := value(t, g, "shardkv_memory_rejected_total", nil); got != 4.0 {
		t.Errorf("shardkv_memory_rejected_total = %v, want 4", got)
	}
	if got := value(t, g, "shardkv_degraded", nil); got != 1.0 {
		t.Errorf("shardkv_degraded = %v, want 1", got)
	}
	if got := value(t, g, "shardkv_ops_since_snapshot", nil); got != 5.0 {
		t.Errorf("shardkv_ops_since_snapshot = %v, want 5", got)
	}
	if got := value(t, g, "shardkv_wal_active_segment", nil); got != 3.0 {
		t.Errorf("shardkv_wal_active_segment = %v, want 3", got)
	}
}

func TestCollector_WithoutWAL(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewCollector(func() storage.Stats { return storage.Stats{} }))

	mfs, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "shardkv_wal_pending_records" {
			t.Errorf("WAL metrics exported without a WAL")
		}
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewCollector(func() storage.Stats { return storage.Stats{} }))

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{"shardkv_keys 0", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("body lacks %q:\n%s", want, body)
		}
	}
}
