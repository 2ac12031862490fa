package benchmark

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/shardkv/internal/storage/memory"
)

// KeyCounts are the store sizes benchmarks are run at.
var KeyCounts = []int{1000, 10000, 100000}

// valueSize is the payload size used throughout.
const valueSize = 64

var benchValue = make([]byte, valueSize)

func benchKey(i int) []byte {
	return fmt.Appendf(nil, "key:%09d", i)
}

// newStore creates a store without a journal.
func newStore(b *testing.B, opts ...memory.Option) *memory.Store {
	b.Helper()
	s, err := memory.New(append([]memory.Option{memory.WithShardCount(16)}, opts...)...)
	if err != nil {
		b.Fatalf("memory.New: %v", err)
	}
	return s
}

// prefill stores count keys; every expiringEvery-th key gets ttl.
func prefill(b *testing.B, s *memory.Store, count, expiringEvery int, ttl time.Duration) {
	b.Helper()
	ctx := context.Background()
	for i := range count {
		var t time.Duration
		if expiringEvery > 0 && i%expiringEvery == 0 {
			t = ttl
		}
		if err := s.Set(ctx, benchKey(i), benchValue, t); err != nil {
			b.Fatalf("Set: %v", err)
		}
	}
}

// reportMemory reports heap usage after a GC.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
}

// runWithKeyCounts runs benchFn once per key count.
func runWithKeyCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("keys_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}

// atomicTime is a settable clock.
type atomicTime struct {
	ns atomic.Int64
}

func (t *atomicTime) Store(v time.Time) { t.ns.Store(v.UnixNano()) }

func (t *atomicTime) Load() time.Time { return time.Unix(0, t.ns.Load()) }
