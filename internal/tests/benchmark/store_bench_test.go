package benchmark

import (
	"context"
	"testing"
	"time"
)

// BenchmarkSetPersistent measures writes of values without expiry.
func BenchmarkSetPersistent(b *testing.B) {
	s := newStore(b)
	ctx := context.Background()
	keys := make([][]byte, 4096)
	for i := range keys {
		keys[i] = benchKey(i)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := s.Set(ctx, keys[i%len(keys)], benchValue, 0); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSetExpiring measures writes that also maintain the expiring
// subset.
func BenchmarkSetExpiring(b *testing.B) {
	s := newStore(b)
	ctx := context.Background()
	keys := make([][]byte, 4096)
	for i := range keys {
		keys[i] = benchKey(i)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := s.Set(ctx, keys[i%len(keys)], benchValue, time.Hour); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkGetParallel measures concurrent reads spread over all shards.
func BenchmarkGetParallel(b *testing.B) {
	runWithKeyCounts(b, KeyCounts, func(b *testing.B, count int) {
		s := newStore(b)
		prefill(b, s, count, 2, time.Hour)

		b.ResetTimer()
		b.ReportAllocs()
		b.RunParallel(func(pb *testing.PB) {
			i := 0
			for pb.Next() {
				if _, err := s.Get(benchKey(i % count)); err != nil {
					b.Error(err)
					return
				}
				i++
			}
		})
	})
}

// BenchmarkPrefixScan measures an ordered scan over one prefix.
func BenchmarkPrefixScan(b *testing.B) {
	s := newStore(b)
	prefill(b, s, 100000, 0, 0)
	prefix := []byte("key:00001")

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		n := 0
		for range s.ScanPrefix(prefix) {
			n++
		}
		if n != 10000 {
			b.Fatalf("scanned %d keys, want 10000", n)
		}
	}
}
