package cmap

import (
	"testing"
)

func TestAll_Order(t *testing.T) {
	m, _ := New(5, func(i int) int { return i })

	want := 0
	for i, v := range m.All() {
		if i != want || v != want {
			t.Errorf("All() yielded (%d, %d), want (%d, %d)", i, v, want, want)
		}
		want++
	}
	if want != 5 {
		t.Errorf("All() yielded %d shards, want 5", want)
	}
}

func TestAll_EarlyStop(t *testing.T) {
	m, _ := New(10, func(i int) int { return i })

	count := 0
	for range m.All() {
		count++
		if count == 3 {
			break
		}
	}
	if count != 3 {
		t.Errorf("iteration stopped at %d, want 3", count)
	}
}

func TestRange_EarlyStop(t *testing.T) {
	m, _ := New(10, func(i int) int { return i })

	count := 0
	m.Range(func(int, int) bool {
		count++
		return count < 4
	})
	if count != 4 {
		t.Errorf("Range stopped at %d, want 4", count)
	}
}

func TestGroup(t *testing.T) {
	m, _ := New(8, func(i int) int { return i })
	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("a")}

	groups := m.Group(keys)

	total := 0
	for idx, positions := range groups {
		for j, pos := range positions {
			if m.Index(keys[pos]) != idx {
				t.Errorf("key %q grouped under shard %d, owned by %d", keys[pos], idx, m.Index(keys[pos]))
			}
			if j > 0 && positions[j-1] >= pos {
				t.Errorf("positions not in input order: %v", positions)
			}
		}
		total += len(positions)
	}
	if total != len(keys) {
		t.Errorf("grouped %d keys, want %d", total, len(keys))
	}

	// duplicate key lands in the same group twice
	if got := len(groups[m.Index([]byte("a"))]); got < 2 {
		t.Errorf("group for %q has %d entries, want at least 2", "a", got)
	}
}

func TestStats(t *testing.T) {
	m, _ := New(4, func(i int) []int { return make([]int, i) })

	stats := m.Stats(func(s []int) int { return len(s) })
	if len(stats) != 4 {
		t.Fatalf("Stats() length = %d, want 4", len(stats))
	}
	for i, st := range stats {
		if st.Index != i || st.Count != i {
			t.Errorf("stats[%d] = %+v, want {Index:%d Count:%d}", i, st, i, i)
		}
	}
}
