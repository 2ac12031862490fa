package cmap

import "iter"

// All iterates over shards in index order.
func (m *Sharded[S]) All() iter.Seq2[int, S] {
	return func(yield func(int, S) bool) {
		for i, s := range m.shards {
			if !yield(i, s) {
				return
			}
		}
	}
}

// Range calls fn for each shard in index order. The callback returns false
// to stop iteration.
func (m *Sharded[S]) Range(fn func(index int, shard S) bool) {
	for i, s := range m.shards {
		if !fn(i, s) {
			return
		}
	}
}

// Group partitions keys by owning shard, preserving input order within each
// group. The result maps shard index to the positions of its keys in keys.
func (m *Sharded[S]) Group(keys [][]byte) map[int][]int {
	groups := make(map[int][]int)
	for pos, k := range keys {
		i := m.Index(k)
		groups[i] = append(groups[i], pos)
	}
	return groups
}

// ShardStats describes one shard.
type ShardStats struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

// Stats reports per-shard counts using count to size each shard.
func (m *Sharded[S]) Stats(count func(S) int) []ShardStats {
	stats := make([]ShardStats, len(m.shards))
	for i, s := range m.shards {
		stats[i] = ShardStats{Index: i, Count: count(s)}
	}
	return stats
}
