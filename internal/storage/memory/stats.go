package memory

// Stats is a point-in-time view of store counters.
type Stats struct {
	Keys         int          `json:"keys"`
	ExpiringKeys int          `json:"expiring_keys"`
	Gets         uint64       `json:"gets"`
	Sets         uint64       `json:"sets"`
	Deletes      uint64       `json:"deletes"`
	Hits         uint64       `json:"hits"`
	Misses       uint64       `json:"misses"`
	Expired      uint64       `json:"expired"`
	Evicted      uint64       `json:"evicted"`
	MemoryBytes  int64        `json:"memory_bytes"`
	MemoryLimit  int64        `json:"memory_limit,omitempty"`
	Rejected     uint64       `json:"rejected"`
	Shards       []ShardStats `json:"shards,omitempty"`
}

// ShardStats describes a single shard.
type ShardStats struct {
	Index    int    `json:"index"`
	Keys     int    `json:"keys"`
	Expiring int    `json:"expiring"`
	Seq      uint64 `json:"seq"`
	Bytes    int64  `json:"bytes"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the current counters. Shard figures are read shard by
// shard and are not a consistent cut.
func (s *Store) Stats() Stats {
	st := Stats{
		Gets:    s.gets.Load(),
		Sets:    s.sets.Load(),
		Deletes: s.deletes.Load(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Expired: s.expired.Load(),
		Evicted: s.evicted.Load(),
		Shards:  make([]ShardStats, 0, s.shardCount),

		MemoryBytes: s.used.Load(),
		MemoryLimit: s.memoryLimit,
		Rejected:    s.rejected.Load(),
	}

	for i, sh := range s.shards.All() {
		sh.mu.RLock()
		ss := ShardStats{
			Index:    i,
			Keys:     sh.tree.Len(),
			Expiring: sh.expiring.len(),
			Seq:      sh.seq,
			Bytes:    sh.bytes,
		}
		sh.mu.RUnlock()

		st.Keys += ss.Keys
		st.ExpiringKeys += ss.Expiring
		st.Shards = append(st.Shards, ss)
	}
	return st
}
