// Package cmap provides a fixed-size sharded container with stable key routing.
package cmap

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the default number of shards.
const DefaultShardCount = 64

// MaxShardCount bounds the shard count accepted by New.
const MaxShardCount = 1 << 16

// ShardIndex maps key to a shard index in [0, shardCount).
//
// The mapping uses murmur3 with a zero seed, so it is identical across
// processes and restarts. shardCount need not be a power of two.
func ShardIndex(key []byte, shardCount int) int {
	return int(murmur3.Sum64(key) % uint64(shardCount))
}

// Sharded is a fixed array of shards of type S with stable key routing.
//
// The shard count is set at construction and never changes; keys are
// never rehashed. Synchronization is the responsibility of S.
type Sharded[S any] struct {
	shards []S
}

// New creates a container with shardCount shards, each built by newShard.
func New[S any](shardCount int, newShard func(index int) S) (*Sharded[S], error) {
	if shardCount <= 0 || shardCount > MaxShardCount {
		return nil, fmt.Errorf("cmap: shard count %d out of range [1, %d]", shardCount, MaxShardCount)
	}

	m := &Sharded[S]{
		shards: make([]S, shardCount),
	}
	for i := range m.shards {
		m.shards[i] = newShard(i)
	}
	return m, nil
}

// Index returns the shard index for key.
func (m *Sharded[S]) Index(key []byte) int {
	return ShardIndex(key, len(m.shards))
}

// For returns the shard index and shard owning key.
func (m *Sharded[S]) For(key []byte) (int, S) {
	i := ShardIndex(key, len(m.shards))
	return i, m.shards[i]
}

// At returns the shard at index i. It panics if i is out of range.
func (m *Sharded[S]) At(i int) S {
	return m.shards[i]
}

// ShardCount returns the number of shards.
func (m *Sharded[S]) ShardCount() int {
	return len(m.shards)
}
