package memory

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/yndnr/shardkv/internal/core/domain"
)

// shard is one independently locked partition of the store.
//
// The index is an immutable radix tree: every mutation swaps in a new root,
// so a root captured under the lock stays valid (and unchanged) after the
// lock is released. Snapshots and scans rely on this.
type shard struct {
	mu   sync.RWMutex
	id   int
	tree *iradix.Tree
	seq  uint64 // last sequence number assigned

	// bytes is the estimated size of the shard's entries; used is the
	// store-wide total it contributes to.
	bytes int64
	used  *atomic.Int64

	expiring expiringSet
}

func newShard(id int, used *atomic.Int64) *shard {
	return &shard{
		id:       id,
		tree:     iradix.New(),
		used:     used,
		expiring: newExpiringSet(),
	}
}

// entryOverhead approximates the per-entry cost of the radix node, the
// interface value and the payload header.
const entryOverhead = 64

// entrySize estimates the memory held by one entry.
func entrySize(key []byte, v domain.StoredValue) int64 {
	return int64(len(key)+v.Payload().Len()) + entryOverhead
}

// account adds delta to the shard and store totals. Caller holds mu for
// writing.
func (s *shard) account(delta int64) {
	if delta == 0 {
		return
	}
	s.bytes += delta
	s.used.Add(delta)
}

// growth returns how much storing v under key would add to the shard.
// Caller holds mu.
func (s *shard) growth(key []byte, v domain.StoredValue) int64 {
	delta := entrySize(key, v)
	if old, ok := s.lookup(key); ok {
		delta -= entrySize(key, old)
	}
	return delta
}

// lookup returns the stored value for key. Caller holds mu (read or write).
func (s *shard) lookup(key []byte) (domain.StoredValue, bool) {
	v, ok := s.tree.Get(key)
	if !ok {
		return nil, false
	}
	return v.(domain.StoredValue), true
}

// put stores v under key and keeps the expiring index in sync.
// Caller holds mu for writing.
func (s *shard) put(key []byte, v domain.StoredValue) {
	tree, old, _ := s.tree.Insert(key, v)
	s.tree = tree
	delta := entrySize(key, v)
	if old != nil {
		delta -= entrySize(key, old.(domain.StoredValue))
	}
	s.account(delta)
	if domain.IsExpiring(v) {
		s.expiring.add(string(key))
	} else {
		s.expiring.remove(string(key))
	}
}

// remove deletes key. Caller holds mu for writing.
func (s *shard) remove(key []byte) bool {
	tree, old, ok := s.tree.Delete(key)
	if !ok {
		return false
	}
	s.tree = tree
	s.account(-entrySize(key, old.(domain.StoredValue)))
	s.expiring.remove(string(key))
	return true
}

// clear drops every entry and returns how many were held. Caller holds mu
// for writing.
func (s *shard) clear() int {
	n := s.tree.Len()
	s.tree = iradix.New()
	s.expiring = newExpiringSet()
	s.account(-s.bytes)
	return n
}

// nextSeq returns the sequence number the next mutation will carry.
func (s *shard) nextSeq() uint64 {
	return s.seq + 1
}

// capture returns the current root and sequence number. The returned tree
// is immutable; it may be read after mu is released.
func (s *shard) capture() (*iradix.Tree, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree, s.seq
}

func (s *shard) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// expiringSet tracks the keys of a shard that carry a deadline.
//
// Keys live in a dense slice with a position map so that a uniformly random
// member can be drawn and removed in O(1).
type expiringSet struct {
	keys []string
	pos  map[string]int
}

func newExpiringSet() expiringSet {
	return expiringSet{pos: make(map[string]int)}
}

func (e *expiringSet) add(key string) {
	if _, ok := e.pos[key]; ok {
		return
	}
	e.pos[key] = len(e.keys)
	e.keys = append(e.keys, key)
}

func (e *expiringSet) remove(key string) {
	i, ok := e.pos[key]
	if !ok {
		return
	}
	last := len(e.keys) - 1
	if i != last {
		moved := e.keys[last]
		e.keys[i] = moved
		e.pos[moved] = i
	}
	e.keys[last] = ""
	e.keys = e.keys[:last]
	delete(e.pos, key)
}

func (e *expiringSet) len() int {
	return len(e.keys)
}

// random returns a uniformly chosen member, or false when empty.
func (e *expiringSet) random() (string, bool) {
	if len(e.keys) == 0 {
		return "", false
	}
	return e.keys[rand.IntN(len(e.keys))], true
}
