package memory

import (
	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/yndnr/shardkv/internal/core/domain"
)

// Restorer bulk-loads one shard from a snapshot section. It holds the
// shard's write lock from Restore until Commit or Abort.
type Restorer struct {
	s        *Store
	sh       *shard
	txn      *iradix.Txn
	expiring *expiringSet
	replace  bool
	now      int64
	count    int
	delta    int64
}

// Restore starts loading shard i on top of its existing content; loaded
// entries overwrite existing ones key by key.
func (s *Store) Restore(i int) (*Restorer, error) {
	return s.restore(i, false)
}

// Replace starts loading shard i from empty. Until Commit the shard keeps
// serving its old content.
func (s *Store) Replace(i int) (*Restorer, error) {
	return s.restore(i, true)
}

func (s *Store) restore(i int, replace bool) (*Restorer, error) {
	if i < 0 || i >= s.shardCount {
		return nil, domain.ErrConfiguration.WithDetailsf(
			"snapshot section for shard %d, store has %d shards", i, s.shardCount)
	}

	sh := s.shards.At(i)
	sh.mu.Lock()
	r := &Restorer{
		s:       s,
		sh:      sh,
		replace: replace,
		now:     s.now().UnixNano(),
	}
	if replace {
		set := newExpiringSet()
		r.txn = iradix.New().Txn()
		r.expiring = &set
	} else {
		r.txn = sh.tree.Txn()
		r.expiring = &sh.expiring
	}
	return r, nil
}

// Put stores v under key. The restorer takes ownership of key. Entries
// already expired are dropped.
func (r *Restorer) Put(key []byte, v domain.StoredValue) {
	if v.Expired(r.now) {
		r.s.expired.Add(1)
		if !r.replace {
			if old, ok := r.txn.Delete(key); ok {
				r.delta -= entrySize(key, old.(domain.StoredValue))
			}
			r.expiring.remove(string(key))
		}
		return
	}
	old, _ := r.txn.Insert(key, v)
	r.delta += entrySize(key, v)
	if old != nil {
		r.delta -= entrySize(key, old.(domain.StoredValue))
	}
	if domain.IsExpiring(v) {
		r.expiring.add(string(key))
	} else {
		r.expiring.remove(string(key))
	}
	r.count++
}

// Count returns the number of entries loaded so far.
func (r *Restorer) Count() int {
	return r.count
}

// Commit publishes the loaded entries and releases the shard. The shard's
// sequence number becomes boundary when replacing, and is raised to
// boundary otherwise.
func (r *Restorer) Commit(boundary uint64) {
	r.sh.tree = r.txn.Commit()
	if r.replace {
		r.sh.expiring = *r.expiring
		r.sh.seq = boundary
		r.sh.account(r.delta - r.sh.bytes)
	} else {
		if boundary > r.sh.seq {
			r.sh.seq = boundary
		}
		r.sh.account(r.delta)
	}
	r.sh.mu.Unlock()
}

// Abort discards the loaded entries and releases the shard.
func (r *Restorer) Abort() {
	if !r.replace {
		r.sh.expiring = newExpiringSet()
		r.sh.tree.Root().Walk(func(k []byte, raw interface{}) bool {
			if domain.IsExpiring(raw.(domain.StoredValue)) {
				r.sh.expiring.add(string(k))
			}
			return false
		})
	}
	r.sh.mu.Unlock()
}

// AdvanceSeq raises shard i's sequence number to at least seq, so that
// numbers already handed out are never reused.
func (s *Store) AdvanceSeq(i int, seq uint64) {
	sh := s.shards.At(i)
	sh.mu.Lock()
	if seq > sh.seq {
		sh.seq = seq
	}
	sh.mu.Unlock()
}
