// Package memory provides the sharded in-memory store for shardkv.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/yndnr/shardkv/internal/core/domain"
	"github.com/yndnr/shardkv/pkg/cmap"
)

// NoTTL is the TTL reported for keys without expiry.
const NoTTL time.Duration = -1

// MaxValueSize bounds a single value. It stays below the WAL frame and
// snapshot field limits.
const MaxValueSize = 128 << 20

// Journal receives every mutation before it is applied.
//
// Append is called with the shard's write lock held, so per-shard calls
// arrive in sequence order. It must not block on I/O completion beyond
// enqueueing (except in synchronous durability modes); the returned Commit
// is waited on after the lock is released. A non-nil error rejects the
// mutation and leaves the shard unchanged.
type Journal interface {
	Append(m domain.Mutation) (Commit, error)
}

// Commit is a pending durability acknowledgement.
type Commit interface {
	Wait(ctx context.Context) error
}

// KV is a key/value pair for MSet.
type KV struct {
	Key   []byte
	Value []byte
}

// Store is the sharded key/value store.
type Store struct {
	shards     *cmap.Sharded[*shard]
	shardCount int
	journal    Journal
	now        func() time.Time

	memoryLimit int64
	allowFlush  bool
	used        atomic.Int64

	gets     atomic.Uint64
	sets     atomic.Uint64
	deletes  atomic.Uint64
	hits     atomic.Uint64
	misses   atomic.Uint64
	expired  atomic.Uint64
	evicted  atomic.Uint64
	rejected atomic.Uint64
}

// Option configures the Store.
type Option func(*Store)

// WithShardCount sets the number of shards. It is fixed for the lifetime
// of the store.
func WithShardCount(n int) Option {
	return func(s *Store) {
		s.shardCount = n
	}
}

// WithJournal attaches a journal that receives every mutation.
func WithJournal(j Journal) Option {
	return func(s *Store) {
		s.journal = j
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithMemoryLimit rejects writes that would grow the estimated entry size
// past limit bytes with domain.ErrMemoryLimit. 0 disables the limit.
func WithMemoryLimit(limit int64) Option {
	return func(s *Store) {
		s.memoryLimit = limit
	}
}

// WithFlush enables FlushDB and FlushAll.
func WithFlush(enabled bool) Option {
	return func(s *Store) {
		s.allowFlush = enabled
	}
}

// New creates a new store.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		shardCount: cmap.DefaultShardCount,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.memoryLimit < 0 {
		return nil, domain.ErrConfiguration.WithDetails("memory limit must not be negative")
	}

	shards, err := cmap.New(s.shardCount, func(i int) *shard {
		return newShard(i, &s.used)
	})
	if err != nil {
		return nil, domain.ErrConfiguration.WithCause(err)
	}
	s.shards = shards

	return s, nil
}

// ShardCount returns the number of shards.
func (s *Store) ShardCount() int {
	return s.shardCount
}

// ShardOf returns the shard index owning key.
func (s *Store) ShardOf(key []byte) int {
	return s.shards.Index(key)
}

// Get returns the payload stored under key. Expired entries are removed on
// access and reported as domain.ErrNotFound.
func (s *Store) Get(key []byte) (*domain.Payload, error) {
	s.gets.Add(1)
	v, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	return v.Payload(), nil
}

// Exists reports whether key holds a live value.
func (s *Store) Exists(key []byte) bool {
	_, err := s.lookup(key)
	return err == nil
}

// TTL returns the time left before key expires, or NoTTL for a persistent
// key.
func (s *Store) TTL(key []byte) (time.Duration, error) {
	v, err := s.lookup(key)
	if err != nil {
		return 0, err
	}
	e, ok := v.(domain.Expiring)
	if !ok {
		return NoTTL, nil
	}
	return e.Remaining(s.now().UnixNano()), nil
}

// StrLen returns the payload length of key, or 0 when absent.
func (s *Store) StrLen(key []byte) int {
	v, err := s.lookup(key)
	if err != nil {
		return 0
	}
	return v.Payload().Len()
}

// MGet returns the payloads for keys in order; missing keys yield nil.
func (s *Store) MGet(keys [][]byte) []*domain.Payload {
	out := make([]*domain.Payload, len(keys))
	for i, k := range keys {
		p, err := s.Get(k)
		if err == nil {
			out[i] = p
		}
	}
	return out
}

func (s *Store) lookup(key []byte) (domain.StoredValue, error) {
	if len(key) == 0 {
		return nil, domain.ErrInvalidKey
	}

	_, sh := s.shards.For(key)
	now := s.now().UnixNano()

	sh.mu.RLock()
	v, ok := sh.lookup(key)
	sh.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return nil, domain.ErrNotFound
	}
	if v.Expired(now) {
		sh.mu.Lock()
		s.reap(sh, key, now)
		sh.mu.Unlock()
		s.misses.Add(1)
		return nil, domain.ErrNotFound
	}

	s.hits.Add(1)
	return v, nil
}

// reap removes key if it is still expired at now. Caller holds sh.mu for
// writing. Expiry is implicit in the log, so no mutation is journaled.
func (s *Store) reap(sh *shard, key []byte, now int64) {
	if v, ok := sh.lookup(key); ok && v.Expired(now) {
		sh.remove(key)
		s.expired.Add(1)
	}
}

// live returns the value of key if present and unexpired, reaping it
// otherwise. Caller holds sh.mu for writing.
func (s *Store) live(sh *shard, key []byte, now int64) (domain.StoredValue, bool) {
	v, ok := sh.lookup(key)
	if !ok {
		return nil, false
	}
	if v.Expired(now) {
		sh.remove(key)
		s.expired.Add(1)
		return nil, false
	}
	return v, true
}

// record assigns the next sequence number of sh to m and hands it to the
// journal. Caller holds sh.mu for writing. On error the shard is unchanged.
func (s *Store) record(sh *shard, m domain.Mutation, now time.Time) (Commit, error) {
	m.Seq = sh.nextSeq()
	m.Shard = uint32(sh.id)
	m.Timestamp = now.UnixMilli()

	var c Commit
	if s.journal != nil {
		var err error
		if c, err = s.journal.Append(m); err != nil {
			return nil, err
		}
	}
	sh.seq = m.Seq
	return c, nil
}

func wait(ctx context.Context, c Commit) error {
	if c == nil {
		return nil
	}
	return c.Wait(ctx)
}

// Set stores value under key. A positive ttl makes the entry expire after
// ttl; otherwise it is persistent. Set returns once the mutation is
// durable under the configured journal.
func (s *Store) Set(ctx context.Context, key, value []byte, ttl time.Duration) error {
	c, err := s.set(key, domain.NewPayload(value), ttl)
	if err != nil {
		return err
	}
	return wait(ctx, c)
}

func (s *Store) set(key []byte, p *domain.Payload, ttl time.Duration) (Commit, error) {
	if len(key) == 0 {
		return nil, domain.ErrInvalidKey
	}
	if p.Len() > MaxValueSize {
		return nil, domain.ErrValueTooLarge.WithDetailsf("%d bytes", p.Len())
	}

	now := s.now()
	v := domain.NewStoredValue(p, domain.Deadline(now, ttl))
	k := bytes.Clone(key)
	_, sh := s.shards.For(k)

	sh.mu.Lock()
	if err := s.admit(sh.growth(k, v)); err != nil {
		sh.mu.Unlock()
		return nil, err
	}
	c, err := s.record(sh, domain.Mutation{Op: domain.OpSet, Key: k, Value: p, ExpireAt: v.ExpireAt()}, now)
	if err != nil {
		sh.mu.Unlock()
		return nil, err
	}
	sh.put(k, v)
	sh.mu.Unlock()

	s.sets.Add(1)
	return c, nil
}

// admit returns domain.ErrMemoryLimit if growing the store by delta bytes
// would pass the memory limit. Writes that shrink the store always pass.
// Shards admit writes independently, so concurrent writers can overshoot
// the limit by at most one entry each.
func (s *Store) admit(delta int64) error {
	if s.memoryLimit <= 0 || delta <= 0 {
		return nil
	}
	if used := s.used.Load(); used+delta > s.memoryLimit {
		s.rejected.Add(1)
		return domain.ErrMemoryLimit.WithDetailsf("%d of %d bytes in use", used, s.memoryLimit)
	}
	return nil
}

// MemoryUsed returns the estimated size of all entries in bytes.
func (s *Store) MemoryUsed() int64 {
	return s.used.Load()
}

// MSet stores every pair as a persistent value. Pairs are applied one by
// one; the call is not atomic across keys. All pairs share durability
// batches, and MSet returns the first error encountered.
func (s *Store) MSet(ctx context.Context, pairs []KV) error {
	commits := make([]Commit, 0, len(pairs))
	var firstErr error
	for _, kv := range pairs {
		c, err := s.set(kv.Key, domain.NewPayload(kv.Value), 0)
		if err != nil {
			firstErr = err
			break
		}
		commits = append(commits, c)
	}
	for _, c := range commits {
		if err := wait(ctx, c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MSetNX stores every pair as a persistent value only if none of the keys
// holds a live value, and reports whether it did. The shards involved are
// locked together, so no reader sees part of the pairs and no writer
// slips in between the check and the writes. A journal failure part way
// leaves the pairs written so far in place and returns the error.
func (s *Store) MSetNX(ctx context.Context, pairs []KV) (bool, error) {
	if len(pairs) == 0 {
		return true, nil
	}

	keys := make([][]byte, len(pairs))
	values := make([]domain.StoredValue, len(pairs))
	for i, kv := range pairs {
		if len(kv.Key) == 0 {
			return false, domain.ErrInvalidKey
		}
		if len(kv.Value) > MaxValueSize {
			return false, domain.ErrValueTooLarge.WithDetailsf("%d bytes", len(kv.Value))
		}
		keys[i] = bytes.Clone(kv.Key)
		values[i] = domain.NewPersistent(domain.NewPayload(kv.Value))
	}

	groups := s.shards.Group(keys)
	locked := slices.Sorted(maps.Keys(groups))
	for _, i := range locked {
		s.shards.At(i).mu.Lock()
	}
	unlock := func() {
		for _, i := range locked {
			s.shards.At(i).mu.Unlock()
		}
	}

	now := s.now()
	var growth int64
	for i, k := range keys {
		sh := s.shards.At(s.shards.Index(k))
		if _, ok := s.live(sh, k, now.UnixNano()); ok {
			unlock()
			return false, nil
		}
		growth += entrySize(k, values[i])
	}
	if err := s.admit(growth); err != nil {
		unlock()
		return false, err
	}

	commits := make([]Commit, 0, len(keys))
	var err error
	for i, k := range keys {
		sh := s.shards.At(s.shards.Index(k))
		var c Commit
		c, err = s.record(sh, domain.Mutation{Op: domain.OpSet, Key: k, Value: values[i].Payload()}, now)
		if err != nil {
			break
		}
		sh.put(k, values[i])
		s.sets.Add(1)
		commits = append(commits, c)
	}
	unlock()

	for _, c := range commits {
		if werr := wait(ctx, c); werr != nil && err == nil {
			err = werr
		}
	}
	return err == nil && len(commits) == len(keys), err
}

// GetSet stores value as a persistent entry and returns the previous
// payload, or nil if key was absent.
func (s *Store) GetSet(ctx context.Context, key, value []byte) (*domain.Payload, error) {
	var prev *domain.Payload
	c, err := s.update(key, func(old domain.StoredValue, exists bool) (domain.StoredValue, error) {
		if exists {
			prev = old.Payload()
		}
		return domain.NewPersistent(domain.NewPayload(value)), nil
	})
	if err != nil {
		return nil, err
	}
	return prev, wait(ctx, c)
}

// IncrBy adds delta to the integer stored under key and returns the result.
// An absent key counts as 0. The TTL of an existing key is kept.
func (s *Store) IncrBy(ctx context.Context, key []byte, delta int64) (int64, error) {
	var result int64
	c, err := s.update(key, func(old domain.StoredValue, exists bool) (domain.StoredValue, error) {
		var n int64
		if exists {
			var err error
			n, err = strconv.ParseInt(string(old.Payload().Bytes()), 10, 64)
			if err != nil {
				return nil, domain.ErrNotInteger
			}
		}
		if (delta > 0 && n > math.MaxInt64-delta) || (delta < 0 && n < math.MinInt64-delta) {
			return nil, domain.ErrNotInteger.WithDetails("increment or decrement would overflow")
		}
		result = n + delta
		return keepTTL(old, exists, domain.OwnPayload(strconv.AppendInt(nil, result, 10))), nil
	})
	if err != nil {
		return 0, err
	}
	return result, wait(ctx, c)
}

// Incr is IncrBy(key, 1).
func (s *Store) Incr(ctx context.Context, key []byte) (int64, error) {
	return s.IncrBy(ctx, key, 1)
}

// Decr is IncrBy(key, -1).
func (s *Store) Decr(ctx context.Context, key []byte) (int64, error) {
	return s.IncrBy(ctx, key, -1)
}

// Append appends suffix to the value of key, creating it if absent, and
// returns the new length. The TTL of an existing key is kept.
func (s *Store) Append(ctx context.Context, key, suffix []byte) (int, error) {
	var n int
	c, err := s.update(key, func(old domain.StoredValue, exists bool) (domain.StoredValue, error) {
		var cur []byte
		if exists {
			cur = old.Payload().Bytes()
		}
		if len(cur)+len(suffix) > MaxValueSize {
			return nil, domain.ErrValueTooLarge.WithDetailsf("%d bytes", len(cur)+len(suffix))
		}
		b := make([]byte, 0, len(cur)+len(suffix))
		b = append(append(b, cur...), suffix...)
		n = len(b)
		return keepTTL(old, exists, domain.OwnPayload(b)), nil
	})
	if err != nil {
		return 0, err
	}
	return n, wait(ctx, c)
}

// SetRange overwrites the value of key from offset with value, padding
// with zero bytes when the value is shorter than offset, and returns the
// new length. An absent key is created as a persistent value. The TTL of an
// existing key is kept.
func (s *Store) SetRange(ctx context.Context, key []byte, offset int, value []byte) (int, error) {
	if offset < 0 {
		return 0, domain.ErrInvalidArgument.WithDetails("offset must not be negative")
	}
	if offset > MaxValueSize-len(value) {
		return 0, domain.ErrValueTooLarge.WithDetailsf("offset %d plus %d bytes", offset, len(value))
	}

	var n int
	c, err := s.update(key, func(old domain.StoredValue, exists bool) (domain.StoredValue, error) {
		var cur []byte
		if exists {
			cur = old.Payload().Bytes()
		}
		b := make([]byte, max(len(cur), offset+len(value)))
		copy(b, cur)
		copy(b[offset:], value)
		n = len(b)
		return keepTTL(old, exists, domain.OwnPayload(b)), nil
	})
	if err != nil {
		return 0, err
	}
	return n, wait(ctx, c)
}

// GetRange returns the bytes of key's value between start and end,
// inclusive. Negative offsets count from the end, -1 being the last byte.
// Out-of-range offsets are clamped; an absent key or an empty range yields
// an empty result.
func (s *Store) GetRange(key []byte, start, end int) ([]byte, error) {
	s.gets.Add(1)
	v, err := s.lookup(key)
	if errors.Is(err, domain.ErrNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, err
	}

	b := v.Payload().Bytes()
	lo, hi := rangeBounds(len(b), start, end)
	if lo >= hi {
		return []byte{}, nil
	}
	return bytes.Clone(b[lo:hi]), nil
}

// rangeBounds converts inclusive, possibly negative offsets into a
// half-open range within [0, n].
func rangeBounds(n, start, end int) (int, int) {
	lo := start
	if lo < 0 {
		lo = max(n+start, 0)
	}
	lo = min(lo, n)

	var hi int
	switch {
	case end < 0:
		hi = max(n+end+1, 0)
	case end >= n:
		hi = n
	default:
		hi = end + 1
	}
	return lo, hi
}

func keepTTL(old domain.StoredValue, exists bool, p *domain.Payload) domain.StoredValue {
	if exists {
		return domain.NewStoredValue(p, old.ExpireAt())
	}
	return domain.NewPersistent(p)
}

// update runs fn on the live value of key under the shard lock and stores
// and journals its result as a Set.
func (s *Store) update(key []byte, fn func(old domain.StoredValue, exists bool) (domain.StoredValue, error)) (Commit, error) {
	if len(key) == 0 {
		return nil, domain.ErrInvalidKey
	}

	now := s.now()
	k := bytes.Clone(key)
	_, sh := s.shards.For(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	old, exists := s.live(sh, k, now.UnixNano())
	v, err := fn(old, exists)
	if err != nil {
		return nil, err
	}
	if n := v.Payload().Len(); n > MaxValueSize {
		return nil, domain.ErrValueTooLarge.WithDetailsf("%d bytes", n)
	}
	if err := s.admit(sh.growth(k, v)); err != nil {
		return nil, err
	}

	c, err := s.record(sh, domain.Mutation{Op: domain.OpSet, Key: k, Value: v.Payload(), ExpireAt: v.ExpireAt()}, now)
	if err != nil {
		return nil, err
	}
	sh.put(k, v)
	s.sets.Add(1)
	return c, nil
}

// Delete removes key and reports whether a live value was removed.
func (s *Store) Delete(ctx context.Context, key []byte) (bool, error) {
	c, ok, err := s.delete(key)
	if err != nil || !ok {
		return ok, err
	}
	return true, wait(ctx, c)
}

func (s *Store) delete(key []byte) (Commit, bool, error) {
	if len(key) == 0 {
		return nil, false, domain.ErrInvalidKey
	}

	now := s.now()
	_, sh := s.shards.For(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := s.live(sh, key, now.UnixNano()); !ok {
		return nil, false, nil
	}
	c, err := s.record(sh, domain.Mutation{Op: domain.OpDelete, Key: bytes.Clone(key)}, now)
	if err != nil {
		return nil, false, err
	}
	sh.remove(key)
	s.deletes.Add(1)
	return c, true, nil
}

// MDel deletes keys and returns how many live values were removed.
func (s *Store) MDel(ctx context.Context, keys [][]byte) (int, error) {
	commits := make([]Commit, 0, len(keys))
	removed := 0
	var firstErr error
	for _, k := range keys {
		c, ok, err := s.delete(k)
		if err != nil {
			firstErr = err
			break
		}
		if ok {
			removed++
			commits = append(commits, c)
		}
	}
	for _, c := range commits {
		if err := wait(ctx, c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return removed, firstErr
}

// Expire sets a deadline ttl from now on an existing key. It returns false
// if key is absent. A non-positive ttl deletes the key.
func (s *Store) Expire(ctx context.Context, key []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	return s.setExpiry(ctx, key, domain.Deadline(s.now(), ttl))
}

// Persist removes the deadline of an existing key. It returns false if key
// is absent.
func (s *Store) Persist(ctx context.Context, key []byte) (bool, error) {
	return s.setExpiry(ctx, key, domain.NoExpiry)
}

func (s *Store) setExpiry(ctx context.Context, key []byte, expireAt int64) (bool, error) {
	if len(key) == 0 {
		return false, domain.ErrInvalidKey
	}

	now := s.now()
	k := bytes.Clone(key)
	_, sh := s.shards.For(k)

	sh.mu.Lock()
	old, ok := s.live(sh, k, now.UnixNano())
	if !ok {
		sh.mu.Unlock()
		return false, nil
	}
	c, err := s.record(sh, domain.Mutation{Op: domain.OpExpire, Key: k, ExpireAt: expireAt}, now)
	if err != nil {
		sh.mu.Unlock()
		return false, err
	}
	sh.put(k, domain.NewStoredValue(old.Payload(), expireAt))
	sh.mu.Unlock()

	return true, wait(ctx, c)
}

// FlushDB removes every entry and returns how many were held, counting
// expired entries not yet reaped. Each non-empty shard journals one flush
// record and is cleared under its lock; shards are flushed one after
// another, so a concurrent writer may land in a shard already flushed.
func (s *Store) FlushDB(ctx context.Context) (int, error) {
	if !s.allowFlush {
		return 0, domain.ErrFlushDisabled
	}

	now := s.now()
	removed := 0
	var (
		commits []Commit
		err     error
	)
	for _, sh := range s.shards.All() {
		sh.mu.Lock()
		if sh.tree.Len() == 0 {
			sh.mu.Unlock()
			continue
		}
		var c Commit
		c, err = s.record(sh, domain.Mutation{Op: domain.OpFlush}, now)
		if err != nil {
			sh.mu.Unlock()
			break
		}
		removed += sh.clear()
		sh.mu.Unlock()
		commits = append(commits, c)
	}
	s.deletes.Add(uint64(removed))

	for _, c := range commits {
		if werr := wait(ctx, c); werr != nil && err == nil {
			err = werr
		}
	}
	return removed, err
}

// FlushAll is FlushDB; the store holds a single keyspace.
func (s *Store) FlushAll(ctx context.Context) (int, error) {
	return s.FlushDB(ctx)
}

// Scan iterates over every live entry, shard by shard. Each shard is read
// from the root captured when iteration reaches it, so the view is
// consistent per shard but not across shards. Yielded keys must not be
// modified.
func (s *Store) Scan() iter.Seq2[[]byte, *domain.Payload] {
	return s.ScanPrefix(nil)
}

// ScanPrefix is Scan restricted to keys starting with prefix.
func (s *Store) ScanPrefix(prefix []byte) iter.Seq2[[]byte, *domain.Payload] {
	return func(yield func([]byte, *domain.Payload) bool) {
		for _, sh := range s.shards.All() {
			tree, _ := sh.capture()
			now := s.now().UnixNano()
			stopped := false
			tree.Root().WalkPrefix(prefix, func(k []byte, raw interface{}) bool {
				v := raw.(domain.StoredValue)
				if v.Expired(now) {
					return false
				}
				if !yield(k, v.Payload()) {
					stopped = true
					return true
				}
				return false
			})
			if stopped {
				return
			}
		}
	}
}

// Keys returns the live keys starting with prefix in lexical order, at most
// limit of them (0 for no limit).
//
// Each shard is walked in lexical order and stops after limit keys, and the
// result is cut back to limit after every shard, so at most 2*limit keys
// are held at once.
func (s *Store) Keys(prefix []byte, limit int) [][]byte {
	var keys [][]byte
	for _, sh := range s.shards.All() {
		tree, _ := sh.capture()
		now := s.now().UnixNano()
		n := 0
		tree.Root().WalkPrefix(prefix, func(k []byte, raw interface{}) bool {
			if raw.(domain.StoredValue).Expired(now) {
				return false
			}
			keys = append(keys, k)
			n++
			return limit > 0 && n >= limit
		})
		if limit > 0 && len(keys) > limit {
			slices.SortFunc(keys, bytes.Compare)
			keys = keys[:limit]
		}
	}
	slices.SortFunc(keys, bytes.Compare)
	return keys
}

// Len returns the number of stored entries, including expired entries not
// yet reaped.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards.All() {
		n += sh.len()
	}
	return n
}

// Capture returns the current sequence number of shard i and an iterator
// over its live entries as of that sequence number. The iterator reads an
// immutable root and holds no lock.
func (s *Store) Capture(i int) (uint64, iter.Seq2[[]byte, domain.StoredValue]) {
	tree, seq := s.shards.At(i).capture()
	now := s.now().UnixNano()
	return seq, func(yield func([]byte, domain.StoredValue) bool) {
		tree.Root().Walk(func(k []byte, raw interface{}) bool {
			v := raw.(domain.StoredValue)
			if v.Expired(now) {
				return false
			}
			return !yield(k, v)
		})
	}
}

// Seq returns the last sequence number applied to shard i.
func (s *Store) Seq(i int) uint64 {
	sh := s.shards.At(i)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.seq
}

// ApplyResult describes how Apply handled a replayed mutation.
type ApplyResult int

const (
	// Applied means the mutation changed the shard.
	Applied ApplyResult = iota
	// Skipped means the shard already reflects the mutation.
	Skipped
)

// Apply replays a logged mutation without journaling it. Mutations at or
// below the shard's sequence number are skipped. A Set whose deadline has
// passed removes the key.
func (s *Store) Apply(m domain.Mutation) (ApplyResult, error) {
	if int(m.Shard) >= s.shardCount {
		return Skipped, domain.ErrConfiguration.WithDetailsf(
			"mutation for shard %d, store has %d shards", m.Shard, s.shardCount)
	}
	if m.Op != domain.OpFlush {
		if owner := s.shards.Index(m.Key); owner != int(m.Shard) {
			return Skipped, domain.ErrConfiguration.WithDetailsf(
				"key %q logged under shard %d but routes to shard %d; shard count changed", m.Key, m.Shard, owner)
		}
	}

	sh := s.shards.At(int(m.Shard))
	now := s.now().UnixNano()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if m.Seq <= sh.seq {
		return Skipped, nil
	}

	switch m.Op {
	case domain.OpSet:
		v := domain.NewStoredValue(m.Value, m.ExpireAt)
		if v.Expired(now) {
			sh.remove(m.Key)
		} else {
			sh.put(m.Key, v)
		}
	case domain.OpDelete:
		sh.remove(m.Key)
	case domain.OpFlush:
		sh.clear()
	case domain.OpExpire:
		if old, ok := sh.lookup(m.Key); ok {
			v := domain.NewStoredValue(old.Payload(), m.ExpireAt)
			if v.Expired(now) {
				sh.remove(m.Key)
			} else {
				sh.put(m.Key, v)
			}
		}
	default:
		return Skipped, fmt.Errorf("memory: apply %s: %w", m, errUnknownOp)
	}

	sh.seq = m.Seq
	return Applied, nil
}

var errUnknownOp = errors.New("unknown op")
