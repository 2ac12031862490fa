package domain

import (
	"math"
	"time"
)

// NoExpiry is the expire-at value of a persistent entry, and the TTL
// reported for keys without expiry.
const NoExpiry int64 = 0

// Payload is an immutable byte buffer shared by reference between the store,
// in-flight snapshots and readers. Nothing may modify the bytes after
// construction.
type Payload struct {
	b []byte
}

// NewPayload copies b into a new Payload.
func NewPayload(b []byte) *Payload {
	c := make([]byte, len(b))
	copy(c, b)
	return &Payload{b: c}
}

// OwnPayload wraps b without copying. The caller gives up the right to
// modify b.
func OwnPayload(b []byte) *Payload {
	return &Payload{b: b}
}

// Bytes returns the shared underlying bytes. The result must be treated as
// read-only.
func (p *Payload) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.b
}

// Len returns the payload length in bytes.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.b)
}

// String returns the payload as a string (copying).
func (p *Payload) String() string {
	if p == nil {
		return ""
	}
	return string(p.b)
}

// StoredValue is the value held for a key: either Persistent or Expiring.
//
// Persistent is a single-pointer struct so that storing it behind the
// interface costs nothing beyond the payload itself. Only Expiring carries
// a deadline.
type StoredValue interface {
	// Payload returns the shared payload.
	Payload() *Payload
	// ExpireAt returns the deadline in Unix nanoseconds, or NoExpiry.
	ExpireAt() int64
	// Expired reports whether the value is dead at now (Unix nanoseconds).
	Expired(now int64) bool

	storedValue()
}

// Persistent is a value without expiry.
type Persistent struct {
	p *Payload
}

// Expiring is a value that becomes absent once now >= its deadline.
type Expiring struct {
	p        *Payload
	expireAt int64
}

// NewPersistent returns a persistent value.
func NewPersistent(p *Payload) Persistent {
	return Persistent{p: p}
}

// NewExpiring returns a value that expires at expireAt (Unix nanoseconds).
func NewExpiring(p *Payload, expireAt int64) Expiring {
	return Expiring{p: p, expireAt: expireAt}
}

// NewStoredValue returns Persistent when expireAt is NoExpiry and Expiring
// otherwise.
func NewStoredValue(p *Payload, expireAt int64) StoredValue {
	if expireAt == NoExpiry {
		return Persistent{p: p}
	}
	return Expiring{p: p, expireAt: expireAt}
}

// Payload implements StoredValue.
func (v Persistent) Payload() *Payload { return v.p }

// ExpireAt implements StoredValue.
func (v Persistent) ExpireAt() int64 { return NoExpiry }

// Expired implements StoredValue. Persistent values never expire.
func (v Persistent) Expired(int64) bool { return false }

func (Persistent) storedValue() {}

// Payload implements StoredValue.
func (v Expiring) Payload() *Payload { return v.p }

// ExpireAt implements StoredValue.
func (v Expiring) ExpireAt() int64 { return v.expireAt }

// Expired implements StoredValue.
func (v Expiring) Expired(now int64) bool { return now >= v.expireAt }

func (Expiring) storedValue() {}

// Remaining returns the time left before expiry at now, clamped at zero.
func (v Expiring) Remaining(now int64) time.Duration {
	if now >= v.expireAt {
		return 0
	}
	return time.Duration(v.expireAt - now)
}

// IsExpiring reports whether v carries a deadline.
func IsExpiring(v StoredValue) bool {
	_, ok := v.(Expiring)
	return ok
}

// Deadline converts a TTL relative to now into an absolute expire-at. A
// non-positive TTL yields NoExpiry. Deadlines past the int64 range are
// clamped to math.MaxInt64.
func Deadline(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return NoExpiry
	}
	n := now.UnixNano()
	if n > 0 && int64(ttl) > math.MaxInt64-n {
		return math.MaxInt64
	}
	return n + int64(ttl)
}
