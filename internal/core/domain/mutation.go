package domain

import "fmt"

// Op is the kind of state change carried by a Mutation.
type Op uint8

const (
	// OpSet stores Value under Key with ExpireAt (NoExpiry for persistent).
	OpSet Op = 1
	// OpDelete removes Key.
	OpDelete Op = 2
	// OpExpire changes the deadline of an existing Key. ExpireAt NoExpiry
	// makes it persistent.
	OpExpire Op = 3
	// OpFlush removes every key of the shard. It carries no Key.
	OpFlush Op = 4
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpSet:
		return "SET"
	case OpDelete:
		return "DELETE"
	case OpExpire:
		return "EXPIRE"
	case OpFlush:
		return "FLUSH"
	default:
		return fmt.Sprintf("OP(%d)", uint8(o))
	}
}

// Valid reports whether o is a known op.
func (o Op) Valid() bool {
	return o >= OpSet && o <= OpFlush
}

// Keyed reports whether mutations of kind o name a key.
func (o Op) Keyed() bool {
	return o != OpFlush
}

// Mutation is one sequenced change to a shard. It is the unit written to
// the WAL and replayed during recovery.
//
// Within a shard, Seq is strictly increasing and gapless for committed
// mutations.
type Mutation struct {
	Seq       uint64
	Shard     uint32
	Op        Op
	Key       []byte   // empty for OpFlush
	Value     *Payload // OpSet only
	ExpireAt  int64    // Unix nanoseconds; OpSet and OpExpire
	Timestamp int64    // Unix milliseconds when produced
}

// String returns a short description without the value bytes.
func (m Mutation) String() string {
	return fmt.Sprintf("shard=%d seq=%d op=%s key=%q", m.Shard, m.Seq, m.Op, m.Key)
}
