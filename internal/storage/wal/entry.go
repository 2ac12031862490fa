package wal

import (
	"errors"
)

// Frame layout constants.
const (
	// headerSize is the size of the frame header: length (4) + crc (4).
	headerSize = 8

	// minFrameLen is the smallest valid length field: crc (4) + op (1).
	minFrameLen = 5

	// MaxFrameLen bounds the length field; larger values are treated as
	// corruption.
	MaxFrameLen = 256 << 20
)

// Errors for WAL operations.
var (
	ErrCorruptedEntry   = errors.New("wal: corrupted entry")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrInvalidEntryType = errors.New("wal: invalid entry type")
	ErrTornWrite        = errors.New("wal: torn write")
)

// Body field numbers (protobuf wire format).
const (
	fieldSeq       = 1
	fieldShard     = 2
	fieldKey       = 3
	fieldValue     = 4
	fieldExpireAt  = 5
	fieldTimestamp = 6
)

// Position identifies a byte offset within a segment.
type Position struct {
	Segment uint64 `json:"segment"`
	Offset  int64  `json:"offset"`
}

// Truncation describes a discarded tail of the last segment.
type Truncation struct {
	Position
	Discarded int64  `json:"discarded"`
	Reason    string `json:"reason"`
}
