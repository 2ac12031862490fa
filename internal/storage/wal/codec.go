package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/shardkv/internal/core/domain"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// appendFrame encodes m as a frame and appends it to dst.
//
// Frame: [length:4][crc32c:4][op:1][body]. Length counts crc, op and body.
// The checksum covers op and body.
func appendFrame(dst []byte, m domain.Mutation) ([]byte, error) {
	if !m.Op.Valid() {
		return nil, ErrInvalidEntryType
	}
	if m.Op.Keyed() && len(m.Key) == 0 {
		return nil, fmt.Errorf("wal: %s: empty key", m)
	}

	start := len(dst)
	dst = append(dst, 0, 0, 0, 0, 0, 0, 0, 0, byte(m.Op))

	dst = protowire.AppendTag(dst, fieldSeq, protowire.VarintType)
	dst = protowire.AppendVarint(dst, m.Seq)
	dst = protowire.AppendTag(dst, fieldShard, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(m.Shard))
	if len(m.Key) > 0 {
		dst = protowire.AppendTag(dst, fieldKey, protowire.BytesType)
		dst = protowire.AppendBytes(dst, m.Key)
	}
	if m.Op == domain.OpSet {
		dst = protowire.AppendTag(dst, fieldValue, protowire.BytesType)
		dst = protowire.AppendBytes(dst, m.Value.Bytes())
	}
	if m.ExpireAt != domain.NoExpiry {
		dst = protowire.AppendTag(dst, fieldExpireAt, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(m.ExpireAt))
	}
	if m.Timestamp != 0 {
		dst = protowire.AppendTag(dst, fieldTimestamp, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(m.Timestamp))
	}

	length := len(dst) - start - 4
	if length > MaxFrameLen {
		return nil, fmt.Errorf("wal: %s: frame of %d bytes exceeds limit", m, length)
	}
	binary.BigEndian.PutUint32(dst[start:], uint32(length))
	binary.BigEndian.PutUint32(dst[start+4:], crc32.Checksum(dst[start+headerSize:], crcTable))
	return dst, nil
}

// decodeFrame decodes a frame without its length prefix:
// [crc32c:4][op:1][body]. Key and Value alias frame.
func decodeFrame(frame []byte) (domain.Mutation, error) {
	var m domain.Mutation
	if len(frame) < minFrameLen {
		return m, ErrCorruptedEntry
	}

	wantCRC := binary.BigEndian.Uint32(frame[:4])
	if crc32.Checksum(frame[4:], crcTable) != wantCRC {
		return m, ErrChecksumMismatch
	}

	m.Op = domain.Op(frame[4])
	if !m.Op.Valid() {
		return m, ErrInvalidEntryType
	}

	var hasValue bool
	b := frame[5:]
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("%w: %v", ErrCorruptedEntry, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("%w: key: %v", ErrCorruptedEntry, protowire.ParseError(n))
			}
			m.Key = v
			b = b[n:]
		case num == fieldValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("%w: value: %v", ErrCorruptedEntry, protowire.ParseError(n))
			}
			m.Value = domain.OwnPayload(v)
			hasValue = true
			b = b[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("%w: field %d: %v", ErrCorruptedEntry, num, protowire.ParseError(n))
			}
			switch num {
			case fieldSeq:
				m.Seq = v
			case fieldShard:
				m.Shard = uint32(v)
			case fieldExpireAt:
				m.ExpireAt = int64(v)
			case fieldTimestamp:
				m.Timestamp = int64(v)
			}
			b = b[n:]
		default:
			// Unknown fields are skipped for forward compatibility.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("%w: field %d: %v", ErrCorruptedEntry, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if m.Op.Keyed() && len(m.Key) == 0 {
		return m, fmt.Errorf("%w: missing key", ErrCorruptedEntry)
	}
	if m.Op == domain.OpSet && !hasValue {
		m.Value = domain.OwnPayload([]byte{})
	}
	return m, nil
}
