package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/yndnr/shardkv/internal/core/domain"
)

// Magic bytes identify snapshot files.
var magicBytes = []byte("SKVSNAP1")

const (
	filePrefix    = "snapshot-"
	fileExtension = ".snap"
	tempExtension = ".tmp"
	checksumSize  = 32
	headerVersion = 1

	// maxHeaderLen and maxFieldLen bound lengths read from disk.
	maxHeaderLen = 1 << 20
	maxFieldLen  = 256 << 20
)

// Entry tags.
const (
	tagEnd        byte = 0
	tagPersistent byte = 1
	tagExpiring   byte = 2
)

var (
	ErrInvalidMagic     = errors.New("snapshot: invalid magic bytes")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	ErrCorrupted        = errors.New("snapshot: corrupted body")
	ErrUnsupported      = errors.New("snapshot: unsupported format")
	ErrNoSnapshots      = errors.New("snapshot: no snapshots available")
)

// Codec selects the body compression.
type Codec string

const (
	CodecNone   Codec = "none"
	CodecZstd   Codec = "zstd"
	CodecSnappy Codec = "snappy"
)

// Valid reports whether c is a known codec.
func (c Codec) Valid() bool {
	switch c {
	case CodecNone, CodecZstd, CodecSnappy:
		return true
	}
	return false
}

// Header is the JSON header stored after the magic bytes.
type Header struct {
	Version    int    `json:"version"`
	CreatedAt  int64  `json:"created_at"`
	ShardCount int    `json:"shard_count"`
	Codec      Codec  `json:"codec"`
	WALSegment uint64 `json:"wal_segment"`

	// Encryption is set when the body is sealed after compression.
	Encryption *EncryptionHeader `json:"encryption,omitempty"`
}

// newBodyWriter wraps w with the codec's compressor. Close flushes the
// compressor without closing w.
func newBodyWriter(codec Codec, w io.Writer) (io.WriteCloser, error) {
	switch codec {
	case CodecNone, "":
		return nopWriteCloser{w}, nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w,
			zstd.WithEncoderConcurrency(1),
			zstd.WithWindowSize(1<<20),
		)
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd encoder: %w", err)
		}
		return enc, nil
	case CodecSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: codec %q", ErrUnsupported, codec)
	}
}

// newBodyReader wraps r with the codec's decompressor.
func newBodyReader(codec Codec, r io.Reader) (io.Reader, func(), error) {
	switch codec {
	case CodecNone, "":
		return r, func() {}, nil
	case CodecZstd:
		dec, err := zstd.NewReader(r,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(maxFieldLen*2),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot: zstd decoder: %w", err)
		}
		return dec, dec.Close, nil
	case CodecSnappy:
		return snappy.NewReader(r), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: codec %q", ErrUnsupported, codec)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// sectionEncoder writes shard sections to a buffered body.
//
//	[shard uvarint][boundary uvarint]
//	([tag u8][key len uvarint][key][value len uvarint][value][expire_at varint if tag 2])*
//	[tag 0]
type sectionEncoder struct {
	w       *bufio.Writer
	scratch [binary.MaxVarintLen64]byte
}

func (e *sectionEncoder) uvarint(v uint64) error {
	n := binary.PutUvarint(e.scratch[:], v)
	_, err := e.w.Write(e.scratch[:n])
	return err
}

func (e *sectionEncoder) varint(v int64) error {
	n := binary.PutVarint(e.scratch[:], v)
	_, err := e.w.Write(e.scratch[:n])
	return err
}

func (e *sectionEncoder) bytes(b []byte) error {
	if err := e.uvarint(uint64(len(b))); err != nil {
		return err
	}
	_, err := e.w.Write(b)
	return err
}

func (e *sectionEncoder) begin(shard int, boundary uint64) error {
	if err := e.uvarint(uint64(shard)); err != nil {
		return err
	}
	return e.uvarint(boundary)
}

func (e *sectionEncoder) entry(key []byte, v domain.StoredValue) error {
	tag := tagPersistent
	if domain.IsExpiring(v) {
		tag = tagExpiring
	}
	if err := e.w.WriteByte(tag); err != nil {
		return err
	}
	if err := e.bytes(key); err != nil {
		return err
	}
	if err := e.bytes(v.Payload().Bytes()); err != nil {
		return err
	}
	if tag == tagExpiring {
		return e.varint(v.ExpireAt())
	}
	return nil
}

func (e *sectionEncoder) end() error {
	return e.w.WriteByte(tagEnd)
}

// sectionDecoder reads shard sections from a decompressed body.
type sectionDecoder struct {
	r *bufio.Reader
}

func (d *sectionDecoder) begin() (int, uint64, error) {
	shard, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, 0, corrupt("section shard", err)
	}
	boundary, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, 0, corrupt("section boundary", err)
	}
	return int(shard), boundary, nil
}

// next returns the next entry of the current section, or ok=false at its
// end marker.
func (d *sectionDecoder) next() (key []byte, v domain.StoredValue, ok bool, err error) {
	tag, err := d.r.ReadByte()
	if err != nil {
		return nil, nil, false, corrupt("entry tag", err)
	}
	switch tag {
	case tagEnd:
		return nil, nil, false, nil
	case tagPersistent, tagExpiring:
	default:
		return nil, nil, false, fmt.Errorf("%w: unknown entry tag %d", ErrCorrupted, tag)
	}

	key, err = d.field("key")
	if err != nil {
		return nil, nil, false, err
	}
	value, err := d.field("value")
	if err != nil {
		return nil, nil, false, err
	}

	p := domain.OwnPayload(value)
	if tag == tagPersistent {
		return key, domain.NewPersistent(p), true, nil
	}
	expireAt, err := binary.ReadVarint(d.r)
	if err != nil {
		return nil, nil, false, corrupt("expire_at", err)
	}
	return key, domain.NewExpiring(p, expireAt), true, nil
}

func (d *sectionDecoder) field(name string) ([]byte, error) {
	n, err := binary.ReadUvarint(d.r)
	if err != nil {
		return nil, corrupt(name+" length", err)
	}
	if n > maxFieldLen {
		return nil, fmt.Errorf("%w: %s length %d", ErrCorrupted, name, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return nil, corrupt(name, err)
	}
	return b, nil
}

func corrupt(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCorrupted, what, err)
}
