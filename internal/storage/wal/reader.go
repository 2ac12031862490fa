package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/yndnr/shardkv/internal/core/domain"
)

// frameError marks a scan that stopped on a damaged frame rather than on
// a callback error.
type frameError struct {
	err error
}

func (e *frameError) Error() string { return e.err.Error() }
func (e *frameError) Unwrap() error { return e.err }

// readFrame reads one frame. It returns io.EOF only at a clean frame
// boundary.
func readFrame(br *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	n, err := io.ReadFull(br, lenBuf[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, io.EOF
		}
		return nil, ErrTornWrite
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < minFrameLen || length > MaxFrameLen {
		return nil, fmt.Errorf("%w: length %d", ErrCorruptedEntry, length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(br, frame); err != nil {
		return nil, ErrTornWrite
	}
	return frame, nil
}

// scanFrames decodes frames from r until a clean end. It returns the byte
// length of the valid prefix and the number of frames in it. A damaged
// frame stops the scan with a *frameError; an error from fn stops it with
// that error.
func scanFrames(r io.Reader, fn func(m domain.Mutation, offset int64) error) (int64, int, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	var valid int64
	count := 0
	for {
		frame, err := readFrame(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return valid, count, nil
			}
			return valid, count, &frameError{err: err}
		}
		m, err := decodeFrame(frame)
		if err != nil {
			return valid, count, &frameError{err: err}
		}
		if fn != nil {
			if err := fn(m, valid); err != nil {
				return valid, count, err
			}
		}
		valid += int64(4 + len(frame))
		count++
	}
}

// Reader reads WAL mutations across all segments in order.
//
// A damaged or torn tail in the last segment is the expected result of a
// crash mid-write: it is discarded, logged and reported by Truncation. The
// same damage in any earlier segment returns domain.ErrCorruptWALRecord.
type Reader struct {
	dir    string
	logger *slog.Logger

	segments []segmentRef
	segIndex int

	file    *os.File
	reader  *bufio.Reader
	segment uint64
	offset  int64
	limit   int64
	last    bool

	truncation *Truncation
	done       bool
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithReaderLogger sets the logger used to report discarded tails.
func WithReaderLogger(logger *slog.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithStartSegment skips segments with IDs below id.
func WithStartSegment(id uint64) ReaderOption {
	return func(r *Reader) {
		i := 0
		for i < len(r.segments) && r.segments[i].id < id {
			i++
		}
		r.segIndex = i
	}
}

// NewReader creates a new WAL reader for a directory. A missing directory
// reads as empty.
func NewReader(dir string, opts ...ReaderOption) (*Reader, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		dir:      dir,
		logger:   slog.Default(),
		segments: segs,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Read returns the next mutation, or io.EOF after the last valid record.
// Key and Value of the result are owned by the caller.
func (r *Reader) Read() (domain.Mutation, error) {
	for {
		if r.done {
			return domain.Mutation{}, io.EOF
		}
		if r.reader == nil {
			if err := r.openNextSegment(); err != nil {
				if errors.Is(err, io.EOF) {
					r.done = true
				}
				return domain.Mutation{}, err
			}
			continue
		}

		frame, err := readFrame(r.reader)
		if err == nil {
			var m domain.Mutation
			m, err = decodeFrame(frame)
			if err == nil {
				r.offset += int64(4 + len(frame))
				return m, nil
			}
		}
		if errors.Is(err, io.EOF) {
			r.closeCurrent()
			continue
		}
		if derr := r.damaged(err); derr != nil {
			return domain.Mutation{}, derr
		}
	}
}

// damaged handles a bad frame at the current position.
func (r *Reader) damaged(cause error) error {
	pos := Position{Segment: r.segment, Offset: r.offset}
	if !r.last {
		r.closeCurrent()
		return domain.ErrCorruptWALRecord.
			WithDetailsf("segment %d offset %d", pos.Segment, pos.Offset).
			WithCause(cause)
	}

	r.truncation = &Truncation{
		Position:  pos,
		Discarded: r.limit - r.offset,
		Reason:    cause.Error(),
	}
	r.logger.Warn("wal tail record discarded",
		"segment", pos.Segment,
		"offset", pos.Offset,
		"discarded_bytes", r.truncation.Discarded,
		"reason", cause.Error(),
	)
	r.closeCurrent()
	r.done = true
	return nil
}

// ReadAll reads all remaining mutations.
func (r *Reader) ReadAll() ([]domain.Mutation, error) {
	var out []domain.Mutation
	for {
		m, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, m)
	}
}

// Position returns where the next record starts.
func (r *Reader) Position() Position {
	return Position{Segment: r.segment, Offset: r.offset}
}

// Truncation reports the discarded tail of the last segment, or nil.
func (r *Reader) Truncation() *Truncation {
	return r.truncation
}

// Close closes any open segment file.
func (r *Reader) Close() error {
	return r.closeCurrent()
}

func (r *Reader) openNextSegment() error {
	r.closeCurrent()

	if r.segIndex >= len(r.segments) {
		return io.EOF
	}

	seg := r.segments[r.segIndex]
	r.segIndex++
	r.segment = seg.id
	r.offset = 0
	r.last = r.segIndex == len(r.segments)

	f, err := os.Open(seg.path)
	if err != nil {
		return fmt.Errorf("wal: open segment %d: %w", seg.id, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: stat segment %d: %w", seg.id, err)
	}

	r.file = f
	r.limit = stat.Size()

	closed, dataLen, err := verifyChecksumTrailer(f, stat.Size())
	if err != nil || stat.Size() < MagicBytesSize {
		if err == nil {
			err = ErrTornWrite
		}
		return r.damaged(fmt.Errorf("header: %w", err))
	}
	if closed {
		r.limit = dataLen
	}

	r.offset = MagicBytesSize
	r.reader = bufio.NewReaderSize(io.NewSectionReader(f, MagicBytesSize, r.limit-MagicBytesSize), 64<<10)
	return nil
}

func (r *Reader) closeCurrent() error {
	r.reader = nil
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// SegmentInfo describes one segment file.
type SegmentInfo struct {
	ID        uint64 `json:"id"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Finalized bool   `json:"finalized"`
	Records   int    `json:"records"`
	ValidLen  int64  `json:"valid_len"`
	Damage    string `json:"damage,omitempty"`
}

// Inspect scans every segment in dir without modifying anything.
func Inspect(dir string) ([]SegmentInfo, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	out := make([]SegmentInfo, 0, len(segs))
	for _, seg := range segs {
		info, err := inspectSegment(seg)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func inspectSegment(seg segmentRef) (SegmentInfo, error) {
	info := SegmentInfo{ID: seg.id, Path: seg.path}

	f, err := os.Open(seg.path)
	if err != nil {
		return info, fmt.Errorf("wal: open segment %d: %w", seg.id, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return info, fmt.Errorf("wal: stat segment %d: %w", seg.id, err)
	}
	info.Size = stat.Size()

	closed, dataLen, err := verifyChecksumTrailer(f, stat.Size())
	if err != nil || stat.Size() < MagicBytesSize {
		info.Damage = "invalid header"
		return info, nil
	}
	info.Finalized = closed

	limit := stat.Size()
	if closed {
		limit = dataLen
	}
	valid, count, scanErr := scanFrames(io.NewSectionReader(f, MagicBytesSize, limit-MagicBytesSize), nil)
	info.Records = count
	info.ValidLen = MagicBytesSize + valid
	if scanErr != nil {
		info.Damage = fmt.Sprintf("offset %d: %v", info.ValidLen, scanErr)
	}
	return info, nil
}
