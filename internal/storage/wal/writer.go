package wal

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/shardkv/internal/core/domain"
)

var (
	errInvalidMagic    = errors.New("wal: invalid magic bytes")
	errChecksumInvalid = errors.New("wal: checksum mismatch")
)

// File format constants.
const (
	FilePrefix      = "wal-"
	FileExtension   = ".log"
	MagicBytes      = "SKVWAL\x00\x01"
	MagicBytesSize  = 8
	ChecksumSize    = 32
	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750
)

// Default configuration values.
const (
	DefaultBatchWindow        = 10 * time.Millisecond
	DefaultBatchMaxSize       = 1000
	DefaultMaxPending         = 1 << 16
	DefaultMaxFileSize  int64 = 64 << 20 // 64MB
)

// Mode defines when a record counts as durable.
type Mode string

const (
	// ModeSync writes and fsyncs every record before Append returns.
	ModeSync Mode = "sync"
	// ModeAsync queues records and commits them in batches (group commit).
	ModeAsync Mode = "async"
)

// BatchObserver is notified after every durable write attempt.
type BatchObserver interface {
	ObserveBatch(records, bytes int, elapsed time.Duration, err error)
}

// Config configures the WAL writer.
type Config struct {
	Dir  string
	Mode Mode

	// BatchWindow is how long the flusher waits after the first queued
	// record before committing (async mode).
	BatchWindow time.Duration
	// BatchMaxSize commits immediately once this many records are queued
	// (async mode).
	BatchMaxSize int
	// MaxPending bounds the queue; Append blocks while it is full.
	MaxPending int

	MaxFileSize int64

	Logger   *slog.Logger
	Observer BatchObserver

	// WrapFile, if set, wraps every segment file the writer opens. It is
	// used to inject I/O faults.
	WrapFile func(SegmentFile) SegmentFile
}

// DefaultConfig returns the default WAL configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:          dir,
		Mode:         ModeAsync,
		BatchWindow:  DefaultBatchWindow,
		BatchMaxSize: DefaultBatchMaxSize,
		MaxPending:   DefaultMaxPending,
		MaxFileSize:  DefaultMaxFileSize,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeAsync
	}
	if cfg.BatchWindow < 0 {
		cfg.BatchWindow = 0
	}
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = DefaultBatchMaxSize
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.MaxPending < cfg.BatchMaxSize {
		cfg.MaxPending = cfg.BatchMaxSize
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// SegmentFile is the subset of *os.File the writer uses.
type SegmentFile interface {
	io.Writer
	io.Seeker
	Sync() error
	Truncate(size int64) error
	Close() error
}

type pendingRecord struct {
	frame  []byte
	ticket *Ticket
}

// Writer appends mutations to WAL segment files.
//
// In async mode a single flusher goroutine owns the segment file; producers
// only touch the pending queue. In sync mode Append performs the write
// itself under mu.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	notFull  *sync.Cond
	pending  []pendingRecord
	inflight []pendingRecord
	closed   bool
	failed   error

	wake     chan struct{}
	full     chan struct{}
	control  chan controlRequest
	stopCh   chan struct{}
	doneCh   chan struct{}
	closeErr error

	// segment state; owned by the flusher (async) or guarded by mu (sync)
	segmentID uint64
	file      SegmentFile
	filePath  string
	fileSize  int64 // bytes written excluding trailing checksum
	hash      hash.Hash
	buf       []byte

	activeSegment atomic.Uint64
	appended      atomic.Uint64
	batches       atomic.Uint64
}

type controlKind int

const (
	controlRotate controlKind = iota
	controlReset
)

type controlRequest struct {
	kind  controlKind
	reply chan controlReply
}

type controlReply struct {
	segment uint64
	err     error
}

// NewWriter opens the WAL directory and prepares the active segment. An
// unfinalized last segment is reopened for appending after its torn tail,
// if any, is truncated.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, domain.ErrConfiguration.WithDetails("wal: dir is required")
	}
	if cfg.Mode != "" && cfg.Mode != ModeSync && cfg.Mode != ModeAsync {
		return nil, domain.ErrConfiguration.WithDetailsf("wal: unknown mode %q", cfg.Mode)
	}
	if err := os.MkdirAll(cfg.Dir, DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	applyDefaults(&cfg)

	w := &Writer{
		cfg:     cfg,
		logger:  cfg.Logger,
		hash:    sha256.New(),
		wake:    make(chan struct{}, 1),
		full:    make(chan struct{}, 1),
		control: make(chan controlRequest),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	w.notFull = sync.NewCond(&w.mu)

	latestID, latestPath, isClosed, err := findLatestSegment(cfg.Dir)
	if err != nil {
		return nil, err
	}

	if latestID == 0 || isClosed {
		w.segmentID = latestID + 1
		if err := w.openNewSegment(); err != nil {
			return nil, err
		}
	} else {
		w.segmentID = latestID
		w.filePath = latestPath
		if err := w.openExistingOpenSegment(); err != nil {
			return nil, err
		}
	}
	w.activeSegment.Store(w.segmentID)

	if w.cfg.Mode == ModeAsync {
		go w.flushLoop()
	} else {
		close(w.doneCh)
	}

	return w, nil
}

// Mode returns the configured durability mode.
func (w *Writer) Mode() Mode {
	return w.cfg.Mode
}

// Dir returns the WAL directory.
func (w *Writer) Dir() string {
	return w.cfg.Dir
}

// ActiveSegment returns the ID of the segment currently appended to.
func (w *Writer) ActiveSegment() uint64 {
	return w.activeSegment.Load()
}

// Err returns the write failure that put the writer into read-only state,
// or nil.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

// Stats reports writer counters.
type Stats struct {
	Appended      uint64 `json:"appended"`
	Batches       uint64 `json:"batches"`
	Pending       int    `json:"pending"`
	ActiveSegment uint64 `json:"active_segment"`
	Failed        bool   `json:"failed"`
}

// Stats returns writer counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	pending, failed := len(w.pending), w.failed != nil
	w.mu.Unlock()
	return Stats{
		Appended:      w.appended.Load(),
		Batches:       w.batches.Load(),
		Pending:       pending,
		ActiveSegment: w.activeSegment.Load(),
		Failed:        failed,
	}
}

// Append submits m and returns a ticket that resolves once m is durable.
//
// Calls made while holding a shard lock arrive in that shard's sequence
// order and are written in that order. In async mode Append blocks while
// the pending queue is full. In sync mode the returned ticket is already
// resolved.
//
// After a failed write Append returns domain.ErrReadOnly until Reset.
func (w *Writer) Append(m domain.Mutation) (*Ticket, error) {
	frame, err := appendFrame(nil, m)
	if err != nil {
		return nil, err
	}

	if w.cfg.Mode == ModeSync {
		return w.appendSync(frame)
	}

	w.mu.Lock()
	for len(w.pending) >= w.cfg.MaxPending && !w.closed && w.failed == nil {
		w.notFull.Wait()
	}
	if w.closed {
		w.mu.Unlock()
		return nil, domain.ErrClosed
	}
	if w.failed != nil {
		w.mu.Unlock()
		return nil, domain.ErrReadOnly.WithCause(w.failed)
	}

	t := newTicket()
	w.pending = append(w.pending, pendingRecord{frame: frame, ticket: t})
	n := len(w.pending)
	w.mu.Unlock()

	w.appended.Add(1)
	if n == 1 {
		signal(w.wake)
	}
	if n >= w.cfg.BatchMaxSize {
		signal(w.full)
	}
	return t, nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (w *Writer) appendSync(frame []byte) (*Ticket, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, domain.ErrClosed
	}
	if w.failed != nil {
		return nil, domain.ErrReadOnly.WithCause(w.failed)
	}

	if err := w.commitBatch([]pendingRecord{{frame: frame}}); err != nil {
		w.failed = err
		w.logger.Error("wal write failed, writer is read-only",
			"segment", w.segmentID,
			"error", err,
		)
		return nil, domain.ErrWALWrite.WithCause(err)
	}
	w.appended.Add(1)
	return committedTicket, nil
}

// flushLoop commits pending records. A batch is committed BatchWindow after
// its first record arrives, or as soon as BatchMaxSize records are queued.
func (w *Writer) flushLoop() {
	defer close(w.doneCh)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		select {
		case <-w.wake:
		case <-w.full:
		case req := <-w.control:
			w.handleControl(req)
			continue
		case <-w.stopCh:
			w.drain()
			return
		}

		if w.cfg.BatchWindow > 0 && w.pendingLen() < w.cfg.BatchMaxSize {
			timer.Reset(w.cfg.BatchWindow)
			select {
			case <-timer.C:
			case <-w.full:
			case <-w.stopCh:
			}
			timer.Stop()
		}

		w.flushPending()
	}
}

func (w *Writer) pendingLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// flushPending commits everything queued as one batch: one write, one
// fsync. Either every ticket in the batch succeeds or every ticket fails.
func (w *Writer) flushPending() {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.inflight = batch
	w.notFull.Broadcast()
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	err := w.commitBatch(batch)

	w.mu.Lock()
	w.inflight = nil
	var orphaned []pendingRecord
	if err != nil {
		if w.failed == nil {
			w.failed = err
		}
		// Records queued behind a failed batch would leave sequence gaps.
		orphaned = w.pending
		w.pending = nil
		w.notFull.Broadcast()
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("wal batch commit failed, writer is read-only",
			"segment", w.segmentID,
			"records", len(batch),
			"orphaned", len(orphaned),
			"error", err,
		)
		failure := domain.ErrWALWrite.WithCause(err)
		for _, rec := range batch {
			rec.ticket.resolve(failure)
		}
		for _, rec := range orphaned {
			rec.ticket.resolve(failure)
		}
		return
	}

	for _, rec := range batch {
		rec.ticket.resolve(nil)
	}
}

// commitBatch writes frames to the active segment and fsyncs. On failure
// the segment is truncated back to its size before the batch.
func (w *Writer) commitBatch(batch []pendingRecord) error {
	if w.file == nil {
		return fmt.Errorf("wal: file not open")
	}

	w.buf = w.buf[:0]
	for _, rec := range batch {
		w.buf = append(w.buf, rec.frame...)
	}

	// Rotate before writing if this batch would exceed the segment limit.
	if w.fileSize > MagicBytesSize && w.fileSize+int64(len(w.buf)) > w.cfg.MaxFileSize {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	start := time.Now()
	before := w.fileSize
	_, err := w.file.Write(w.buf)
	if err == nil {
		err = w.file.Sync()
	}
	if err != nil {
		if terr := w.rollback(before); terr != nil {
			err = errors.Join(err, terr)
		}
	} else {
		w.hash.Write(w.buf)
		w.fileSize += int64(len(w.buf))
		w.batches.Add(1)
	}

	if w.cfg.Observer != nil {
		w.cfg.Observer.ObserveBatch(len(batch), len(w.buf), time.Since(start), err)
	}
	if cap(w.buf) > 4<<20 {
		w.buf = nil
	}
	return err
}

func (w *Writer) rollback(size int64) error {
	if err := w.file.Truncate(size); err != nil {
		return fmt.Errorf("wal: truncate after failed write: %w", err)
	}
	if _, err := w.file.Seek(size, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek after failed write: %w", err)
	}
	return nil
}

// Rotate finalizes the active segment and starts a new one. Every record
// appended before Rotate was called lands in a segment with an ID lower
// than the returned one.
func (w *Writer) Rotate() (uint64, error) {
	return w.doControl(controlRotate)
}

// Reset leaves the read-only state after a failed write. The active
// segment is truncated to its last committed record and finalized, and a
// fresh segment is started. Reset fails, and the writer stays read-only,
// while the underlying storage keeps failing.
func (w *Writer) Reset() (uint64, error) {
	return w.doControl(controlReset)
}

func (w *Writer) doControl(kind controlKind) (uint64, error) {
	if w.cfg.Mode == ModeSync {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed {
			return 0, domain.ErrClosed
		}
		r := w.applyControl(kind)
		return r.segment, r.err
	}

	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return 0, domain.ErrClosed
	}

	req := controlRequest{kind: kind, reply: make(chan controlReply, 1)}
	select {
	case w.control <- req:
	case <-w.doneCh:
		return 0, domain.ErrClosed
	}
	r := <-req.reply
	return r.segment, r.err
}

func (w *Writer) handleControl(req controlRequest) {
	if req.kind == controlRotate {
		w.flushPending()
	}
	req.reply <- w.applyControl(req.kind)
}

func (w *Writer) applyControl(kind controlKind) controlReply {
	switch kind {
	case controlRotate:
		w.mu.Lock()
		failed := w.failed
		w.mu.Unlock()
		if failed != nil {
			return controlReply{err: domain.ErrReadOnly.WithCause(failed)}
		}
		if err := w.rotateLocked(); err != nil {
			return controlReply{err: err}
		}
	case controlReset:
		// Cut the damaged segment back to its last committed byte and
		// finalize it, so that no segment but the last can have a torn tail.
		if w.file != nil {
			if err := w.rollback(w.fileSize); err != nil {
				return controlReply{err: err}
			}
			if err := w.rotateLocked(); err != nil {
				return controlReply{err: err}
			}
		} else {
			w.segmentID++
			if err := w.openNewSegment(); err != nil {
				return controlReply{err: err}
			}
		}
		w.mu.Lock()
		w.failed = nil
		w.mu.Unlock()
		w.logger.Info("wal writer reset",
			"segment", w.segmentID,
		)
	}
	w.activeSegment.Store(w.segmentID)
	return controlReply{segment: w.segmentID}
}

func (w *Writer) rotateLocked() error {
	if err := w.finalizeSegment(); err != nil {
		return err
	}
	w.segmentID++
	if err := w.openNewSegment(); err != nil {
		return err
	}
	w.activeSegment.Store(w.segmentID)
	w.logger.Debug("wal segment rotated",
		"segment", w.segmentID,
	)
	return nil
}

// drain commits everything still queued and finalizes the segment. Runs on
// the flusher when the writer closes.
func (w *Writer) drain() {
	for w.pendingLen() > 0 {
		w.flushPending()
	}

	w.mu.Lock()
	failed := w.failed
	w.mu.Unlock()

	if w.file == nil {
		return
	}
	if failed != nil {
		w.closeErr = w.file.Close()
		w.file = nil
		return
	}
	w.closeErr = w.finalizeSegment()
}

// Close stops accepting records, commits everything queued, finalizes the
// active segment and stops the flusher. If ctx ends first, every record
// not yet committed is failed with domain.ErrCancelled; the flusher still
// finishes its current write in the background.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.notFull.Broadcast()
	w.mu.Unlock()

	if w.cfg.Mode == ModeSync {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.file == nil {
			return nil
		}
		if w.failed != nil {
			err := w.file.Close()
			w.file = nil
			return err
		}
		return w.finalizeSegment()
	}

	close(w.stopCh)

	select {
	case <-w.doneCh:
		return w.closeErr
	case <-ctx.Done():
	}

	w.mu.Lock()
	abandoned := append(w.inflight, w.pending...)
	w.pending = nil
	w.mu.Unlock()

	cancelled := domain.ErrCancelled.WithCause(ctx.Err())
	for _, rec := range abandoned {
		rec.ticket.resolve(cancelled)
	}
	w.logger.Warn("wal close interrupted, pending records cancelled",
		"cancelled", len(abandoned),
	)
	return cancelled
}

func (w *Writer) openNewSegment() error {
	path := filepath.Join(w.cfg.Dir, formatSegmentFilename(w.segmentID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}

	w.setFile(f, path)
	w.fileSize = 0
	w.hash = sha256.New()

	if _, err := w.file.Write([]byte(MagicBytes)); err != nil {
		w.file.Close()
		w.file = nil
		return fmt.Errorf("wal: write magic: %w", err)
	}
	w.hash.Write([]byte(MagicBytes))
	w.fileSize = MagicBytesSize

	if err := syncDir(w.cfg.Dir); err != nil {
		w.logger.Warn("wal: sync dir failed", "error", err)
	}
	return nil
}

func (w *Writer) setFile(f *os.File, path string) {
	w.filePath = path
	if w.cfg.WrapFile != nil {
		w.file = w.cfg.WrapFile(f)
		return
	}
	w.file = f
}

// openExistingOpenSegment reopens an unfinalized segment for appending.
// Frames are validated from the start; a torn or corrupt tail is
// truncated and logged.
func (w *Writer) openExistingOpenSegment() error {
	f, err := os.OpenFile(w.filePath, os.O_RDWR, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("wal: open existing segment: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: stat segment: %w", err)
	}

	magic := make([]byte, MagicBytesSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, MagicBytesSize), magic); err != nil || string(magic) != MagicBytes {
		// Crashed before the header was complete; start the segment over.
		f.Close()
		w.logger.Warn("wal segment header damaged, recreating",
			"path", w.filePath,
			"size", stat.Size(),
		)
		return w.openNewSegment()
	}

	validLen, _, scanErr := scanFrames(io.NewSectionReader(f, MagicBytesSize, stat.Size()-MagicBytesSize), nil)
	validLen += MagicBytesSize
	if scanErr != nil {
		w.logger.Warn("wal tail discarded",
			"segment", w.segmentID,
			"offset", validLen,
			"discarded_bytes", stat.Size()-validLen,
			"reason", scanErr.Error(),
		)
		if err := f.Truncate(validLen); err != nil {
			f.Close()
			return fmt.Errorf("wal: truncate torn tail: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("wal: sync after truncate: %w", err)
		}
	}

	w.hash = sha256.New()
	if _, err := io.CopyN(w.hash, io.NewSectionReader(f, 0, validLen), validLen); err != nil {
		f.Close()
		return fmt.Errorf("wal: hash existing segment: %w", err)
	}

	if _, err := f.Seek(validLen, io.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("wal: seek: %w", err)
	}

	w.setFile(f, w.filePath)
	w.fileSize = validLen
	return nil
}

func (w *Writer) finalizeSegment() error {
	if w.file == nil {
		return nil
	}

	checksum := w.hash.Sum(nil)
	if len(checksum) != ChecksumSize {
		return fmt.Errorf("wal: invalid sha256 size: %d", len(checksum))
	}

	if _, err := w.file.Write(checksum); err != nil {
		return fmt.Errorf("wal: write checksum: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func formatSegmentFilename(segmentID uint64) string {
	return fmt.Sprintf("%s%08d%s", FilePrefix, segmentID, FileExtension)
}

func parseSegmentFilename(name string) (uint64, bool) {
	if !stringsHasPrefix(name, FilePrefix) || !stringsHasSuffix(name, FileExtension) {
		return 0, false
	}
	var id uint64
	_, err := fmt.Sscanf(name, FilePrefix+"%d"+FileExtension, &id)
	return id, err == nil
}

type segmentRef struct {
	id   uint64
	path string
}

func listSegments(dir string) ([]segmentRef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: read dir: %w", err)
	}

	var segs []segmentRef
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := parseSegmentFilename(e.Name())
		if !ok {
			continue
		}
		segs = append(segs, segmentRef{id: id, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

func findLatestSegment(dir string) (latestID uint64, latestPath string, isClosed bool, err error) {
	segs, err := listSegments(dir)
	if err != nil || len(segs) == 0 {
		return 0, "", false, err
	}

	last := segs[len(segs)-1]
	f, err := os.Open(last.path)
	if err != nil {
		return 0, "", false, fmt.Errorf("wal: open latest: %w", err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, "", false, fmt.Errorf("wal: stat latest: %w", err)
	}

	closed, _, err := verifyChecksumTrailer(f, stat.Size())
	if err != nil && !errors.Is(err, errInvalidMagic) {
		return 0, "", false, err
	}
	return last.id, last.path, closed, nil
}

func verifyChecksumTrailer(f io.ReaderAt, size int64) (closed bool, dataLen int64, err error) {
	if size < MagicBytesSize {
		return false, size, nil
	}

	magic := make([]byte, MagicBytesSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, MagicBytesSize), magic); err != nil {
		return false, 0, fmt.Errorf("wal: read magic: %w", err)
	}
	if string(magic) != MagicBytes {
		return false, 0, errInvalidMagic
	}

	if size < MagicBytesSize+ChecksumSize {
		return false, size, nil
	}

	trailer := make([]byte, ChecksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, size-ChecksumSize, ChecksumSize), trailer); err != nil {
		return false, 0, fmt.Errorf("wal: read checksum trailer: %w", err)
	}

	h := sha256.New()
	dataLen = size - ChecksumSize
	if _, err := io.Copy(h, bufio.NewReaderSize(io.NewSectionReader(f, 0, dataLen), 64<<10)); err != nil {
		return false, 0, fmt.Errorf("wal: hash: %w", err)
	}
	if !bytes.Equal(h.Sum(nil), trailer) {
		return false, size, nil
	}
	return true, dataLen, nil
}

// Small local helpers to avoid importing strings in hot paths.
func stringsHasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
func stringsHasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
