package snapshot

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Encryption errors.
var (
	ErrKeyTooShort      = errors.New("snapshot: encryption key too short (minimum 16 bytes)")
	ErrKeyRequired      = errors.New("snapshot: snapshot is encrypted and no key was given")
	ErrDecryptionFailed = errors.New("snapshot: decryption failed - wrong key or corrupted data")
)

const (
	// MinKeyLength is the minimum master key length.
	MinKeyLength = 16

	// AlgorithmChaCha20Poly1305 is the only body cipher.
	AlgorithmChaCha20Poly1305 = "chacha20-poly1305"

	saltLength       = 32
	defaultChunkSize = 64 << 10
	maxChunkSize     = 16 << 20
	subkeyInfo       = "shardkv snapshot body v1"
)

// EncryptionHeader records how the body was sealed. The body is a run of
// [len u32][sealed chunk] frames; the last chunk is authenticated as final.
type EncryptionHeader struct {
	Algorithm string `json:"algorithm"`
	Salt      []byte `json:"salt"`
	ChunkSize int    `json:"chunk_size"`
}

// LoadKeyFile reads a master key from path. Surrounding whitespace is
// ignored so keys can be kept as text.
func LoadKeyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read key file: %w", err)
	}
	key := bytes.TrimSpace(raw)
	if len(key) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	return key, nil
}

// deriveFileKey derives the per-file body key from the master key and the
// file's salt using HKDF-SHA256.
func deriveFileKey(master, salt []byte) ([]byte, error) {
	if len(master) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, []byte(subkeyInfo)), key); err != nil {
		return nil, fmt.Errorf("snapshot: derive key: %w", err)
	}
	return key, nil
}

// newEncryptionHeader picks a fresh salt for one file.
func newEncryptionHeader() (*EncryptionHeader, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("snapshot: generate salt: %w", err)
	}
	return &EncryptionHeader{
		Algorithm: AlgorithmChaCha20Poly1305,
		Salt:      salt,
		ChunkSize: defaultChunkSize,
	}, nil
}

func newAEAD(master []byte, eh *EncryptionHeader) (cipher.AEAD, error) {
	if eh.Algorithm != AlgorithmChaCha20Poly1305 {
		return nil, fmt.Errorf("%w: cipher %q", ErrUnsupported, eh.Algorithm)
	}
	if eh.ChunkSize <= 0 || eh.ChunkSize > maxChunkSize {
		return nil, fmt.Errorf("%w: chunk size %d", ErrCorrupted, eh.ChunkSize)
	}
	key, err := deriveFileKey(master, eh.Salt)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

var (
	adMore  = []byte{0}
	adFinal = []byte{1}
)

func chunkNonce(nonce []byte, counter uint64) {
	clear(nonce)
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], counter)
}

// sealWriter encrypts a stream in fixed-size chunks. Close seals the final
// chunk, which may be empty, and does not close the underlying writer.
type sealWriter struct {
	aead    cipher.AEAD
	w       io.Writer
	buf     []byte
	out     []byte
	nonce   []byte
	counter uint64
	closed  bool
}

func newSealWriter(master []byte, eh *EncryptionHeader, w io.Writer) (*sealWriter, error) {
	aead, err := newAEAD(master, eh)
	if err != nil {
		return nil, err
	}
	return &sealWriter{
		aead:  aead,
		w:     w,
		buf:   make([]byte, 0, eh.ChunkSize),
		nonce: make([]byte, aead.NonceSize()),
	}, nil
}

func (s *sealWriter) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("snapshot: write after close")
	}
	written := 0
	for len(p) > 0 {
		// A full buffer is only sealed once more data arrives, so the
		// final chunk is known at Close.
		if len(s.buf) == cap(s.buf) {
			if err := s.seal(adMore); err != nil {
				return written, err
			}
		}
		n := min(len(p), cap(s.buf)-len(s.buf))
		s.buf = append(s.buf, p[:n]...)
		written += n
		p = p[n:]
	}
	return written, nil
}

func (s *sealWriter) seal(ad []byte) error {
	chunkNonce(s.nonce, s.counter)
	s.counter++
	s.out = s.aead.Seal(s.out[:0], s.nonce, s.buf, ad)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s.out)))
	if _, err := s.w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := s.w.Write(s.out); err != nil {
		return err
	}
	s.buf = s.buf[:0]
	return nil
}

func (s *sealWriter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.seal(adFinal)
}

// openReader decrypts a stream written by sealWriter. A stream that ends
// before its final chunk, or continues after it, is rejected.
type openReader struct {
	aead     cipher.AEAD
	r        io.Reader
	maxFrame int
	frame    []byte
	plain    []byte
	off      int
	nonce    []byte
	counter  uint64
	final    bool
	err      error
}

func newOpenReader(master []byte, eh *EncryptionHeader, r io.Reader) (*openReader, error) {
	aead, err := newAEAD(master, eh)
	if err != nil {
		return nil, err
	}
	o := &openReader{
		aead:     aead,
		r:        r,
		maxFrame: eh.ChunkSize + aead.Overhead(),
		nonce:    make([]byte, aead.NonceSize()),
	}
	// Every stream has at least one chunk; opening it up front reports a
	// wrong key before anything is decoded.
	if err := o.next(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *openReader) Read(p []byte) (int, error) {
	if o.err != nil {
		return 0, o.err
	}
	for o.off == len(o.plain) {
		if o.final {
			o.err = o.checkTrailing()
			return 0, o.err
		}
		if err := o.next(); err != nil {
			o.err = err
			return 0, err
		}
	}
	n := copy(p, o.plain[o.off:])
	o.off += n
	return n, nil
}

func (o *openReader) next() error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(o.r, lenBuf[:]); err != nil {
		return corrupt("encrypted chunk length", err)
	}
	n := int(binary.BigEndian.Uint32(lenBuf[:]))
	if n < o.aead.Overhead() || n > o.maxFrame {
		return fmt.Errorf("%w: encrypted chunk length %d", ErrCorrupted, n)
	}
	if cap(o.frame) < n {
		o.frame = make([]byte, n)
	}
	o.frame = o.frame[:n]
	if _, err := io.ReadFull(o.r, o.frame); err != nil {
		return corrupt("encrypted chunk", err)
	}

	chunkNonce(o.nonce, o.counter)
	o.counter++
	plain, err := o.aead.Open(o.plain[:0], o.nonce, o.frame, adMore)
	if err != nil {
		plain, err = o.aead.Open(o.plain[:0], o.nonce, o.frame, adFinal)
		if err != nil {
			return ErrDecryptionFailed
		}
		o.final = true
	}
	o.plain = plain
	o.off = 0
	return nil
}

func (o *openReader) checkTrailing() error {
	var b [1]byte
	if n, _ := io.ReadFull(o.r, b[:]); n > 0 {
		return fmt.Errorf("%w: data after final encrypted chunk", ErrCorrupted)
	}
	return io.EOF
}
