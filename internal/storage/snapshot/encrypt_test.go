package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/yndnr/shardkv/internal/core/domain"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func encryptedManager(t *testing.T, dir string, codec Codec, key []byte) *Manager {
	t.Helper()
	cfg := DefaultConfig(dir)
	cfg.Codec = codec
	cfg.Key = key
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManager_EncryptedRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecSnappy} {
		t.Run(string(codec), func(t *testing.T) {
			src := newStore(t, 4)
			fill(t, src, 300)

			m := encryptedManager(t, t.TempDir(), codec, testKey)
			info, err := m.Create(context.Background(), src, 3)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if !info.Encrypted {
				t.Fatalf("info.Encrypted = false")
			}

			raw, err := os.ReadFile(info.Path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if bytes.Contains(raw, []byte("value-17")) {
				t.Fatalf("plaintext value found in encrypted snapshot")
			}

			dst := newStore(t, 4)
			loaded, err := m.LoadLatest(context.Background(), replaceInto(dst))
			if err != nil {
				t.Fatalf("LoadLatest: %v", err)
			}
			if loaded.Entries != 300 || !loaded.Encrypted {
				t.Fatalf("loaded = %+v", loaded)
			}
			want, got := contents(src), contents(dst)
			if len(got) != len(want) {
				t.Fatalf("loaded %d keys, want %d", len(got), len(want))
			}
			for k, w := range want {
				if got[k] != w {
					t.Fatalf("key %s = %+v, want %+v", k, got[k], w)
				}
			}

			v, err := Verify(info.Path)
			if err != nil || !v.Encrypted {
				t.Fatalf("Verify = %+v, %v", v, err)
			}
		})
	}
}

func TestManager_EncryptedWrongKeyRejected(t *testing.T) {
	dir := t.TempDir()
	src := newStore(t, 2)
	fill(t, src, 50)
	if _, err := encryptedManager(t, dir, CodecZstd, testKey).Create(context.Background(), src, 1); err != nil {
		t.Fatalf("Create: %v", err)
	}

	wrong := encryptedManager(t, dir, CodecZstd, []byte("another-key-of-sufficient-size"))
	dst := newStore(t, 2)
	_, err := wrong.LoadLatest(context.Background(), replaceInto(dst))
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("LoadLatest err = %v, want ErrDecryptionFailed", err)
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("LoadLatest err = %v, want a configuration error", err)
	}
	if dst.Len() != 0 {
		t.Fatalf("wrong key loaded %d keys", dst.Len())
	}
}

func TestManager_EncryptedNeedsKey(t *testing.T) {
	dir := t.TempDir()
	src := newStore(t, 2)
	fill(t, src, 10)
	info, err := encryptedManager(t, dir, CodecNone, testKey).Create(context.Background(), src, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := Inspect(context.Background(), info.Path); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("Inspect without key err = %v, want ErrKeyRequired", err)
	}
	in, err := Inspect(context.Background(), info.Path, WithKey(testKey))
	if err != nil || in.Entries != 10 {
		t.Fatalf("Inspect = %+v, %v", in, err)
	}

	// An older plaintext snapshot must not be used in place of the
	// unreadable encrypted one.
	plain := newStore(t, 2)
	fill(t, plain, 3)
	path := filepath.Join(dir, filePrefix+"00000000000000000000000000"+fileExtension)
	if _, err := encryptedManager(t, t.TempDir(), CodecNone, nil).WriteFile(context.Background(), path, plain, 0); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	keyless := encryptedManager(t, dir, CodecNone, nil)
	if _, err := keyless.LoadLatest(context.Background(), replaceInto(newStore(t, 2))); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("LoadLatest err = %v, want ErrKeyRequired", err)
	}
}

func TestNewManager_KeyFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "snapshot.key")
	if err := os.WriteFile(keyFile, []byte(string(testKey)+"\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := DefaultConfig(filepath.Join(dir, "snap"))
	cfg.KeyFile = keyFile
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if !bytes.Equal(m.key, testKey) {
		t.Fatalf("key = %q, want trimmed file contents", m.key)
	}

	short := filepath.Join(dir, "short.key")
	if err := os.WriteFile(short, []byte("tiny"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg.KeyFile = short
	if _, err := NewManager(cfg); !errors.Is(err, domain.ErrConfiguration) || !errors.Is(err, ErrKeyTooShort) {
		t.Fatalf("short key err = %v", err)
	}
	cfg.KeyFile = filepath.Join(dir, "missing.key")
	if _, err := NewManager(cfg); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("missing key file err = %v", err)
	}
}

func sealAll(t *testing.T, eh *EncryptionHeader, chunks ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	sw, err := newSealWriter(testKey, eh, &buf)
	if err != nil {
		t.Fatalf("newSealWriter: %v", err)
	}
	for _, c := range chunks {
		if _, err := sw.Write(c); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := sw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestSealedStream(t *testing.T) {
	eh, err := newEncryptionHeader()
	if err != nil {
		t.Fatalf("newEncryptionHeader: %v", err)
	}
	eh.ChunkSize = 16
	plain := bytes.Repeat([]byte("abcdefgh"), 8) // exactly four chunks

	tests := []struct {
		name    string
		mangle  func([]byte) []byte
		wantErr error
	}{
		{"intact", func(b []byte) []byte { return b }, nil},
		{"empty", func([]byte) []byte { return sealAll(t, eh) }, nil},
		{"flipped byte", func(b []byte) []byte { b[10] ^= 0xff; return b }, ErrDecryptionFailed},
		{"final chunk dropped", func(b []byte) []byte { return b[:len(b)-(4+16+16)] }, ErrCorrupted},
		{"trailing data", func(b []byte) []byte { return append(b, 0) }, ErrCorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed := tt.mangle(sealAll(t, eh, plain[:5], plain[5:]))
			var got []byte
			or, err := newOpenReader(testKey, eh, bytes.NewReader(sealed))
			if err == nil {
				got, err = io.ReadAll(or)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if tt.name == "intact" && !bytes.Equal(got, plain) {
				t.Fatalf("got %q, want %q", got, plain)
			}
		})
	}
}
