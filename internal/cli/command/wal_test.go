package command

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/shardkv/internal/storage/wal"
)

func TestWALDumpRedactsValues(t *testing.T) {
	dir := seedDataDir(t)

	out, err := runCLI(t, "--data-dir", dir, "-o", "json", "wal", "dump")
	if err != nil {
		t.Fatalf("wal dump: %v", err)
	}
	var recs []dumpRecord
	decodeJSON(t, out, &recs)

	ops := make(map[string][]string)
	for _, r := range recs {
		ops[r.Key] = append(ops[r.Key], r.Op)
		if r.Key == "user:1" && r.Value != "[5 bytes]" {
			t.Errorf("user:1 value = %q, want redacted", r.Value)
		}
		if r.Key == "user:2" && r.ExpireAt == "" {
			t.Error("user:2 has no expire_at")
		}
	}
	if got := strings.Join(ops["user:3"], ","); got != "SET,DELETE" {
		t.Errorf("user:3 ops = %q", got)
	}
	if len(ops["user:4"]) != 1 {
		t.Errorf("record written after the snapshot missing: %v", ops)
	}
}

func TestWALDumpShowValuesAndLimit(t *testing.T) {
	dir := seedDataDir(t)

	out, err := runCLI(t, "--data-dir", dir, "--show-values", "-o", "json", "wal", "dump", "--limit", "1")
	if err != nil {
		t.Fatalf("wal dump: %v", err)
	}
	var recs []dumpRecord
	decodeJSON(t, out, &recs)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].Key != "user:1" || recs[0].Value != "alice" {
		t.Fatalf("record = %+v", recs[0])
	}
}

func TestWALSegmentsTable(t *testing.T) {
	dir := seedDataDir(t)

	out, err := runCLI(t, "--data-dir", dir, "wal", "segments")
	if err != nil {
		t.Fatalf("wal segments: %v", err)
	}
	if !strings.HasPrefix(out, "SEGMENT") {
		t.Fatalf("output = %q", out)
	}
	if lines := strings.Count(out, "\n"); lines < 3 {
		t.Fatalf("want header plus two segments, got:\n%s", out)
	}
}

func TestWALVerify(t *testing.T) {
	dir := seedDataDir(t)

	if _, err := runCLI(t, "--data-dir", dir, "wal", "verify"); err != nil {
		t.Fatalf("verify clean wal: %v", err)
	}

	segs, err := wal.Inspect(filepath.Join(dir, "wal"))
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) < 2 || !segs[0].Finalized {
		t.Fatalf("segments = %+v", segs)
	}
	data, err := os.ReadFile(segs[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xFF
	if err := os.WriteFile(segs[0].Path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = runCLI(t, "--data-dir", dir, "wal", "verify")
	if exitCode(err) != 1 {
		t.Fatalf("verify damaged wal: err = %v, want exit 1", err)
	}
}

func TestWALMissingDirIsEmpty(t *testing.T) {
	out, err := runCLI(t, "--data-dir", t.TempDir(), "-o", "json", "wal", "dump")
	if err != nil {
		t.Fatalf("wal dump: %v", err)
	}
	if strings.TrimSpace(out) != "null" {
		t.Fatalf("output = %q", out)
	}
}
