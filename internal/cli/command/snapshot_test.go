package command

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yndnr/shardkv/internal/storage/memory"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
)

func TestSnapshotListAndInspect(t *testing.T) {
	dir := seedDataDir(t)

	out, err := runCLI(t, "--data-dir", dir, "-o", "json", "snapshot", "list")
	if err != nil {
		t.Fatalf("snapshot list: %v", err)
	}
	var infos []*snapshot.Info
	decodeJSON(t, out, &infos)
	if len(infos) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(infos))
	}

	out, err = runCLI(t, "-o", "json", "snapshot", "inspect", infos[0].Path)
	if err != nil {
		t.Fatalf("snapshot inspect: %v", err)
	}
	var info snapshot.Info
	decodeJSON(t, out, &info)
	if info.Entries != 2 {
		t.Errorf("entries = %d, want 2", info.Entries)
	}
	if info.ShardCount != 4 || len(info.Boundaries) != 4 {
		t.Errorf("shards = %d, boundaries = %v", info.ShardCount, info.Boundaries)
	}
}

func TestSnapshotInspectEncrypted(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "snapshot.key")
	if err := os.WriteFile(keyFile, []byte("cli-test-master-key-0123456789\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := memory.New(memory.WithShardCount(2))
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	if err := store.Set(context.Background(), []byte("k"), []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	cfg := snapshot.DefaultConfig(filepath.Join(dir, "snapshots"))
	cfg.KeyFile = keyFile
	m, err := snapshot.NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	created, err := m.Create(context.Background(), store, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := runCLI(t, "snapshot", "inspect", created.Path); !errors.Is(err, snapshot.ErrKeyRequired) {
		t.Fatalf("inspect without key err = %v, want ErrKeyRequired", err)
	}

	out, err := runCLI(t, "-o", "json", "snapshot", "inspect", "--key-file", keyFile, created.Path)
	if err != nil {
		t.Fatalf("snapshot inspect: %v", err)
	}
	var info snapshot.Info
	decodeJSON(t, out, &info)
	if !info.Encrypted || info.Entries != 1 {
		t.Errorf("info = %+v", info)
	}
}

func TestSnapshotInspectNeedsPath(t *testing.T) {
	_, err := runCLI(t, "snapshot", "inspect")
	if exitCode(err) != 2 {
		t.Fatalf("err = %v, want exit 2", err)
	}
}

func TestSnapshotVerify(t *testing.T) {
	dir := seedDataDir(t)

	out, err := runCLI(t, "--data-dir", dir, "-o", "json", "snapshot", "verify")
	if err != nil {
		t.Fatalf("snapshot verify: %v", err)
	}
	var results []verifyResult
	decodeJSON(t, out, &results)
	if len(results) != 1 || !results[0].OK || results[0].Checksum == "" {
		t.Fatalf("results = %+v", results)
	}

	path := results[0].Path
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xFF
	bad := filepath.Join(t.TempDir(), "bad.snap")
	if err := os.WriteFile(bad, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err = runCLI(t, "-o", "json", "snapshot", "verify", path, bad)
	if exitCode(err) != 1 {
		t.Fatalf("err = %v, want exit 1", err)
	}
	results = nil
	decodeJSON(t, out, &results)
	if len(results) != 2 || !results[0].OK || results[1].OK || results[1].Error == "" {
		t.Fatalf("results = %+v", results)
	}
}

func TestSnapshotListMissingDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := runCLI(t, "--data-dir", dir, "snapshot", "list"); err != nil {
		t.Fatalf("snapshot list: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "snapshots")); !os.IsNotExist(err) {
		t.Fatalf("list created the snapshot dir: %v", err)
	}
}
