package command

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/yndnr/shardkv/internal/cli/connection"
	"github.com/yndnr/shardkv/internal/server/httpserver/handler"
	"github.com/yndnr/shardkv/internal/storage"
	"github.com/yndnr/shardkv/internal/storage/memory"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
)

func TestAdminHealth(t *testing.T) {
	server := newMockServer()
	defer server.Close()
	server.handle("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, handler.HealthResponse{Status: "ok", Degraded: true})
	})

	out, err := runCLI(t, "--admin-addr", server.URL, "admin", "health")
	if err != nil {
		t.Fatalf("admin health: %v", err)
	}
	if !strings.Contains(out, "read-only") {
		t.Fatalf("output = %q", out)
	}
}

func TestAdminStats(t *testing.T) {
	server := newMockServer()
	defer server.Close()
	server.handle("GET /admin/stats", func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, storage.Stats{
			Store: memory.Stats{
				Keys:   42,
				Shards: []memory.ShardStats{{Index: 0, Keys: 40}, {Index: 1, Keys: 2}},
			},
			SampleSize: 20,
		})
	})

	out, err := runCLI(t, "--admin-addr", server.URL, "-o", "json", "admin", "stats")
	if err != nil {
		t.Fatalf("admin stats: %v", err)
	}
	var st storage.Stats
	decodeJSON(t, out, &st)
	if st.Store.Keys != 42 || st.SampleSize != 20 {
		t.Fatalf("stats = %+v", st)
	}
	if st.Store.Shards != nil {
		t.Fatal("per-shard rows printed without --shards")
	}

	out, err = runCLI(t, "--admin-addr", server.URL, "admin", "stats", "--shards")
	if err != nil {
		t.Fatalf("admin stats --shards: %v", err)
	}
	if !strings.Contains(out, "shard[1].keys") {
		t.Fatalf("output = %q", out)
	}
}

func TestAdminSnapshotSendsPath(t *testing.T) {
	server := newMockServer()
	defer server.Close()
	server.handle("POST /admin/snapshot", func(w http.ResponseWriter, r *http.Request) {
		var req handler.SnapshotRequest
		json.NewDecoder(r.Body).Decode(&req)
		okResponse(w, handler.SnapshotResponse{
			Snapshot:  &snapshot.Info{ID: "backup", Path: req.Path, Entries: 7},
			ElapsedMS: 12,
		})
	})

	out, err := runCLI(t, "--admin-addr", server.URL, "-o", "json", "admin", "snapshot", "--path", "/backup/kv.snap")
	if err != nil {
		t.Fatalf("admin snapshot: %v", err)
	}
	var resp handler.SnapshotResponse
	decodeJSON(t, out, &resp)
	if resp.Snapshot == nil || resp.Snapshot.Path != "/backup/kv.snap" || resp.Snapshot.Entries != 7 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestAdminResumeError(t *testing.T) {
	server := newMockServer()
	defer server.Close()
	server.handle("POST /admin/resume", func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusInternalServerError, "KV-SNAPSHOT-5000", "snapshot failed")
	})

	_, err := runCLI(t, "--admin-addr", server.URL, "admin", "resume")
	var apiErr *connection.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *connection.Error", err)
	}
	if apiErr.Code != "KV-SNAPSHOT-5000" || apiErr.RequestID != "req-test" {
		t.Fatalf("error = %+v", apiErr)
	}
}

func TestAdminRecover(t *testing.T) {
	server := newMockServer()
	defer server.Close()
	server.handle("POST /admin/recover", func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, handler.RecoverResponse{Recovery: &storage.RecoveryStats{Replayed: 3, Gaps: 1}})
	})

	out, err := runCLI(t, "--admin-addr", server.URL, "admin", "recover")
	if err != nil {
		t.Fatalf("admin recover: %v", err)
	}
	if !strings.Contains(out, "replayed") || !strings.Contains(out, "3") {
		t.Fatalf("output = %q", out)
	}
}

func TestAdminFlush(t *testing.T) {
	server := newMockServer()
	defer server.Close()
	calls := 0
	server.handle("POST /admin/flush", func(w http.ResponseWriter, r *http.Request) {
		calls++
		okResponse(w, handler.FlushResponse{Removed: 42})
	})

	if _, err := runCLI(t, "--admin-addr", server.URL, "admin", "flush"); err == nil {
		t.Fatal("flush without --yes succeeded")
	}
	if calls != 0 {
		t.Fatalf("server called %d times without confirmation", calls)
	}

	out, err := runCLI(t, "--admin-addr", server.URL, "admin", "flush", "--yes")
	if err != nil {
		t.Fatalf("admin flush: %v", err)
	}
	if calls != 1 || !strings.Contains(out, "removed") || !strings.Contains(out, "42") {
		t.Fatalf("calls = %d, output = %q", calls, out)
	}
}

func TestAdminSnapshots(t *testing.T) {
	server := newMockServer()
	defer server.Close()
	server.handle("GET /admin/snapshots", func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, handler.SnapshotListResponse{Snapshots: []*snapshot.Info{
			{ID: "01A", Path: "/data/snapshots/a.snap", Size: 2048},
			{ID: "01B", Path: "/data/snapshots/b.snap", Size: 4096},
		}})
	})

	out, err := runCLI(t, "--admin-addr", server.URL, "admin", "snapshots")
	if err != nil {
		t.Fatalf("admin snapshots: %v", err)
	}
	if !strings.Contains(out, "2.0 KiB") || !strings.Contains(out, "01B") {
		t.Fatalf("output = %q", out)
	}
}

func TestAdminLogLevel(t *testing.T) {
	server := newMockServer()
	defer server.Close()
	server.handle("PUT /admin/log-level", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["level"] != "debug" {
			errorResponse(w, http.StatusBadRequest, "KV-CONFIG-4000", "bad level")
			return
		}
		okResponse(w, map[string]string{"level": "debug"})
	})

	out, err := runCLI(t, "--admin-addr", server.URL, "admin", "log-level", "debug")
	if err != nil {
		t.Fatalf("admin log-level: %v", err)
	}
	if !strings.Contains(out, "debug") {
		t.Fatalf("output = %q", out)
	}

	if _, err := runCLI(t, "--admin-addr", server.URL, "admin", "log-level"); exitCode(err) != 2 {
		t.Fatalf("missing level: err = %v, want exit 2", err)
	}
}
