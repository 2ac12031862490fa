package command

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/shardkv/internal/server/httpserver/handler"
	"github.com/yndnr/shardkv/internal/storage"
	"github.com/yndnr/shardkv/internal/storage/wal"
)

// mockServer is a fake admin endpoint.
type mockServer struct {
	*httptest.Server
	handlers map[string]http.HandlerFunc
}

func newMockServer() *mockServer {
	m := &mockServer{handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := m.handlers[r.Method+" "+r.URL.Path]; ok {
			h(w, r)
			return
		}
		errorResponse(w, http.StatusNotFound, "KV-ADMIN-4040", "not found")
	}))
	return m
}

// handle registers h for a "METHOD /path" pattern.
func (m *mockServer) handle(pattern string, h http.HandlerFunc) {
	m.handlers[pattern] = h
}

func okResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handler.NewResponse("req-test", data))
}

func errorResponse(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(handler.NewErrorResponse("req-test", code, message, nil))
}

// runCLI runs the app with args and returns what it printed to stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"shardkv-cli"}, args...))
	return out.String(), err
}

// exitCode returns the exit code carried by err, or 0.
func exitCode(err error) int {
	if ec, ok := err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return 0
}

// seedDataDir writes a data directory holding one managed snapshot and WAL
// records on both sides of it.
func seedDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cfg := storage.DefaultConfig(dir)
	cfg.ShardCount = 4
	cfg.SnapshotInterval = 0
	cfg.SnapshotOpThreshold = 0
	cfg.WAL.Mode = wal.ModeSync
	cfg.Logger = slog.New(slog.DiscardHandler)

	ctx := context.Background()
	e, err := storage.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(e.Set(ctx, []byte("user:1"), []byte("alice"), 0))
	must(e.Set(ctx, []byte("user:2"), []byte("bob"), time.Hour))
	must(e.Set(ctx, []byte("user:3"), []byte("carol"), 0))
	_, err = e.Delete(ctx, []byte("user:3"))
	must(err)
	_, err = e.Snapshot(ctx, "")
	must(err)
	must(e.Set(ctx, []byte("user:4"), []byte("dave"), 0))

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	must(e.Close(closeCtx))
	return dir
}

func decodeJSON(t *testing.T, s string, v any) {
	t.Helper()
	if err := json.NewDecoder(strings.NewReader(s)).Decode(v); err != nil {
		t.Fatalf("decode output: %v\n%s", err, s)
	}
}
