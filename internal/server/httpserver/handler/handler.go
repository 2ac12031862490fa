package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/shardkv/internal/core/domain"
	"github.com/yndnr/shardkv/internal/storage"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
	"github.com/yndnr/shardkv/internal/telemetry/logger"
)

// Engine is the part of the storage engine the admin API drives.
type Engine interface {
	Stats() storage.Stats
	Degraded() bool
	Snapshot(ctx context.Context, path string) (*snapshot.Info, error)
	Snapshots() ([]*snapshot.Info, error)
	Resume(ctx context.Context) (*snapshot.Info, error)
	Recover(ctx context.Context, path string) (*storage.RecoveryStats, error)
	FlushDB(ctx context.Context) (int, error)
}

var _ Engine = (*storage.Engine)(nil)

// maxBodyBytes bounds admin request bodies.
const maxBodyBytes = 64 << 10

// Handler serves the admin API.
type Handler struct {
	engine  Engine
	metrics http.Handler
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New creates a handler. metrics may be nil to disable /metrics.
func New(engine Engine, metrics http.Handler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		engine:  engine,
		metrics: metrics,
		logger:  log,
		mux:     http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.HandleFunc("GET /readyz", h.handleReady)
	if h.metrics != nil {
		h.mux.Handle("GET /metrics", h.metrics)
	}

	h.mux.HandleFunc("GET /admin/stats", h.handleStats)
	h.mux.HandleFunc("GET /admin/snapshots", h.handleListSnapshots)
	h.mux.HandleFunc("POST /admin/snapshot", h.handleSnapshot)
	h.mux.HandleFunc("POST /admin/resume", h.handleResume)
	h.mux.HandleFunc("POST /admin/recover", h.handleRecover)
	h.mux.HandleFunc("POST /admin/flush", h.handleFlush)
	h.mux.HandleFunc("PUT /admin/log-level", h.handleLogLevel)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.engine.Stats())
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	infos, err := h.engine.Snapshots()
	if err != nil {
		h.handleEngineError(w, r, domain.ErrSnapshotIO.WithDetails("list snapshots").WithCause(err))
		return
	}
	if infos == nil {
		infos = []*snapshot.Info{}
	}
	h.writeJSON(w, r, http.StatusOK, SnapshotListResponse{Snapshots: infos})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	start := time.Now()
	info, err := h.engine.Snapshot(r.Context(), req.Path)
	if err != nil {
		h.handleEngineError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, SnapshotResponse{
		Snapshot:  info,
		ElapsedMS: time.Since(start).Milliseconds(),
	})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.Resume(r.Context())
	if err != nil {
		h.handleEngineError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, ResumeResponse{Resumed: info != nil, Snapshot: info})
}

func (h *Handler) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req RecoverRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	h.logger.Warn("recover requested", "path", req.Path, "request_id", logger.RequestIDFromContext(r.Context()))
	stats, err := h.engine.Recover(r.Context(), req.Path)
	if err != nil {
		h.handleEngineError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, RecoverResponse{Recovery: stats})
}

func (h *Handler) handleFlush(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("flush requested", "request_id", logger.RequestIDFromContext(r.Context()))
	removed, err := h.engine.FlushDB(r.Context())
	if err != nil {
		h.handleEngineError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, FlushResponse{Removed: removed})
}

type logLevelRequest struct {
	Level string `json:"level"`
}

func (h *Handler) handleLogLevel(w http.ResponseWriter, r *http.Request) {
	var req logLevelRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if !logger.ValidLevel(req.Level) {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrConfiguration.Code,
			"level must be debug, info, warn or error", nil)
		return
	}
	logger.SetLevel(req.Level)
	h.logger.Info("log level changed", "level", logger.GetLevel())
	h.writeJSON(w, r, http.StatusOK, logLevelRequest{Level: logger.GetLevel()})
}

// decodeOptional decodes a JSON body if one was sent.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.writeError(w, r, http.StatusBadRequest, "KV-ARG-4000", "invalid request body", err.Error())
	return false
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details)); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// handleEngineError converts engine errors to HTTP responses.
func (h *Handler) handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.GetErrorCode(err)
	if code == "" {
		h.logger.Error("admin request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "KV-SYS-5000", "internal server error", nil)
		return
	}
	status := errorCodeToHTTPStatus(code)
	if status >= 500 {
		h.logger.Error("admin request failed", "path", r.URL.Path, "code", code, "error", err)
	}
	h.writeError(w, r, status, code, err.Error(), nil)
}

// errorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case code == domain.ErrReadOnly.Code:
		return http.StatusServiceUnavailable
	case code == domain.ErrClosed.Code:
		return http.StatusServiceUnavailable
	case code == domain.ErrCancelled.Code:
		return 499
	case code == domain.ErrFlushDisabled.Code:
		return http.StatusForbidden
	case code == domain.ErrMemoryLimit.Code:
		return http.StatusInsufficientStorage
	case code == domain.ErrValueTooLarge.Code:
		return http.StatusRequestEntityTooLarge
	case strings.HasSuffix(code, "-4040"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4000"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
