package handler

import (
	"net/http"

	"github.com/yndnr/shardkv/internal/core/domain"
	"github.com/yndnr/shardkv/internal/infra/buildinfo"
)

// handleHealth handles GET /healthz. The process is alive even while the
// engine is degraded.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:   "ok",
		Degraded: h.engine.Degraded(),
		Version:  buildinfo.Get(),
	})
}

// handleReady handles GET /readyz. It fails while the engine is degraded so
// load balancers stop sending writes.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.engine.Degraded() {
		h.writeError(w, r, http.StatusServiceUnavailable, domain.ErrReadOnly.Code,
			"engine is read-only until resumed", nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, HealthResponse{Status: "ready", Version: buildinfo.Get()})
}
