package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/shardkv/internal/server/httpserver/handler"
)

// RouterConfig configures the admin router.
type RouterConfig struct {
	Engine  handler.Engine
	Metrics http.Handler
	Logger  *slog.Logger

	// AllowList restricts /admin/ to these IPs and CIDRs; empty allows all.
	AllowList []string
	// RateLimit is requests per second per client IP on /admin/; 0 disables.
	RateLimit int
}

// NewRouter builds the admin handler with its middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := handler.New(cfg.Engine, cfg.Metrics, log)

	common := []Middleware{RequestID(log), Recover(log), AccessLog()}

	admin := append([]Middleware{}, common...)
	admin = append(admin, NetworkACL(cfg.AllowList, log))
	if cfg.RateLimit > 0 {
		admin = append(admin, RateLimit(cfg.RateLimit))
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", Chain(h, common...))
	mux.Handle("/readyz", Chain(h, common...))
	mux.Handle("/metrics", Chain(h, common...))
	mux.Handle("/admin/", Chain(h, admin...))
	return mux
}
