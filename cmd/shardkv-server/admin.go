package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/yndnr/shardkv/internal/infra/confloader"
	"github.com/yndnr/shardkv/internal/infra/shutdown"
	"github.com/yndnr/shardkv/internal/server/config"
	"github.com/yndnr/shardkv/internal/server/httpserver"
	"github.com/yndnr/shardkv/internal/server/httpserver/handler"
)

// startAdmin serves the admin endpoint and registers its shutdown hook.
// It returns a nil server when admin.addr is empty.
func startAdmin(cfg *config.ServerConfig, engine handler.Engine, metrics http.Handler, watcher *confloader.Watcher, sh *shutdown.Handler, log *slog.Logger) (*httpserver.Server, error) {
	if cfg.Admin.Addr == "" {
		log.Info("admin endpoint disabled")
		return nil, nil
	}

	tlsConfig, err := adminTLS(cfg, watcher, log)
	if err != nil {
		return nil, err
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Engine:    engine,
		Metrics:   metrics,
		Logger:    log.With("component", "admin"),
		AllowList: cfg.Admin.AllowList,
		RateLimit: cfg.Admin.RateLimit,
	})
	srv := httpserver.New(cfg.Admin.Addr, router, tlsConfig, log)
	ln, err := srv.Listen()
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Admin.Addr, err)
	}
	sh.OnShutdown("admin", srv.Shutdown)

	go func() {
		if err := srv.Serve(ln); err != nil {
			log.Error("admin server failed", "error", err)
			sh.Trigger("admin server failed")
		}
	}()
	return srv, nil
}
