package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ErrNoAddr is returned by Listen when the server has no address. An empty
// address would otherwise bind every interface on a random port.
var ErrNoAddr = errors.New("httpserver: empty listen address")

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
	tlsConfig  *tls.Config
	logger     *slog.Logger
}

// New creates a server. tlsConfig may be nil for plain HTTP.
func New(addr string, h http.Handler, tlsConfig *tls.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		tlsConfig: tlsConfig,
		logger:    logger,
	}
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	if s.httpServer.Addr == "" {
		return nil, ErrNoAddr
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, err
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	return ln, nil
}

// Serve serves on ln until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("admin server listening", "addr", ln.Addr().String(), "tls", s.tlsConfig != nil)
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
