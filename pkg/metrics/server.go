package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics on its own listener, independent of the main API
// server, so scraping never competes with request traffic.
type Server struct {
	server *http.Server
	log    *slog.Logger
}

// NewServer builds a metrics server bound to addr (e.g. ":9090").
func NewServer(addr string, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		log:    log,
	}
}

// StartAsync starts serving in a background goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server stopped unexpectedly", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
