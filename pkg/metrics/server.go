package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Server exposes the node's collectors on their own port, outside the
// search API's middleware chain and rate limit.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

// Listen binds addr and starts serving GET /metrics from g in the
// background. A nil g serves the default registry.
func Listen(addr string, g prometheus.Gatherer) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(g))

	s := &Server{
		srv: &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		ln:     ln,
		logger: slog.Default().With("component", "metrics-server"),
	}
	go func() {
		s.logger.Info("metrics server listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
	return s, nil
}

// StartServer is Listen on all interfaces at port.
func StartServer(port int, g prometheus.Gatherer) (*Server, error) {
	return Listen(fmt.Sprintf(":%d", port), g)
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
