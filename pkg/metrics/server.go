package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server exposes /metrics (Prometheus exposition format) and /healthz
// (plain liveness) over HTTP, independent of the orchestrator's own
// gRPC/HTTP surface (out of scope per spec.md §1).
type Server struct {
	server *http.Server
	log    *logrus.Entry
}

// NewServer builds a Server bound to ":"+port. It does not start
// listening until StartAsync is called.
func NewServer(port string, log *logrus.Entry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: ":" + port, Handler: mux},
		log:    log,
	}
}

// StartAsync starts the HTTP listener on a background goroutine.
// Listen errors other than a clean shutdown are logged, not returned,
// since the caller has already moved on by the time they'd occur.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.log != nil {
				s.log.WithError(err).Error("metrics server stopped unexpectedly")
			}
		}
	}()
}

// Stop gracefully shuts the server down, respecting ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
