// Package health serves a small chi-routed HTTP surface: a liveness probe
// reflecting the websocket collaborator's status, and the Prometheus
// exposition endpoint. Adapted from the teacher's chi_router.go health route
// group and RequestIDWithLogging/RateLimit middleware, narrowed to two
// routes and stripped of auth, CORS, and the rest of its API surface, which
// this runtime has no equivalent of.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/NodeJSmith/hassette-go/internal/resource"
)

// WebsocketStatus reports the websocket collaborator's current resource
// status. Declared locally (rather than importing internal/hawebsocket)
// following the stateproxy/hawebsocket local-interface pattern used
// elsewhere in this runtime, so health has no dependency on the
// collaborator's concrete type.
type WebsocketStatus interface {
	Status() resource.Status
}

// healthRateLimitRequests/healthRateLimitWindow mirror the teacher's permissive health-endpoint rate
// limit (1000 requests/min), since monitoring systems poll frequently.
const (
	healthRateLimitRequests = 1000
	healthRateLimitWindow   = time.Minute
)

// Server is the health/metrics HTTP server.
type Server struct {
	*resource.Service

	ws     WebsocketStatus
	port   int
	server *http.Server
}

// New constructs a health server bound to port, reporting ws's status at
// /healthz.
func New(port int, ws WebsocketStatus, log zerolog.Logger) *Server {
	s := &Server{ws: ws, port: port}
	s.Service = resource.NewService(resource.ServiceOptions{
		Options: resource.Options{
			ClassName: "HealthServer",
			Role:      resource.RoleService,
			Logger:    &log,
		},
		Serve: s.serve,
	})
	return s
}

// Handler returns the server's routed http.Handler, exposed for tests and
// for callers embedding the health routes into a larger mux.
func (s *Server) Handler() http.Handler {
	return s.router()
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(healthRateLimitRequests, healthRateLimitWindow))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) serve(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.MarkReady("listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type healthResponse struct {
	Status string `json:"status"`
	WS     string `json:"ws"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	connected := s.ws != nil && s.ws.Status() == resource.Running

	w.Header().Set("Content-Type", "application/json")
	if connected {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", WS: "connected"})
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "degraded", WS: "disconnected"})
}
