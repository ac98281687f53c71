// Package adminhttp exposes the optional, minimal /healthz surface of
// spec.md §6. It is built on net/http only and is off by default; a
// caller must explicitly wire a Server and start it.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/meridianrt/spine/pkg/backend"
)

// Checker reports the health of the two adapter tiers a Runtime holds.
// pkg/orchestrator.Runtime satisfies this without adminhttp needing to
// import it, keeping the dependency direction the other way around.
type Checker interface {
	SpeedHealth(ctx context.Context) (backend.Health, error)
	QualityHealth(ctx context.Context) (backend.Health, error)
}

type healthResponse struct {
	Status  string            `json:"status"`
	Speed   backend.Health    `json:"speed"`
	Quality backend.Health    `json:"quality"`
	Errors  map[string]string `json:"errors,omitempty"`
	Checked time.Time         `json:"checkedAt"`
}

// Server wraps an *http.Server exposing /healthz over a Checker.
type Server struct {
	checker Checker
	http    *http.Server
}

// New builds a Server bound to addr. Call ListenAndServe to start it.
func New(addr string, checker Checker) *Server {
	s := &Server{checker: checker}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.http = &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(mux, "spine-admin"),
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{Status: "healthy", Checked: time.Now().UTC()}
	errs := map[string]string{}

	speed, err := s.checker.SpeedHealth(ctx)
	resp.Speed = speed
	if err != nil {
		errs["speed"] = err.Error()
	}

	quality, err := s.checker.QualityHealth(ctx)
	resp.Quality = quality
	if err != nil {
		errs["quality"] = err.Error()
	}

	if speed.Status != backend.StatusHealthy || quality.Status != backend.StatusHealthy || len(errs) > 0 {
		resp.Status = "degraded"
	}
	if len(errs) > 0 {
		resp.Errors = errs
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// ListenAndServe starts the admin HTTP server, blocking until it exits.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the admin HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
