package cli

import (
	"context"
	"depwise/internal/core/app"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthStatus struct {
	Status    string         `json:"status"`
	RunID     string         `json:"run_id,omitempty"`
	Summary   map[string]int `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
	CheckedAt time.Time      `json:"checked_at,omitempty"`
}

// ObservabilityServer exposes metrics and the outcome of the latest check
// while watching.
type ObservabilityServer struct {
	addr   string
	server *http.Server

	mu     sync.RWMutex
	latest healthStatus
}

func NewObservabilityServer(addr string) *ObservabilityServer {
	return &ObservabilityServer{
		addr:   addr,
		latest: healthStatus{Status: "starting"},
	}
}

// Observe records the outcome of a check for /health.
func (s *ObservabilityServer) Observe(rep *app.Report, err error) {
	status := healthStatus{CheckedAt: time.Now().UTC()}
	if err != nil {
		status.Status = "error"
		status.Error = err.Error()
	} else {
		status.Status = string(rep.Status)
		status.RunID = rep.RunID
		status.Summary = rep.Summary
	}
	s.mu.Lock()
	s.latest = status
	s.mu.Unlock()
}

func (s *ObservabilityServer) health() healthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *ObservabilityServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := s.health()
		w.Header().Set("Content-Type", "application/json")
		if status.Status == "error" || status.Status == string(app.StatusIncomplete) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	return mux
}

func (s *ObservabilityServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("observability server starting", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("observability server failed", "error", err)
		}
	}()
	return nil
}

func (s *ObservabilityServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
