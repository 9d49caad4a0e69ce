// Package introspect exposes read-only JSON endpoints over the running
// simulator, adapted from the HTTP server wrapper the rest of the corpus
// uses for inter-module communication -- here repurposed for local
// observability instead of message passing between processes.
package introspect

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sisoputnfrba/tp-2025-1c-csopesy-sim/internal/sim"
)

// Server serves /health and /vmstats over plain HTTP for external
// dashboards or scripted polling, without touching the REPL's stdin/stdout.
type Server struct {
	addr string
	sim  *sim.Simulator
	log  *slog.Logger
	srv  *http.Server
}

// New builds a Server bound to addr (e.g. "127.0.0.1:9090").
func New(addr string, s *sim.Simulator, log *slog.Logger) *Server {
	return &Server{addr: addr, sim: s, log: log}
}

// Start blocks serving HTTP until the listener fails or Shutdown is
// called; run it in its own goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"initialized": s.sim.Initialized(),
		})
	})

	mux.HandleFunc("/vmstats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.sim.VMStats()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	mux.HandleFunc("/cpustats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.sim.Stats()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	s.srv = &http.Server{Addr: s.addr, Handler: mux}
	s.log.Info("introspection server listening", "addr", s.addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return fmt.Errorf("introspect: serve: %w", err)
}

// Shutdown stops accepting connections. Safe to call even if Start never
// ran.
func (s *Server) Shutdown() {
	if s.srv != nil {
		s.srv.Close()
	}
}
