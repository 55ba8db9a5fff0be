// Package server exposes the identifier contract over HTTP: permanent-URL
// redirection, on-demand reconciliation, health, and metrics. It is a thin
// shell over the resolver and monitor; listing UIs and authentication
// surfaces live elsewhere.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/permauri/permauri/internal/idgen"
	"github.com/permauri/permauri/internal/monitor"
	"github.com/permauri/permauri/internal/resolver"
)

// Server is the HTTP surface for permanent identifiers.
type Server struct {
	resolver      *resolver.Resolver
	monitor       *monitor.Monitor
	presignExpiry time.Duration
	logger        zerolog.Logger

	mux        *http.ServeMux
	httpServer *http.Server
}

// New creates a Server wired to the given resolver and monitor.
func New(res *resolver.Resolver, mon *monitor.Monitor, presignExpiry time.Duration, logger zerolog.Logger) *Server {
	s := &Server{
		resolver:      res,
		monitor:       mon,
		presignExpiry: presignExpiry,
		logger:        logger.With().Str("component", "server").Logger(),
		mux:           http.NewServeMux(),
	}

	s.mux.HandleFunc("/file/", s.handleFile)
	s.mux.HandleFunc("/api/v1/register", s.handleRegister)
	s.mux.HandleFunc("/api/v1/reconcile", s.handleReconcile)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving on addr. It returns once the listener is running;
// serve errors other than graceful shutdown are logged.
func (s *Server) Start(addr string) {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server error")
		}
	}()
	s.logger.Info().Str("addr", addr).Msg("http server listening")
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleFile redirects a permanent identifier to a freshly signed
// retrieval URL. Unknown or stale identifiers get a plain 404; internal
// store details are never echoed back.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/file/")
	if !idgen.Valid(id) {
		http.NotFound(w, r)
		return
	}

	url, err := s.resolver.PresignURL(r.Context(), id, s.presignExpiry)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error().Err(err).Str("id", id).Msg("resolve failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// handleRegister assigns an identifier to a storage key outside the
// reconciliation schedule.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	id, err := s.resolver.Register(r.Context(), req.Key)
	if err != nil {
		s.logger.Error().Err(err).Str("key", req.Key).Msg("register failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "key": req.Key})
}

// handleReconcile triggers a synchronous reconciliation run and returns
// its summary.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sum, err := s.monitor.ReconcileNow(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("on-demand reconciliation failed")
		http.Error(w, "reconciliation failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
