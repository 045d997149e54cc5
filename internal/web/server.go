// Package web serves the diagnostic HTTP API: the pending write queue, the
// latest area readings, and a health probe.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"trv-manager/internal/climate"
	"trv-manager/internal/writequeue"
)

// PendingSource exposes the write queue's current backlog.
type PendingSource interface {
	Snapshot() []writequeue.PendingWrite
	Len() int
}

// ReadingsSource exposes the last regulation cycle's results.
type ReadingsSource interface {
	Readings() []climate.AreaReading
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication for /api/ routes.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// Server is the diagnostic HTTP server.
type Server struct {
	queue    PendingSource
	readings ReadingsSource
	logger   *slog.Logger
	mux      *http.ServeMux
	apiKey   string
	started  time.Time
	version  string
}

// NewServer wires the routes. version is shown in the health payload.
func NewServer(queue PendingSource, readings ReadingsSource, version string, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		queue:    queue,
		readings: readings,
		logger:   logger.With("component", "web"),
		mux:      http.NewServeMux(),
		started:  time.Now(),
		version:  version,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /api/pending", s.handlePending)
	s.mux.HandleFunc("GET /api/areas", s.handleAreas)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler, applying API key auth.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending := s.queue.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(pending),
		"pending": pending,
	})
}

func (s *Server) handleAreas(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"areas": s.readings.Readings(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"pending_writes": s.queue.Len(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", "err", err)
	}
}
