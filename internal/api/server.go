package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yardguard/internal/data"
)

// Pinger reports whether an upstream dependency answers.
type Pinger func(ctx context.Context) error

// Server is the LAN ops surface: health, metrics and a read-only recent
// events feed for the dashboard. No auth; the dashboard's user handling is
// not this daemon's problem.
type Server struct {
	store   data.EventStore
	pingers map[string]Pinger
	http    *http.Server
}

func NewServer(addr string, store data.EventStore, pingers map[string]Pinger) *Server {
	s := &Server{store: store, pingers: pingers}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/v1/events", s.handleRecentEvents)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) Start() {
	go func() {
		log.Printf("API: listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[ERROR] API: server stopped: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.pingers))
	for name, ping := range s.pingers {
		if err := ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}

	writeJSON(w, status, map[string]any{
		"status":       http.StatusText(status),
		"dependencies": deps,
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	events, err := s.store.ListRecent(r.Context(), limit)
	if err != nil {
		log.Printf("[ERROR] API: list events: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event store unavailable"})
		return
	}
	if events == nil {
		events = []*data.MotionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] API: encode response: %v", err)
	}
}
