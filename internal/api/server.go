// Package api exposes the analytics core over HTTP: event ingestion and
// querying, metrics, A/B test management, and the public tracking
// endpoints embedded in outgoing mail.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/email-insights/internal/event"
	"github.com/ignite/email-insights/internal/experiment"
	"github.com/ignite/email-insights/internal/tracking"
)

// Server carries the service dependencies for all handlers.
type Server struct {
	events      *event.Service
	experiments *experiment.Manager
	codec       *tracking.Codec

	// homeURL is where invalid click tokens redirect; empty serves 404.
	homeURL string
}

// Option configures a Server.
type Option func(*Server)

// WithHomeURL sets the fallback redirect for unverifiable click tokens.
func WithHomeURL(url string) Option {
	return func(s *Server) { s.homeURL = url }
}

// NewServer wires the HTTP layer over the core services.
func NewServer(events *event.Service, experiments *experiment.Manager, codec *tracking.Codec, opts ...Option) *Server {
	s := &Server{events: events, experiments: experiments, codec: codec}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the full router: API under /api/v1, tracking endpoints at
// the root so pixel and click URLs stay short.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	// Public tracking endpoints
	r.Get("/track/open", s.handleTrackOpen)
	r.Get("/track/click", s.handleTrackClick)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", s.handleRecordEvent)
		r.Get("/events", s.handleListEvents)

		r.Get("/metrics", s.handleMetrics)
		r.Get("/sequences/{sequenceID}/metrics", s.handleSequenceMetrics)
		r.Get("/campaigns/{campaignID}/metrics", s.handleCampaignMetrics)

		r.Route("/ab-tests", func(r chi.Router) {
			r.Get("/", s.handleListTests)
			r.Post("/", s.handleCreateTest)

			r.Route("/{testID}", func(r chi.Router) {
				r.Get("/", s.handleGetTest)
				r.Put("/", s.handleUpdateTest)

				r.Post("/start", s.handleStartTest)
				r.Post("/pause", s.handlePauseTest)
				r.Post("/complete", s.handleCompleteTest)
				r.Post("/archive", s.handleArchiveTest)

				r.Post("/assign", s.handleAssignVariant)
				r.Get("/results", s.handleTestResults)
				r.Get("/compare", s.handleCompareVariants)
			})
		})
	})

	return r
}

// TrackingRoutes builds the reduced router for the public tracking edge:
// pixel, click and health only.
func (s *Server) TrackingRoutes(pixelEndpoint, clickEndpoint string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get(pixelEndpoint, s.handleTrackOpen)
	r.Get(clickEndpoint, s.handleTrackClick)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
