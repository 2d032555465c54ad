// Package api serves the query surface: scan intake, SSE progress,
// token and site search, site detail, stats, and votes.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/orchestrator"
	"github.com/tokenlens/tokenlens/internal/stats"
	"github.com/tokenlens/tokenlens/internal/storage"
)

// Dependencies collects everything the handlers touch.
type Dependencies struct {
	DB           *storage.DB
	Orchestrator *orchestrator.Orchestrator
	Stats        *stats.Service
	Metrics      *monitoring.MetricsCollector
	RateLimit    config.RateLimitConfig
	MaxBodyBytes int64
}

// Server holds handler state behind the router.
type Server struct {
	deps         Dependencies
	limiter      *rateLimiter
	maxBodyBytes int64
	log          zerolog.Logger
}

// NewServer builds the server and its middleware state.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps:         deps,
		maxBodyBytes: deps.MaxBodyBytes,
		log:          monitoring.Component("api"),
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = 1 << 20
	}
	if deps.RateLimit.Enabled {
		s.limiter = newRateLimiter(deps.RateLimit)
	}
	return s
}

// Router assembles the middleware chain and routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.panicRecovery)
	r.Use(s.requestLogging)
	r.Use(s.security)
	r.Use(s.bodyLimit)
	s.MountRoutes(r)
	return r
}

// MountRoutes registers every endpoint on the given router. The rate
// limiter guards the mutating routes only.
func (s *Server) MountRoutes(r chi.Router) {
	r.With(s.rateLimit).Post("/scan", s.handleSubmitScan)
	r.Get("/scan/{id}", s.handleGetScan)
	r.Get("/scan/{id}/events", s.handleScanEvents)
	r.Post("/scan/{id}/cancel", s.handleCancelScan)
	r.Get("/search", s.handleSearch)
	r.Get("/site/{domain}", s.handleGetSite)
	r.Get("/stats", s.handleStats)
	r.With(s.rateLimit).Post("/vote", s.handleVote)
	r.Get("/healthz", s.handleHealthz)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}
