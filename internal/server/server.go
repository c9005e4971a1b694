package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dossier-io/dossier/internal/agent"
	"github.com/dossier-io/dossier/internal/otel"
	"github.com/dossier-io/dossier/internal/store"
)

const defaultTimeout = 60 * time.Second

// runTimeout bounds one research run end to end, retrieval and the
// guarded retry included.
const runTimeout = 5 * time.Minute

// Server holds the dependencies for the HTTP API.
type Server struct {
	router    *chi.Mux
	runner    *agent.Runner
	store     *store.Store
	accessDir string
	apiKeys   map[string]string
	startTime time.Time
}

// NewServer builds a Server. apiKeys maps API key -> org_id; accessDir is
// the directory holding per-org access-context YAML files.
func NewServer(runner *agent.Runner, st *store.Store, accessDir string, apiKeys map[string]string) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		runner:    runner,
		store:     st,
		accessDir: accessDir,
		apiKeys:   apiKeys,
		startTime: time.Now(),
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured http.Handler. POST /v1/runs is registered
// without the default request timeout so the handler-level run deadline
// takes effect.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.MiddlewareWithStatus())

	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))

		r.Post("/v1/runs", s.handleRunCreate)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Get("/v1/runs", s.handleRunList)
			r.Get("/v1/runs/{id}", s.handleRunGet)
			r.Get("/v1/runs/{id}/citations", s.handleRunCitations)
			r.Get("/v1/runs/{id}/tools", s.handleRunTools)
			r.Get("/v1/audit", s.handleAuditList)
		})
	})

	return r
}
