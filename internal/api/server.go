package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docinherit/internal/config"
	"github.com/dgallion1/docinherit/internal/pipeline"
	"github.com/dgallion1/docinherit/internal/refstore"
)

// Server is the HTTP API server for docinherit.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	refs         *refstore.Client
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. refs may be nil when no
// reference store is configured.
func NewServer(orch *pipeline.Orchestrator, refs *refstore.Client, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		refs:         refs,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/resolve", s.handleResolve)
		r.Get("/api/resolve/{jobID}/status", s.handleResolveStatus)
		r.Get("/api/resolve/{jobID}/files/{name}", s.handleResolvedFile)
		r.Post("/api/resolve/{jobID}/publish", s.handlePublish)
		r.Get("/api/stats/resolve", s.handleResolveStats)

		r.Get("/api/references", s.handleListReferences)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
