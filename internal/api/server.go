package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pedrolm/mapscout/internal/auth"
	"github.com/pedrolm/mapscout/internal/metrics"
	"github.com/pedrolm/mapscout/internal/store"
)

// Server wires HTTP handlers to the stores and the credential service.
type Server struct {
	router    chi.Router
	searches  store.SearchStore
	campaigns store.CampaignStore
	auth      *auth.Service
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	searches store.SearchStore,
	campaigns store.CampaignStore,
	authService *auth.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		searches:  searches,
		campaigns: campaigns,
		auth:      authService,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authService.RequireKey)

		r.Post("/scrape", s.submitScrape)
		r.Get("/task/{id}", s.getTaskStatus)
		r.Get("/tasks", s.listTasks)
		r.Get("/queue/status", s.queueStatus)

		r.Post("/campaigns", s.createCampaign)
		r.Get("/campaigns/{id}", s.getCampaign)

		r.Route("/admin/keys", func(r chi.Router) {
			r.Post("/", s.createKey)
			r.Get("/", s.listKeys)
			r.Delete("/{id}", s.revokeKey)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
