package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/pcarvalho/stackwizard/internal/gateway"
	"github.com/pcarvalho/stackwizard/internal/orchestrator"
	"github.com/pcarvalho/stackwizard/internal/state"
	"github.com/pcarvalho/stackwizard/internal/templates"
	"github.com/pcarvalho/stackwizard/internal/validation"
	"github.com/pcarvalho/stackwizard/pkg/database"
)

// Server represents the HTTP API server
type Server struct {
	router            *chi.Mux
	db                *gorm.DB
	deploymentHandler *DeploymentHandler
	templateHandler   *TemplateHandler
	validationHandler *ValidationHandler
}

// Deps are the collaborators wired into the server
type Deps struct {
	DB        *gorm.DB
	Orch      *orchestrator.Orchestrator
	Catalog   *templates.Catalog
	Gateway   gateway.Gateway
	Repo      *state.Repository
	Validator *validation.Client
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router:            chi.NewRouter(),
		db:                deps.DB,
		deploymentHandler: NewDeploymentHandler(deps.Orch, deps.Catalog, deps.Gateway, deps.Repo),
		templateHandler:   NewTemplateHandler(deps.Catalog),
		validationHandler: NewValidationHandler(deps.Validator),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RequestLogger)
	s.router.Use(CORSMiddleware())
	s.router.Use(middleware.RealIP)

	// Health check
	s.router.Get("/health", s.healthCheck)

	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/templates", s.templateHandler.ListTemplates)
		r.Get("/records", s.deploymentHandler.ListRecords)
		r.Post("/validate-credentials", s.validationHandler.ValidateCredentials)

		r.Route("/deployment", func(r chi.Router) {
			r.Get("/status", s.deploymentHandler.GetStatus)
			r.Post("/prepare", s.deploymentHandler.Prepare)
			r.Post("/confirm", s.deploymentHandler.Confirm)
			r.Post("/cancel", s.deploymentHandler.Cancel)
			r.Post("/rollback", s.deploymentHandler.Rollback)
			r.Post("/reset", s.deploymentHandler.Reset)
			r.Post("/open-folder", s.deploymentHandler.OpenFolder)
		})
	})
}

// healthCheck handles GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := database.HealthCheck(s.db); err != nil {
		dbStatus = "error"
	}

	response := HealthResponse{
		Status:   "ok",
		Database: dbStatus,
		Version:  "1.0.0",
	}

	RespondWithJSON(w, http.StatusOK, response)
}

// Handler returns the http.Handler for the server
func (s *Server) Handler() http.Handler {
	return s.router
}
