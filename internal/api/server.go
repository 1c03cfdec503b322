// Package api exposes the admin HTTP surface: campaign and workflow
// management, group membership, event ingestion and the manual job tick.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jeylabbb/newsletter-hq/internal/config"
	"github.com/jeylabbb/newsletter-hq/internal/events"
	"github.com/jeylabbb/newsletter-hq/internal/lifecycle"
	"github.com/jeylabbb/newsletter-hq/internal/metrics"
	"github.com/jeylabbb/newsletter-hq/internal/repository"
	"github.com/jeylabbb/newsletter-hq/internal/scheduler"
	"github.com/jeylabbb/newsletter-hq/internal/workflow"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	lifecycle  *lifecycle.Lifecycle
	campaigns  *repository.CampaignRepository
	recipients *repository.RecipientRepository
	workflows  *workflow.Engine
	wfRepo     *repository.WorkflowRepository
	runs       *repository.RunRepository
	groups     *repository.GroupRepository
	saved      *repository.SavedMailRepository
	contacts   *repository.ContactRepository
	ingestor   *events.Ingestor
	scheduler  *scheduler.Scheduler
	metrics    *metrics.Metrics

	config    *config.ServerConfig
	logger    *slog.Logger
	startTime time.Time
}

// Deps bundles everything the server routes to.
type Deps struct {
	Lifecycle  *lifecycle.Lifecycle
	Campaigns  *repository.CampaignRepository
	Recipients *repository.RecipientRepository
	Workflows  *workflow.Engine
	WfRepo     *repository.WorkflowRepository
	Runs       *repository.RunRepository
	Groups     *repository.GroupRepository
	Saved      *repository.SavedMailRepository
	Contacts   *repository.ContactRepository
	Ingestor   *events.Ingestor
	Scheduler  *scheduler.Scheduler
	Metrics    *metrics.Metrics
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.ServerConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		lifecycle:  deps.Lifecycle,
		campaigns:  deps.Campaigns,
		recipients: deps.Recipients,
		workflows:  deps.Workflows,
		wfRepo:     deps.WfRepo,
		runs:       deps.Runs,
		groups:     deps.Groups,
		saved:      deps.Saved,
		contacts:   deps.Contacts,
		ingestor:   deps.Ingestor,
		scheduler:  deps.Scheduler,
		metrics:    deps.Metrics,
		config:     cfg,
		logger:     logger,
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// Handler returns the configured router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/campaigns", s.handleCreateCampaign)
		r.Get("/campaigns", s.handleListCampaigns)
		r.Get("/campaigns/{id}", s.handleGetCampaign)
		r.Patch("/campaigns/{id}", s.handlePatchCampaign)
		r.Delete("/campaigns/{id}", s.handleDeleteCampaign)
		r.Get("/campaigns/{id}/recipients", s.handleListRecipients)

		r.Post("/jobs/run", s.handleRunJobs)

		r.Post("/workflows", s.handleCreateWorkflow)
		r.Get("/workflows", s.handleListWorkflows)
		r.Get("/workflows/{id}", s.handleGetWorkflow)
		r.Patch("/workflows/{id}", s.handlePatchWorkflow)
		r.Delete("/workflows/{id}", s.handleDeleteWorkflow)
		r.Post("/workflows/{id}/trigger", s.handleTriggerWorkflow)
		r.Get("/workflows/{id}/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)

		r.Post("/events", s.handleIngestEvent)

		r.Post("/groups", s.handleCreateGroup)
		r.Get("/groups", s.handleListGroups)
		r.Get("/groups/{id}", s.handleGetGroup)
		r.Delete("/groups/{id}", s.handleDeleteGroup)
		r.Post("/groups/{id}/members", s.handleAddMember)
		r.Delete("/groups/{id}/members/{email}", s.handleRemoveMember)

		r.Post("/saved-mails", s.handleCreateSavedMail)
		r.Get("/saved-mails", s.handleListSavedMails)

		r.Post("/contacts", s.handleCreateContact)
		r.Get("/contacts", s.handleListContacts)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).String(),
	})
}

// handleRunJobs triggers one scheduler tick synchronously
func (s *Server) handleRunJobs(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Tick(r.Context()); err != nil {
		s.logger.Error("manual tick failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Tick failed")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends a JSON error response
func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, ErrorResponse{Error: msg})
}
