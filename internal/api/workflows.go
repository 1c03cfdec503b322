package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jeylabbb/newsletter-hq/internal/models"
	"github.com/jeylabbb/newsletter-hq/internal/workflow"
)

// WorkflowRequest is the request body for POST and PATCH /workflows. The
// step list is replaced as a whole; there are no partial step edits.
type WorkflowRequest struct {
	Name        string        `json:"name"`
	TriggerType string        `json:"triggerType"`
	IsActive    *bool         `json:"isActive,omitempty"`
	Steps       []models.Step `json:"steps"`
}

// TriggerRequest is the request body for POST /workflows/{id}/trigger
type TriggerRequest struct {
	Email string `json:"email"`
}

// handleCreateWorkflow handles POST /api/v1/workflows
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	wf := &models.Workflow{
		Name:        req.Name,
		TriggerType: req.TriggerType,
		IsActive:    true,
		Steps:       req.Steps,
	}
	if wf.TriggerType == "" {
		wf.TriggerType = models.TriggerManual
	}
	if req.IsActive != nil {
		wf.IsActive = *req.IsActive
	}

	if err := s.workflows.Create(wf); err != nil {
		if errors.Is(err, workflow.ErrValidation) {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to create workflow", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create workflow")
		return
	}

	s.sendJSON(w, http.StatusCreated, wf)
}

// handleListWorkflows handles GET /api/v1/workflows
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.wfRepo.List()
	if err != nil {
		s.logger.Error("failed to list workflows", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list workflows")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"workflows": workflows})
}

// handleGetWorkflow handles GET /api/v1/workflows/{id}
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.wfRepo.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to get workflow", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get workflow")
		return
	}
	if wf == nil {
		s.sendError(w, http.StatusNotFound, "Workflow not found")
		return
	}
	s.sendJSON(w, http.StatusOK, wf)
}

// handlePatchWorkflow handles PATCH /api/v1/workflows/{id}
func (s *Server) handlePatchWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	wf, err := s.wfRepo.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get workflow", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get workflow")
		return
	}
	if wf == nil {
		s.sendError(w, http.StatusNotFound, "Workflow not found")
		return
	}

	if req.Name != "" {
		wf.Name = req.Name
	}
	if req.TriggerType != "" {
		wf.TriggerType = req.TriggerType
	}
	if req.IsActive != nil {
		wf.IsActive = *req.IsActive
	}
	if req.Steps != nil {
		wf.Steps = req.Steps
	}

	if err := s.workflows.Update(wf); err != nil {
		if errors.Is(err, workflow.ErrValidation) {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to update workflow", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update workflow")
		return
	}

	s.sendJSON(w, http.StatusOK, wf)
}

// handleDeleteWorkflow handles DELETE /api/v1/workflows/{id}
func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.wfRepo.Delete(chi.URLParam(r, "id")); err != nil {
		s.logger.Error("failed to delete workflow", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete workflow")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTriggerWorkflow handles POST /api/v1/workflows/{id}/trigger
func (s *Server) handleTriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" {
		s.sendError(w, http.StatusBadRequest, "email is required")
		return
	}

	run, err := s.workflows.Trigger(r.Context(), chi.URLParam(r, "id"), req.Email)
	if err != nil {
		if errors.Is(err, workflow.ErrInactive) {
			s.sendError(w, http.StatusConflict, "Workflow is not active")
			return
		}
		s.logger.Error("failed to trigger workflow", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to trigger workflow")
		return
	}

	// Report the run's state after the synchronous portion finished.
	if updated, err := s.runs.GetByID(run.ID); err == nil && updated != nil {
		run = updated
	}
	s.sendJSON(w, http.StatusAccepted, run)
}

// handleListRuns handles GET /api/v1/workflows/{id}/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListByWorkflow(chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleGetRun handles GET /api/v1/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to get run", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	if run == nil {
		s.sendError(w, http.StatusNotFound, "Run not found")
		return
	}
	s.sendJSON(w, http.StatusOK, run)
}
