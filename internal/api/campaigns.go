package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeylabbb/newsletter-hq/internal/lifecycle"
	"github.com/jeylabbb/newsletter-hq/internal/models"
)

// CreateCampaignRequest is the request body for POST /campaigns
type CreateCampaignRequest struct {
	Title           string     `json:"title"`
	Subject         string     `json:"subject"`
	SubjectB        string     `json:"subject_b,omitempty"`
	Body            string     `json:"body"`
	Preheader       string     `json:"preheader,omitempty"`
	GroupIDs        []string   `json:"groupIds"`
	RecipientEmails []string   `json:"recipientEmails,omitempty"`
	ManualEmails    string     `json:"manualEmails,omitempty"`
	SendMode        string     `json:"sendMode"`
	ScheduledFor    *time.Time `json:"scheduledFor,omitempty"`
	ABTestEnabled   bool       `json:"abTestEnabled,omitempty"`
	TestDuration    int        `json:"testDuration,omitempty"`
	WinnerCriteria  string     `json:"winnerCriteria,omitempty"`
}

// PatchCampaignRequest is the request body for PATCH /campaigns/{id}.
// Absent fields are left unchanged.
type PatchCampaignRequest struct {
	Title                *string `json:"title,omitempty"`
	Subject              *string `json:"subject,omitempty"`
	ExcludedFromTracking *bool   `json:"excluded_from_tracking,omitempty"`
}

// CampaignListResponse is the response for GET /campaigns
type CampaignListResponse struct {
	Campaigns []models.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c := &models.Campaign{
		Title:            req.Title,
		Subject:          req.Subject,
		SubjectB:         req.SubjectB,
		Body:             req.Body,
		Preheader:        req.Preheader,
		GroupIDs:         req.GroupIDs,
		ExplicitEmails:   req.RecipientEmails,
		ManualEmails:     req.ManualEmails,
		SendMode:         req.SendMode,
		ScheduledFor:     req.ScheduledFor,
		ABEnabled:        req.ABTestEnabled,
		ABTestDuration:   req.TestDuration,
		ABWinnerCriteria: req.WinnerCriteria,
	}

	if err := s.lifecycle.Create(c); err != nil {
		if errors.Is(err, lifecycle.ErrValidation) {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to create campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create campaign")
		return
	}

	// Immediate campaigns are claimed and dispatched in-request. The claim
	// keeps a concurrent tick from picking the same campaign up.
	if c.SendMode == models.SendModeImmediate {
		claimed, err := s.campaigns.ClaimDispatch(c.ID, models.CampaignStatusPending)
		if err != nil {
			s.logger.Error("failed to claim dispatch", "campaign_id", c.ID, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to dispatch campaign")
			return
		}
		if claimed {
			if err := s.lifecycle.Dispatch(r.Context(), c.ID); err != nil {
				s.logger.Error("immediate dispatch failed", "campaign_id", c.ID, "error", err)
			}
		}

		updated, err := s.campaigns.GetByID(c.ID)
		if err == nil && updated != nil {
			c = updated
		}
	}

	s.sendJSON(w, http.StatusCreated, c)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	filter := models.CampaignListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	campaigns, total, err := s.campaigns.List(filter)
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}

	s.sendJSON(w, http.StatusOK, CampaignListResponse{Campaigns: campaigns, Total: total})
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to get campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handlePatchCampaign handles PATCH /api/v1/campaigns/{id}
func (s *Server) handlePatchCampaign(w http.ResponseWriter, r *http.Request) {
	var req PatchCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	c, err := s.campaigns.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	// Once terminal, only the tracking exclusion flag may change.
	if c.Terminal() && (req.Title != nil || req.Subject != nil) {
		s.sendError(w, http.StatusConflict, "Campaign content is immutable once sent")
		return
	}

	if req.Title != nil {
		c.Title = *req.Title
	}
	if req.Subject != nil {
		c.Subject = *req.Subject
	}
	if req.Title != nil || req.Subject != nil {
		if err := s.campaigns.Update(c); err != nil {
			s.logger.Error("failed to update campaign", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to update campaign")
			return
		}
	}
	if req.ExcludedFromTracking != nil {
		if err := s.lifecycle.MarkExcluded(id, *req.ExcludedFromTracking); err != nil {
			s.logger.Error("failed to set tracking exclusion", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to update campaign")
			return
		}
		c.ExcludedFromTracking = *req.ExcludedFromTracking
	}

	s.sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.lifecycle.Delete(chi.URLParam(r, "id")); err != nil {
		s.logger.Error("failed to delete campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListRecipients handles GET /api/v1/campaigns/{id}/recipients
func (s *Server) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.campaigns.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	rows, err := s.recipients.ListByCampaign(id)
	if err != nil {
		s.logger.Error("failed to list recipients", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list recipients")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{"recipients": rows})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
