package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jeylabbb/newsletter-hq/internal/events"
	"github.com/jeylabbb/newsletter-hq/internal/resolver"
)

// EventRequest is the request body for POST /events
type EventRequest struct {
	CampaignID string `json:"campaignId"`
	Email      string `json:"email"`
	Kind       string `json:"kind"`
}

// handleIngestEvent handles POST /api/v1/events
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CampaignID == "" || req.Email == "" {
		s.sendError(w, http.StatusBadRequest, "campaignId and email are required")
		return
	}

	e := &events.Event{
		CampaignID: req.CampaignID,
		Email:      resolver.Normalize(req.Email),
		Kind:       req.Kind,
	}
	if err := s.ingestor.Ingest(r.Context(), e); err != nil {
		if errors.Is(err, events.ErrUnknownKind) {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to ingest event", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to ingest event")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
