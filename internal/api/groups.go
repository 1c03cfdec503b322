package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jeylabbb/newsletter-hq/internal/models"
	"github.com/jeylabbb/newsletter-hq/internal/resolver"
)

// GroupRequest is the request body for POST /groups
type GroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// MemberRequest is the request body for POST /groups/{id}/members
type MemberRequest struct {
	Email string `json:"email"`
}

// SavedMailRequest is the request body for POST /saved-mails
type SavedMailRequest struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ContactRequest is the request body for POST /contacts
type ContactRequest struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// handleCreateGroup handles POST /api/v1/groups
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	g := &models.Group{Name: req.Name, Description: req.Description}
	if err := s.groups.Create(g); err != nil {
		s.logger.Error("failed to create group", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create group")
		return
	}
	s.sendJSON(w, http.StatusCreated, g)
}

// handleListGroups handles GET /api/v1/groups
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.List()
	if err != nil {
		s.logger.Error("failed to list groups", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list groups")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

// handleGetGroup handles GET /api/v1/groups/{id}
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, err := s.groups.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get group", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get group")
		return
	}
	if g == nil {
		s.sendError(w, http.StatusNotFound, "Group not found")
		return
	}

	members, err := s.groups.Members(id)
	if err != nil {
		s.logger.Error("failed to list members", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list members")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"group":   g,
		"members": members,
	})
}

// handleDeleteGroup handles DELETE /api/v1/groups/{id}
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.groups.Delete(chi.URLParam(r, "id")); err != nil {
		s.logger.Error("failed to delete group", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddMember handles POST /api/v1/groups/{id}/members
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	email := resolver.Normalize(req.Email)
	if !resolver.ValidAddress(email) {
		s.sendError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	id := chi.URLParam(r, "id")
	g, err := s.groups.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get group", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get group")
		return
	}
	if g == nil {
		s.sendError(w, http.StatusNotFound, "Group not found")
		return
	}

	if err := s.groups.AddMember(id, email); err != nil {
		s.logger.Error("failed to add member", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to add member")
		return
	}

	if err := s.workflows.TriggerEvent(r.Context(), models.TriggerGroupJoined, email); err != nil {
		s.logger.Error("group_joined triggers failed", "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRemoveMember handles DELETE /api/v1/groups/{id}/members/{email}
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	email := resolver.Normalize(chi.URLParam(r, "email"))

	if err := s.groups.RemoveMember(id, email); err != nil {
		s.logger.Error("failed to remove member", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to remove member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateSavedMail handles POST /api/v1/saved-mails
func (s *Server) handleCreateSavedMail(w http.ResponseWriter, r *http.Request) {
	var req SavedMailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Subject == "" || req.Body == "" {
		s.sendError(w, http.StatusBadRequest, "name, subject and body are required")
		return
	}

	m := &models.SavedMail{Name: req.Name, Subject: req.Subject, Body: req.Body}
	if err := s.saved.Create(m); err != nil {
		s.logger.Error("failed to create saved mail", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create saved mail")
		return
	}
	s.sendJSON(w, http.StatusCreated, m)
}

// handleListSavedMails handles GET /api/v1/saved-mails
func (s *Server) handleListSavedMails(w http.ResponseWriter, r *http.Request) {
	mails, err := s.saved.List()
	if err != nil {
		s.logger.Error("failed to list saved mails", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list saved mails")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"savedMails": mails})
}

// handleCreateContact handles POST /api/v1/contacts
func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	email := resolver.Normalize(req.Email)
	if !resolver.ValidAddress(email) {
		s.sendError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	c := &models.Contact{Email: email, Name: req.Name}
	if err := s.contacts.Create(c); err != nil {
		s.logger.Error("failed to create contact", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create contact")
		return
	}

	if err := s.workflows.TriggerEvent(r.Context(), models.TriggerContactAdded, email); err != nil {
		s.logger.Error("contact_added triggers failed", "error", err)
	}

	s.sendJSON(w, http.StatusCreated, c)
}

// handleListContacts handles GET /api/v1/contacts
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.contacts.List()
	if err != nil {
		s.logger.Error("failed to list contacts", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list contacts")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"contacts": contacts})
}
