package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/creativecanvas/canvasd/internal/api"
)

// GuestIDHeader carries the opaque guest identifier on guest routes.
const GuestIDHeader = "X-Guest-ID"

func guestID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(GuestIDHeader))
}

func (s *Server) handleGuestToken(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, s.guests.NewIdentity())
}

type guestProjectRequest struct {
	Title       string          `json:"title"`
	CanvasState json.RawMessage `json:"canvas_state"`
}

func (s *Server) handleGuestCreateProject(w http.ResponseWriter, r *http.Request) {
	var req guestProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "title is required")
		return
	}
	project, err := s.guests.CreateProject(r.Context(), guestID(r), req.Title, req.CanvasState)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, project)
}

func (s *Server) handleGuestListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.guests.ListProjects(r.Context(), guestID(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleGuestGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.guests.GetProject(r.Context(), projectUUIDParam(r), guestID(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, project)
}

type guestUpdateRequest struct {
	Title       *string         `json:"title"`
	CanvasState json.RawMessage `json:"canvas_state"`
}

func (s *Server) handleGuestUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req guestUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	project, err := s.guests.UpdateProject(r.Context(), projectUUIDParam(r), guestID(r), req.Title, req.CanvasState)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, project)
}

type claimRequest struct {
	ProjectUUIDs []string `json:"project_uuids"`
}

// handleGuestClaim transfers the caller's guest projects to their
// account. Requires both a bearer token and the guest id header; an
// empty project_uuids list claims everything under the guest id.
func (s *Server) handleGuestClaim(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	claimed, err := s.guests.Claim(r.Context(), guestID(r), user, req.ProjectUUIDs)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"claimed": claimed})
}
