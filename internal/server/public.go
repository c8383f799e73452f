package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/creativecanvas/canvasd/internal/api"
	"github.com/creativecanvas/canvasd/internal/permissions"
	"github.com/creativecanvas/canvasd/internal/store"
)

// publicProject is the anonymous read-only view of a project. It never
// carries owner, guest, or token fields.
type publicProject struct {
	UUID        string          `json:"uuid"`
	Title       string          `json:"title"`
	CanvasState json.RawMessage `json:"canvas_state,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// requirePublicAccess gates an anonymous request on the share_token
// query parameter. No share row is ever created for link viewers here.
func (s *Server) requirePublicAccess(w http.ResponseWriter, r *http.Request) (*store.Project, bool) {
	token := shareTokenParam(r)
	if token == "" {
		api.WriteForbidden(w, api.ReasonTokenMismatch, "a share token is required")
		return nil, false
	}
	project, err := s.resolver.RequirePermission(r.Context(), projectUUIDParam(r), 0, permissions.PermissionView, token)
	if err != nil {
		s.writeDomainError(w, r, err)
		return nil, false
	}
	return project, true
}

func (s *Server) handlePublicProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requirePublicAccess(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, publicProject{
		UUID:        project.UUID,
		Title:       project.Title,
		CanvasState: project.CanvasState,
		CreatedAt:   project.CreatedAt,
		UpdatedAt:   project.UpdatedAt,
	})
}

func (s *Server) handlePublicMetadata(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requirePublicAccess(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, publicProject{
		UUID:      project.UUID,
		Title:     project.Title,
		CreatedAt: project.CreatedAt,
		UpdatedAt: project.UpdatedAt,
	})
}

// handlePublicExport serves the raw canvas state as a JSON download.
func (s *Server) handlePublicExport(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requirePublicAccess(w, r)
	if !ok {
		return
	}
	state := project.CanvasState
	if len(state) == 0 {
		state = json.RawMessage("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", project.UUID+".json"))
	w.WriteHeader(http.StatusOK)
	w.Write(state)
}
