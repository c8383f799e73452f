package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creativecanvas/canvasd/internal/api"
	"github.com/creativecanvas/canvasd/internal/permissions"
	"github.com/creativecanvas/canvasd/internal/store"
)

type createProjectRequest struct {
	Title       string          `json:"title"`
	CanvasState json.RawMessage `json:"canvas_state"`
}

type updateProjectRequest struct {
	Title       *string         `json:"title"`
	CanvasState json.RawMessage `json:"canvas_state"`
}

type projectListResponse struct {
	Owned  []permissions.ProjectWithRole `json:"owned"`
	Shared []permissions.ProjectWithRole `json:"shared"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "title is required")
		return
	}

	project := &store.Project{
		UUID:        uuid.NewString(),
		Title:       req.Title,
		CanvasState: req.CanvasState,
		OwnerID:     &user.ID,
	}
	err := s.store.Tx(r.Context(), func(tx store.Store) error {
		if err := tx.CreateProject(r.Context(), project); err != nil {
			return err
		}
		return tx.AppendActivity(r.Context(), &store.ProjectActivity{
			ProjectID: project.ID,
			UserID:    user.ID,
			Action:    store.ActionCreated,
		})
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, permissions.ProjectWithRole{
		Project: project,
		Role:    store.RoleOwner,
	})
}

// handleListProjects returns the caller's projects split into owned and
// shared, with the caller's effective role attached to each.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	owned, err := s.store.ListProjectsByOwner(r.Context(), user.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	shares, err := s.store.ListSharesForUser(r.Context(), user.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := projectListResponse{
		Owned:  make([]permissions.ProjectWithRole, 0, len(owned)),
		Shared: make([]permissions.ProjectWithRole, 0, len(shares)),
	}
	for _, p := range owned {
		resp.Owned = append(resp.Owned, permissions.ProjectWithRole{Project: p, Role: store.RoleOwner})
	}
	if len(shares) > 0 {
		roleByProject := make(map[uint]store.Role, len(shares))
		ids := make([]uint, 0, len(shares))
		for _, share := range shares {
			roleByProject[share.ProjectID] = share.Role
			ids = append(ids, share.ProjectID)
		}
		projects, err := s.store.ListProjectsByIDs(r.Context(), ids)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		for _, p := range projects {
			resp.Shared = append(resp.Shared, permissions.ProjectWithRole{Project: p, Role: roleByProject[p.ID]})
		}
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	project, err := s.resolver.RequirePermission(r.Context(), projectUUIDParam(r), user.ID, permissions.PermissionView, shareTokenParam(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	role, err := s.resolver.ResolveRole(r.Context(), project.UUID, user.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, permissions.ProjectWithRole{Project: project, Role: role})
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var req updateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	project, err := s.resolver.RequirePermission(r.Context(), projectUUIDParam(r), user.ID, permissions.PermissionEdit, "")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	action := store.ActionEdited
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			api.WriteBadRequest(w, api.ReasonInvalidField, "title cannot be empty")
			return
		}
		if title != project.Title {
			action = store.ActionRenamed
		}
		project.Title = title
	}
	if req.CanvasState != nil {
		project.CanvasState = req.CanvasState
	}
	project.UpdatedAt = time.Now().Unix()

	err = s.store.Tx(r.Context(), func(tx store.Store) error {
		if err := tx.UpdateProject(r.Context(), project); err != nil {
			return err
		}
		return tx.AppendActivity(r.Context(), &store.ProjectActivity{
			ProjectID: project.ID,
			UserID:    user.ID,
			Action:    action,
		})
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	role, err := s.resolver.ResolveRole(r.Context(), project.UUID, user.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, permissions.ProjectWithRole{Project: project, Role: role})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	project, err := s.resolver.RequirePermission(r.Context(), projectUUIDParam(r), user.ID, permissions.PermissionDelete, "")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	// The activity row outlives the project and serves as the audit
	// record of the deletion.
	err = s.store.Tx(r.Context(), func(tx store.Store) error {
		if err := tx.AppendActivity(r.Context(), &store.ProjectActivity{
			ProjectID: project.ID,
			UserID:    user.ID,
			Action:    store.ActionDeleted,
		}); err != nil {
			return err
		}
		return tx.DeleteProject(r.Context(), project.UUID)
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	project, err := s.resolver.RequirePermission(r.Context(), projectUUIDParam(r), user.ID, permissions.PermissionView, shareTokenParam(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	activity, err := s.store.ListActivityByProject(r.Context(), project.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"activity": activity})
}
