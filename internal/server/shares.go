package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/creativecanvas/canvasd/internal/api"
	"github.com/creativecanvas/canvasd/internal/permissions"
	"github.com/creativecanvas/canvasd/internal/store"
)

type shareRequest struct {
	Email string     `json:"email"`
	Role  store.Role `json:"role"`
}

type updateShareRequest struct {
	Role store.Role `json:"role"`
}

type autoJoinRequest struct {
	ShareToken string `json:"share_token"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var req shareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "email is required")
		return
	}

	project, err := s.resolver.RequirePermission(r.Context(), projectUUIDParam(r), user.ID, permissions.PermissionShare, "")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	result, err := s.sharing.Share(r.Context(), project, user, req.Email, req.Role)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	project, err := s.resolver.RequirePermission(r.Context(), projectUUIDParam(r), user.ID, permissions.PermissionView, "")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	access, err := s.sharing.ListAccess(r.Context(), project)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, access)
}

func (s *Server) handleUpdateShareRole(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	targetID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req updateShareRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	project, err := s.resolver.RequirePermission(r.Context(), projectUUIDParam(r), user.ID, permissions.PermissionManage, "")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	share, err := s.sharing.UpdateShareRole(r.Context(), project, targetID, req.Role)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, share)
}

func (s *Server) handleRemoveShare(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	targetID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	project, err := s.resolver.RequirePermission(r.Context(), projectUUIDParam(r), user.ID, permissions.PermissionManage, "")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.sharing.RemoveShare(r.Context(), project, targetID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerateLink(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	project, err := s.resolver.RequirePermission(r.Context(), projectUUIDParam(r), user.ID, permissions.PermissionShare, "")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	token, err := s.sharing.GenerateLink(r.Context(), project, user)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"share_token": token})
}

func (s *Server) handleDisableLink(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	project, err := s.resolver.RequirePermission(r.Context(), projectUUIDParam(r), user.ID, permissions.PermissionShare, "")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	disabled, err := s.sharing.DisableLink(r.Context(), project, user)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"disabled": disabled})
}

// handleAutoJoinViaLink grants the authenticated caller a persistent
// viewer share when they present a valid public link token.
func (s *Server) handleAutoJoinViaLink(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var req autoJoinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ShareToken == "" {
		req.ShareToken = shareTokenParam(r)
	}
	if req.ShareToken == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "share_token is required")
		return
	}

	role, joined, err := s.sharing.AutoJoinViaLink(r.Context(), projectUUIDParam(r), user, req.ShareToken)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"role": role, "joined": joined})
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	token := chi.URLParam(r, "token")
	result, err := s.sharing.AcceptInvite(r.Context(), token, user)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}
