package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/creativecanvas/canvasd/internal/api"
	"github.com/creativecanvas/canvasd/internal/auth"
	"github.com/creativecanvas/canvasd/internal/guest"
	"github.com/creativecanvas/canvasd/internal/permissions"
	"github.com/creativecanvas/canvasd/internal/sharing"
	"github.com/creativecanvas/canvasd/internal/store"
)

// writeDomainError maps service-layer errors onto the error envelope.
// Unknown errors are logged and reported as opaque internal errors.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		api.WriteNotFound(w, "not found")
	case errors.Is(err, permissions.ErrForbidden):
		api.WriteForbidden(w, api.ReasonForbidden, err.Error())
	case errors.Is(err, sharing.ErrInviteExpired):
		api.WriteGone(w, err.Error())
	case errors.Is(err, sharing.ErrSelfShare),
		errors.Is(err, sharing.ErrInvalidRole),
		errors.Is(err, sharing.ErrOwnerImmune),
		errors.Is(err, guest.ErrInvalidGuestID):
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		api.WriteConflict(w, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		api.WriteInternalError(w, "internal server error")
	}
}

// decodeJSON decodes a request body, writing a 400 on failure. The
// returned bool reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "invalid request body")
		return false
	}
	return true
}

// currentUser returns the authenticated user or writes a 401. The auth
// gate populates the context for every protected path, so a miss here
// means the route table and gate disagree.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return nil, false
	}
	return user, true
}

func projectUUIDParam(r *http.Request) string {
	return chi.URLParam(r, "projectUUID")
}

func userIDParam(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, "invalid user id")
		return 0, false
	}
	return uint(id), true
}

func shareTokenParam(r *http.Request) string {
	return r.URL.Query().Get("share_token")
}
