package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/creativecanvas/canvasd/internal/api"
	"github.com/creativecanvas/canvasd/internal/auth"
	"github.com/creativecanvas/canvasd/internal/store"
)

type loginRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	TokenType    string      `json:"token_type"`
	User         *store.User `json:"user,omitempty"`
}

// handleLogin issues a token pair for the given email, creating the
// account on first sight. This is the local development flow; a
// production deployment fronts it with an identity provider.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		api.WriteBadRequest(w, api.ReasonMissingField, "a valid email is required")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		fullName := req.FullName
		if fullName == "" {
			fullName = req.Email[:strings.IndexByte(req.Email, '@')]
		}
		user = &store.User{
			Email:      req.Email,
			FullName:   fullName,
			ExternalID: "local:" + req.Email,
		}
		err = s.store.CreateUser(r.Context(), user)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	access, err := s.issuer.IssueAccess(user.ID, user.Email)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	refresh, err := s.issuer.IssueRefresh(user.ID, user.Email)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		User:         user,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleRefresh exchanges a live refresh token for a new access token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "refresh_token is required")
		return
	}

	claims, err := s.issuer.Verify(req.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		reason := api.ReasonTokenInvalid
		if errors.Is(err, auth.ErrTokenExpired) {
			reason = api.ReasonTokenExpired
		}
		api.WriteUnauthorized(w, reason, "could not validate refresh token")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), claims.Subject)
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonTokenInvalid, "could not validate refresh token")
		return
	}

	access, err := s.issuer.IssueAccess(user.ID, user.Email)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: access,
		TokenType:   "bearer",
	})
}

// handleLogout is stateless: tokens expire on their own. The endpoint
// exists so clients have a uniform logout call.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, user)
}
