package auth_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/creativecanvas/canvasd/internal/auth"
	"github.com/creativecanvas/canvasd/internal/store/testutil"

	_ "github.com/creativecanvas/canvasd/internal/store/sqlite"
)

func newIssuer(t *testing.T) *auth.Issuer {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret", time.Hour, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	return issuer
}

func TestIssueAndVerifyAccess(t *testing.T) {
	issuer := newIssuer(t)

	token, err := issuer.IssueAccess(42, "alice@example.com")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	claims, err := issuer.Verify(token, auth.TokenTypeAccess)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("expected user_id 42, got %d", claims.UserID)
	}
	if claims.Subject != "alice@example.com" {
		t.Errorf("expected subject alice@example.com, got %q", claims.Subject)
	}
}

func TestVerifyRejectsWrongType(t *testing.T) {
	issuer := newIssuer(t)

	refresh, err := issuer.IssueRefresh(42, "alice@example.com")
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}

	if _, err := issuer.Verify(refresh, auth.TokenTypeAccess); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for refresh-as-access, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer, err := auth.NewIssuer("test-secret", -time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}

	token, err := issuer.IssueAccess(1, "alice@example.com")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	if _, err := issuer.Verify(token, auth.TokenTypeAccess); !errors.Is(err, auth.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := newIssuer(t)
	other, err := auth.NewIssuer("other-secret", time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}

	token, err := issuer.IssueAccess(1, "alice@example.com")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	if _, err := other.Verify(token, auth.TokenTypeAccess); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}
}

func TestGateMiddleware(t *testing.T) {
	s := testutil.NewStore(t, "sqlite")
	user := testutil.SeedUser(t, s, "alice@example.com")
	issuer := newIssuer(t)

	gate := auth.NewGate(auth.GateConfig{
		RequireAuth: func(path string) bool { return path != "/public" },
		Issuer:      issuer,
		Users:       s,
	})

	var gotUser bool
	handler := gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, gotUser = auth.UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// No token on a protected path.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	// Public path passes through without a token.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/public", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 on public path, got %d", rec.Code)
	}

	// Valid bearer token enriches the context.
	token, err := issuer.IssueAccess(user.ID, user.Email)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", rec.Code)
	}
	if !gotUser {
		t.Error("expected user in request context")
	}

	// Token for a user that no longer exists.
	ghost, err := issuer.IssueAccess(9999, "ghost@example.com")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer "+ghost)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown subject, got %d", rec.Code)
	}
}
