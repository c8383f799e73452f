package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/creativecanvas/canvasd/internal/api"
	"github.com/creativecanvas/canvasd/internal/auth"
)

// RouteGroup defines an endpoint group with its auth requirements.
type RouteGroup struct {
	Name         string
	PathPrefix   string
	RequiresAuth bool
}

// routeGroups defines all endpoint groups and their auth requirements.
// This table is the single source of truth for routing decisions.
var routeGroups = []RouteGroup{
	{Name: "guest", PathPrefix: "/guest", RequiresAuth: false}, // guest id header, not bearer auth
	{Name: "ws", PathPrefix: "/ws", RequiresAuth: false},       // token verified during the upgrade handshake
	{Name: "api", PathPrefix: "/api", RequiresAuth: true},
}

// GetRouteGroups returns the route group definitions for testing.
func GetRouteGroups() []RouteGroup {
	return routeGroups
}

// publicExceptions are specific paths that don't require auth within
// otherwise protected groups.
var publicExceptions = []string{
	"/api/healthz",
	"/api/auth/login",
	"/api/auth/refresh",
	"/api/public",
}

// authExceptions are paths inside public groups that do require a
// bearer token. Claiming guest projects binds them to a real account.
var authExceptions = []string{
	"/guest/claim",
}

// IsAuthRequired checks if a given path requires authentication.
// This is used by the auth middleware to make gating decisions.
func IsAuthRequired(path string) bool {
	for _, exc := range authExceptions {
		if pathMatchesPrefix(path, exc) {
			return true
		}
	}
	for _, exc := range publicExceptions {
		if pathMatchesPrefix(path, exc) {
			return false
		}
	}
	for _, rg := range routeGroups {
		if pathMatchesPrefix(path, rg.PathPrefix) {
			return rg.RequiresAuth
		}
	}
	// Default: require auth for unknown paths
	return true
}

// pathMatchesPrefix checks if path equals or is a subpath of prefix.
func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		if path[len(prefix)] == '/' {
			return true
		}
	}
	return false
}

// setupRoutes creates the chi router with all route groups mounted.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// RequestID must come first so GetReqID works in the access log.
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Use(auth.NewGate(auth.GateConfig{
		RequireAuth: IsAuthRequired,
		Issuer:      s.issuer,
		Users:       s.store,
		Log:         s.logger,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", s.handleHealthz)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)

			r.Route("/{projectUUID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Patch("/", s.handleUpdateProject)
				r.Delete("/", s.handleDeleteProject)
				r.Get("/activity", s.handleListActivity)

				r.Post("/share", s.handleShare)
				r.Get("/shares", s.handleListShares)
				r.Patch("/shares/{userID}", s.handleUpdateShareRole)
				r.Delete("/shares/{userID}", s.handleRemoveShare)
				r.Post("/generate-link", s.handleGenerateLink)
				r.Post("/disable-link", s.handleDisableLink)
				r.Post("/auto-join-via-link", s.handleAutoJoinViaLink)
			})
		})

		r.Post("/invites/{token}/accept", s.handleAcceptInvite)

		r.Route("/public/projects/{projectUUID}", func(r chi.Router) {
			r.Get("/", s.handlePublicProject)
			r.Get("/metadata", s.handlePublicMetadata)
			r.Get("/export", s.handlePublicExport)
		})
	})

	r.Route("/guest", func(r chi.Router) {
		r.Post("/token", s.handleGuestToken)
		r.Post("/projects", s.handleGuestCreateProject)
		r.Get("/projects", s.handleGuestListProjects)
		r.Get("/projects/{projectUUID}", s.handleGuestGetProject)
		r.Patch("/projects/{projectUUID}", s.handleGuestUpdateProject)
		r.Post("/claim", s.handleGuestClaim)
	})

	r.Get("/ws", s.wsHandler.ServeHTTP)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
