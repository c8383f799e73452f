// Package permissions implements role resolution and permission checks
// for projects. Resolution is pure decision logic over the store: it is
// never cached across calls, because roles can change between calls.
package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/creativecanvas/canvasd/internal/store"
)

// Permission names the operations gated by a resolved role.
type Permission string

const (
	PermissionView   Permission = "view"
	PermissionEdit   Permission = "edit"
	PermissionShare  Permission = "share"
	PermissionDelete Permission = "delete"
	PermissionManage Permission = "manage"
)

// ErrForbidden indicates a resolvable identity lacking the required role,
// or a mismatched share token.
var ErrForbidden = errors.New("forbidden")

// AccessStore is the narrow store surface resolution needs.
type AccessStore interface {
	GetProjectByUUID(ctx context.Context, uuid string) (*store.Project, error)
	GetShare(ctx context.Context, projectID, userID uint) (*store.ProjectShare, error)
}

// ProjectWithRole pairs a project with the role computed for a caller.
// The persisted entity is never mutated to carry a derived role.
type ProjectWithRole struct {
	*store.Project
	Role store.Role `json:"user_role"`
}

// Resolver computes effective roles. Safe for concurrent use.
type Resolver struct {
	store AccessStore
}

// NewResolver creates a Resolver over the given store.
func NewResolver(s AccessStore) *Resolver {
	return &Resolver{store: s}
}

// ResolveRole computes the effective role of userID on the project with
// the given external uuid. Precedence: owner, then share, then none.
// A missing project resolves to RoleNone, not an error.
func (r *Resolver) ResolveRole(ctx context.Context, projectUUID string, userID uint) (store.Role, error) {
	project, err := r.store.GetProjectByUUID(ctx, projectUUID)
	if errors.Is(err, store.ErrNotFound) {
		return store.RoleNone, nil
	}
	if err != nil {
		return store.RoleNone, err
	}

	if project.OwnerID != nil && *project.OwnerID == userID {
		return store.RoleOwner, nil
	}

	share, err := r.store.GetShare(ctx, project.ID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.RoleNone, nil
	}
	if err != nil {
		return store.RoleNone, err
	}
	return share.Role, nil
}

// CanAccessViaLink reports whether the presented share token matches the
// project's public share token. Link access never implies any role.
func (r *Resolver) CanAccessViaLink(ctx context.Context, projectUUID, shareToken string) (bool, error) {
	if shareToken == "" {
		return false, nil
	}
	project, err := r.store.GetProjectByUUID(ctx, projectUUID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if project.PublicShareToken == nil {
		return false, nil
	}
	return *project.PublicShareToken == shareToken, nil
}

// Allows reports whether role grants the given permission.
func Allows(role store.Role, permission Permission) bool {
	switch permission {
	case PermissionView:
		return role == store.RoleOwner || role == store.RoleEditor || role == store.RoleViewer
	case PermissionEdit, PermissionShare:
		return role == store.RoleOwner || role == store.RoleEditor
	case PermissionDelete, PermissionManage:
		return role == store.RoleOwner
	default:
		return false
	}
}

// RequirePermission is the single gate for project operations. It looks
// up the project (store.ErrNotFound if absent), short-circuits to allow
// when permission is view and the presented share token matches, and
// otherwise resolves the role and fails with ErrForbidden when the check
// is false. Returns the project on success.
func (r *Resolver) RequirePermission(ctx context.Context, projectUUID string, userID uint, permission Permission, shareToken string) (*store.Project, error) {
	project, err := r.store.GetProjectByUUID(ctx, projectUUID)
	if err != nil {
		return nil, err
	}

	if permission == PermissionView && shareToken != "" {
		if project.PublicShareToken != nil && *project.PublicShareToken == shareToken {
			return project, nil
		}
	}

	role, err := r.ResolveRole(ctx, projectUUID, userID)
	if err != nil {
		return nil, err
	}
	if !Allows(role, permission) {
		return nil, fmt.Errorf("%w: you do not have permission to %s this project", ErrForbidden, permission)
	}
	return project, nil
}
