package permissions_test

import (
	"context"
	"errors"
	"testing"

	"github.com/creativecanvas/canvasd/internal/permissions"
	"github.com/creativecanvas/canvasd/internal/store"
	"github.com/creativecanvas/canvasd/internal/store/testutil"

	_ "github.com/creativecanvas/canvasd/internal/store/sqlite"
)

func TestResolveRolePrecedence(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t, "sqlite")
	resolver := permissions.NewResolver(s)

	owner := testutil.SeedUser(t, s, "owner@example.com")
	editor := testutil.SeedUser(t, s, "editor@example.com")
	viewer := testutil.SeedUser(t, s, "viewer@example.com")
	outsider := testutil.SeedUser(t, s, "outsider@example.com")
	project := testutil.SeedProject(t, s, "p1", owner.ID)
	testutil.SeedShare(t, s, project.ID, editor.ID, store.RoleEditor, owner.ID)
	testutil.SeedShare(t, s, project.ID, viewer.ID, store.RoleViewer, owner.ID)

	// Owner wins even when a share row also exists for them.
	testutil.SeedShare(t, s, project.ID, owner.ID, store.RoleViewer, owner.ID)

	tests := []struct {
		name   string
		userID uint
		want   store.Role
	}{
		{"owner outranks own share row", owner.ID, store.RoleOwner},
		{"editor via share", editor.ID, store.RoleEditor},
		{"viewer via share", viewer.ID, store.RoleViewer},
		{"no access", outsider.ID, store.RoleNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.ResolveRole(ctx, "p1", tt.userID)
			if err != nil {
				t.Fatalf("ResolveRole failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected role %q, got %q", tt.want, got)
			}
		})
	}

	// Missing project resolves to no access, not an error.
	got, err := resolver.ResolveRole(ctx, "missing", owner.ID)
	if err != nil {
		t.Fatalf("ResolveRole on missing project failed: %v", err)
	}
	if got != store.RoleNone {
		t.Errorf("expected RoleNone for missing project, got %q", got)
	}
}

func TestAllows(t *testing.T) {
	tests := []struct {
		role store.Role
		perm permissions.Permission
		want bool
	}{
		{store.RoleOwner, permissions.PermissionView, true},
		{store.RoleOwner, permissions.PermissionEdit, true},
		{store.RoleOwner, permissions.PermissionShare, true},
		{store.RoleOwner, permissions.PermissionDelete, true},
		{store.RoleOwner, permissions.PermissionManage, true},
		{store.RoleEditor, permissions.PermissionView, true},
		{store.RoleEditor, permissions.PermissionEdit, true},
		{store.RoleEditor, permissions.PermissionShare, true},
		{store.RoleEditor, permissions.PermissionDelete, false},
		{store.RoleEditor, permissions.PermissionManage, false},
		{store.RoleViewer, permissions.PermissionView, true},
		{store.RoleViewer, permissions.PermissionEdit, false},
		{store.RoleViewer, permissions.PermissionShare, false},
		{store.RoleNone, permissions.PermissionView, false},
	}
	for _, tt := range tests {
		if got := permissions.Allows(tt.role, tt.perm); got != tt.want {
			t.Errorf("Allows(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestRequirePermission(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t, "sqlite")
	resolver := permissions.NewResolver(s)

	owner := testutil.SeedUser(t, s, "owner@example.com")
	viewer := testutil.SeedUser(t, s, "viewer@example.com")
	project := testutil.SeedProject(t, s, "p1", owner.ID)
	testutil.SeedShare(t, s, project.ID, viewer.ID, store.RoleViewer, owner.ID)

	// Missing project fails NotFound before any permission logic runs.
	if _, err := resolver.RequirePermission(ctx, "missing", owner.ID, permissions.PermissionView, ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Viewer can view but not edit.
	if _, err := resolver.RequirePermission(ctx, "p1", viewer.ID, permissions.PermissionView, ""); err != nil {
		t.Errorf("expected viewer to view, got %v", err)
	}
	if _, err := resolver.RequirePermission(ctx, "p1", viewer.ID, permissions.PermissionEdit, ""); !errors.Is(err, permissions.ErrForbidden) {
		t.Errorf("expected ErrForbidden for viewer edit, got %v", err)
	}

	// Owner passes everything.
	for _, perm := range []permissions.Permission{
		permissions.PermissionView, permissions.PermissionEdit,
		permissions.PermissionShare, permissions.PermissionDelete,
		permissions.PermissionManage,
	} {
		if _, err := resolver.RequirePermission(ctx, "p1", owner.ID, perm, ""); err != nil {
			t.Errorf("expected owner to pass %s, got %v", perm, err)
		}
	}
}

func TestRequirePermissionShareToken(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t, "sqlite")
	resolver := permissions.NewResolver(s)

	owner := testutil.SeedUser(t, s, "owner@example.com")
	stranger := testutil.SeedUser(t, s, "stranger@example.com")
	project := testutil.SeedProject(t, s, "p1", owner.ID)

	token := "link-token"
	project.PublicShareToken = &token
	if err := s.UpdateProject(ctx, project); err != nil {
		t.Fatalf("UpdateProject failed: %v", err)
	}

	// A matching token grants view to a user with no role.
	if _, err := resolver.RequirePermission(ctx, "p1", stranger.ID, permissions.PermissionView, token); err != nil {
		t.Errorf("expected link view to pass, got %v", err)
	}

	// The token grants nothing beyond view.
	if _, err := resolver.RequirePermission(ctx, "p1", stranger.ID, permissions.PermissionEdit, token); !errors.Is(err, permissions.ErrForbidden) {
		t.Errorf("expected ErrForbidden for link edit, got %v", err)
	}

	// A wrong token falls through to role resolution and fails.
	if _, err := resolver.RequirePermission(ctx, "p1", stranger.ID, permissions.PermissionView, "wrong"); !errors.Is(err, permissions.ErrForbidden) {
		t.Errorf("expected ErrForbidden for wrong token, got %v", err)
	}

	ok, err := resolver.CanAccessViaLink(ctx, "p1", token)
	if err != nil || !ok {
		t.Errorf("expected CanAccessViaLink true, got %v/%v", ok, err)
	}
	ok, _ = resolver.CanAccessViaLink(ctx, "p1", "")
	if ok {
		t.Error("empty token must never grant link access")
	}
}
