// Package testutil provides shared test helpers for store driver tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/creativecanvas/canvasd/internal/store"
)

// NewStore creates and initializes a store against a temp directory,
// registering cleanup on t.
func NewStore(t *testing.T, driverName string) store.Store {
	t.Helper()

	s, err := store.New(&store.DriverConfig{
		Driver:  driverName,
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create %s driver: %v", driverName, err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("failed to init %s driver: %v", driverName, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// SeedUser creates a user with the given email.
func SeedUser(t *testing.T, s store.Store, email string) *store.User {
	t.Helper()

	user := &store.User{
		Email:      email,
		FullName:   "Test User",
		ExternalID: "ext-" + email,
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser(%s) failed: %v", email, err)
	}
	return user
}

// SeedProject creates a project owned by the given user.
func SeedProject(t *testing.T, s store.Store, uuid string, ownerID uint) *store.Project {
	t.Helper()

	project := &store.Project{
		UUID:    uuid,
		Title:   "Test Project",
		OwnerID: &ownerID,
	}
	if err := s.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("CreateProject(%s) failed: %v", uuid, err)
	}
	return project
}

// SeedGuestProject creates an unclaimed guest project.
func SeedGuestProject(t *testing.T, s store.Store, uuid, guestID string) *store.Project {
	t.Helper()

	expires := time.Now().Add(30 * 24 * time.Hour).Unix()
	project := &store.Project{
		UUID:           uuid,
		Title:          "Guest Project",
		GuestID:        &guestID,
		GuestExpiresAt: &expires,
	}
	if err := s.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("CreateProject(%s) failed: %v", uuid, err)
	}
	return project
}

// SeedShare grants role on project to user, auto-accepted.
func SeedShare(t *testing.T, s store.Store, projectID, userID uint, role store.Role, invitedBy uint) *store.ProjectShare {
	t.Helper()

	share := &store.ProjectShare{
		ProjectID:  projectID,
		UserID:     userID,
		Role:       role,
		InvitedBy:  invitedBy,
		AcceptedAt: time.Now().Unix(),
	}
	if err := s.CreateShare(context.Background(), share); err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}
	return share
}
