// Package guest manages projects created without an authenticated owner.
// Guests hold an opaque identifier that works as a bearer capability:
// the server trusts whatever string is presented and scopes every lookup
// to it, so a wrong identifier is indistinguishable from absence.
package guest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/creativecanvas/canvasd/internal/platform/logutil"
	"github.com/creativecanvas/canvasd/internal/store"
)

// DefaultRetention is how long an unclaimed guest project is retained.
const DefaultRetention = 30 * 24 * time.Hour

// ErrInvalidGuestID indicates a missing or blank guest identifier.
var ErrInvalidGuestID = errors.New("invalid guest id")

// Tracker manages guest-owned projects and their one-time claim.
type Tracker struct {
	store     store.Store
	retention time.Duration
	log       *slog.Logger
}

// NewTracker creates a Tracker. A zero retention selects DefaultRetention.
func NewTracker(s store.Store, retention time.Duration, log *slog.Logger) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{
		store:     s,
		retention: retention,
		log:       logutil.NoopIfNil(log),
	}
}

// Identity is a freshly minted guest identifier.
type Identity struct {
	GuestID   string `json:"guest_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// NewIdentity mints an opaque guest identifier with its retention expiry.
// Nothing is persisted until the guest creates a project.
func (t *Tracker) NewIdentity() Identity {
	return Identity{
		GuestID:   uuid.NewString(),
		ExpiresAt: time.Now().Add(t.retention).Unix(),
	}
}

// CreateProject creates a project held by the given guest id.
func (t *Tracker) CreateProject(ctx context.Context, guestID, title string, canvasState json.RawMessage) (*store.Project, error) {
	if guestID == "" {
		return nil, ErrInvalidGuestID
	}

	expires := time.Now().Add(t.retention).Unix()
	project := &store.Project{
		UUID:           uuid.NewString(),
		Title:          title,
		CanvasState:    canvasState,
		GuestID:        &guestID,
		GuestExpiresAt: &expires,
	}
	if err := t.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}

	t.log.Info("guest project created", "project", project.UUID)
	return project, nil
}

// GetProject retrieves a guest project scoped by (uuid, guest id).
func (t *Tracker) GetProject(ctx context.Context, projectUUID, guestID string) (*store.Project, error) {
	if guestID == "" {
		return nil, ErrInvalidGuestID
	}
	return t.store.GetGuestProject(ctx, projectUUID, guestID)
}

// UpdateProject updates the title and/or canvas state of a guest project,
// scoped by (uuid, guest id).
func (t *Tracker) UpdateProject(ctx context.Context, projectUUID, guestID string, title *string, canvasState json.RawMessage) (*store.Project, error) {
	project, err := t.GetProject(ctx, projectUUID, guestID)
	if err != nil {
		return nil, err
	}
	if title != nil {
		project.Title = *title
	}
	if canvasState != nil {
		project.CanvasState = canvasState
	}
	if err := t.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// ListProjects lists projects held by the guest id.
func (t *Tracker) ListProjects(ctx context.Context, guestID string) ([]*store.Project, error) {
	if guestID == "" {
		return nil, ErrInvalidGuestID
	}
	return t.store.ListGuestProjects(ctx, guestID)
}

// Claim transfers every project held by guestID (optionally restricted
// to the uuids subset) to the authenticated user in one transaction, and
// returns the claimed project uuids. Already-claimed projects no longer
// match the guest filter, so the call is idempotent.
func (t *Tracker) Claim(ctx context.Context, guestID string, user *store.User, uuids []string) ([]string, error) {
	if guestID == "" {
		return nil, ErrInvalidGuestID
	}

	claimed, err := t.store.ClaimGuestProjects(ctx, guestID, user.ID, uuids)
	if err != nil {
		return nil, err
	}

	claimedUUIDs := make([]string, 0, len(claimed))
	for _, p := range claimed {
		claimedUUIDs = append(claimedUUIDs, p.UUID)
	}
	if len(claimedUUIDs) > 0 {
		t.log.Info("guest projects claimed", "user", user.Email, "count", len(claimedUUIDs))
	}
	return claimedUUIDs, nil
}
