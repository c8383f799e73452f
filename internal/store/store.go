// Package store provides persistence primitives and driver abstractions
// for the canvas access model: users, projects, shares, invites and the
// activity audit trail.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")
)

// Role is the access level a principal holds on a project.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"

	// RoleNone is the zero value: no resolvable access.
	RoleNone Role = ""
)

// Valid reports whether r is a role that can be stored on a share.
// Owner is never stored in project_shares; it is implied by ownership.
func (r Role) Valid() bool {
	return r == RoleEditor || r == RoleViewer
}

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, run migrations).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (sqlite).
	Name() string
}

// User is an identity record. Immutable once created except FullName.
type User struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	Email      string `json:"email" gorm:"uniqueIndex;size:255"`
	FullName   string `json:"full_name"`
	ExternalID string `json:"external_id,omitempty" gorm:"uniqueIndex;size:255"`
	CreatedAt  int64  `json:"created_at"`
}

// Project is a canvas document. Exactly one of OwnerID and GuestID is set
// after creation settles: claimed projects have an owner, guest projects
// carry the opaque guest identifier plus its expiry.
type Project struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	UUID        string          `json:"uuid" gorm:"uniqueIndex;size:64"`
	Title       string          `json:"title" gorm:"index;size:255"`
	CanvasState json.RawMessage `json:"canvas_state,omitempty"`

	OwnerID *uint `json:"owner_id,omitempty"`

	// Guest ownership fields, cleared atomically on claim.
	GuestID        *string `json:"guest_id,omitempty" gorm:"index;size:64"`
	GuestExpiresAt *int64  `json:"guest_expires_at,omitempty"`

	// PublicShareToken grants anonymous view access while set.
	PublicShareToken *string `json:"public_share_token,omitempty" gorm:"index;size:64"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// ProjectShare is a durable grant of editor or viewer access to one user
// on one project. Unique per (project, user) pair.
type ProjectShare struct {
	ID        uint  `json:"id" gorm:"primaryKey"`
	ProjectID uint  `json:"project_id" gorm:"uniqueIndex:idx_project_user"`
	UserID    uint  `json:"user_id" gorm:"uniqueIndex:idx_project_user"`
	Role      Role  `json:"role" gorm:"size:16"`
	InvitedBy uint  `json:"invited_by"`
	InvitedAt int64 `json:"invited_at"`
	// AcceptedAt is zero until the grantee accepts. Shares created for
	// existing users are auto-accepted at creation time.
	AcceptedAt int64 `json:"accepted_at,omitempty"`
}

// ShareInvite is a pending grant addressed to an email that may not yet
// correspond to a User. Expired invites are never deleted automatically.
type ShareInvite struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	ProjectID uint   `json:"project_id" gorm:"index"`
	Email     string `json:"email" gorm:"index;size:255"`
	Role      Role   `json:"role" gorm:"size:16"`
	Token     string `json:"token" gorm:"uniqueIndex;size:64"`
	InvitedBy uint   `json:"invited_by"`
	InvitedAt int64  `json:"invited_at"`
	ExpiresAt int64  `json:"expires_at"`
	Accepted  bool   `json:"accepted"`
}

// Activity action kinds.
const (
	ActionCreated = "created"
	ActionEdited  = "edited"
	ActionShared  = "shared"
	ActionDeleted = "deleted"
	ActionRenamed = "renamed"
	ActionJoined  = "joined"
	ActionLeft    = "left"
)

// ProjectActivity is an append-only audit entry. Never mutated or deleted.
type ProjectActivity struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	ProjectID uint            `json:"project_id" gorm:"index"`
	UserID    uint            `json:"user_id"`
	Action    string          `json:"action" gorm:"size:32"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// UserStore defines operations for user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id uint) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)
}

// ProjectStore defines operations for project persistence.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *Project) error
	GetProjectByUUID(ctx context.Context, uuid string) (*Project, error)
	GetProjectByID(ctx context.Context, id uint) (*Project, error)
	UpdateProject(ctx context.Context, project *Project) error
	DeleteProject(ctx context.Context, uuid string) error
	ListProjectsByOwner(ctx context.Context, userID uint) ([]*Project, error)
	ListProjectsByIDs(ctx context.Context, ids []uint) ([]*Project, error)
}

// GuestStore defines operations scoped to guest-owned projects. Every
// lookup filters on both the project uuid and the presented guest id, so
// a wrong guest id is indistinguishable from absence.
type GuestStore interface {
	GetGuestProject(ctx context.Context, uuid, guestID string) (*Project, error)
	ListGuestProjects(ctx context.Context, guestID string) ([]*Project, error)

	// ClaimGuestProjects atomically transfers every project held by
	// guestID (optionally restricted to the uuids subset) to userID,
	// clearing the guest fields. Returns the claimed projects.
	ClaimGuestProjects(ctx context.Context, guestID string, userID uint, uuids []string) ([]*Project, error)
}

// ShareStore defines operations for share persistence.
type ShareStore interface {
	CreateShare(ctx context.Context, share *ProjectShare) error
	GetShare(ctx context.Context, projectID, userID uint) (*ProjectShare, error)
	UpdateShare(ctx context.Context, share *ProjectShare) error
	DeleteShare(ctx context.Context, projectID, userID uint) error
	ListSharesByProject(ctx context.Context, projectID uint) ([]*ProjectShare, error)
	ListSharesForUser(ctx context.Context, userID uint) ([]*ProjectShare, error)
}

// InviteStore defines operations for invite persistence.
type InviteStore interface {
	CreateInvite(ctx context.Context, invite *ShareInvite) error
	GetInviteByToken(ctx context.Context, token string) (*ShareInvite, error)

	// GetPendingInvite returns the non-accepted invite for (project, email)
	// expiring after now, if any. Expired rows stay behind as dead data
	// and must never shadow a live invite.
	GetPendingInvite(ctx context.Context, projectID uint, email string, now int64) (*ShareInvite, error)
	UpdateInvite(ctx context.Context, invite *ShareInvite) error

	// ListPendingInvitesByProject returns non-accepted invites expiring
	// after now.
	ListPendingInvitesByProject(ctx context.Context, projectID uint, now int64) ([]*ShareInvite, error)
}

// ActivityStore defines operations for the audit trail.
type ActivityStore interface {
	AppendActivity(ctx context.Context, activity *ProjectActivity) error
	ListActivityByProject(ctx context.Context, projectID uint) ([]*ProjectActivity, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	Driver
	UserStore
	ProjectStore
	GuestStore
	ShareStore
	InviteStore
	ActivityStore

	// Tx runs fn inside a transaction. The Store passed to fn operates on
	// the transaction; any error rolls the whole transaction back.
	Tx(ctx context.Context, fn func(tx Store) error) error
}
