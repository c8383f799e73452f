// Package sharing manages the share, invite and public-link lifecycle
// for projects. Every state-changing operation appends its audit entry
// in the same transaction as the primary mutation.
package sharing

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/creativecanvas/canvasd/internal/permissions"
	"github.com/creativecanvas/canvasd/internal/platform/logutil"
	"github.com/creativecanvas/canvasd/internal/store"
)

// DefaultInviteTTL is how long an email invite stays redeemable.
const DefaultInviteTTL = 7 * 24 * time.Hour

var (
	ErrSelfShare     = errors.New("cannot share a project with yourself")
	ErrInvalidRole   = errors.New("role must be editor or viewer")
	ErrInviteExpired = errors.New("invite has expired")
	ErrOwnerImmune   = errors.New("cannot change the project owner's access")
)

// Service implements the sharing lifecycle.
type Service struct {
	store     store.Store
	resolver  *permissions.Resolver
	inviteTTL time.Duration
	log       *slog.Logger
}

// NewService creates a sharing Service. A zero inviteTTL selects
// DefaultInviteTTL.
func NewService(s store.Store, resolver *permissions.Resolver, inviteTTL time.Duration, log *slog.Logger) *Service {
	if inviteTTL <= 0 {
		inviteTTL = DefaultInviteTTL
	}
	return &Service{
		store:     s,
		resolver:  resolver,
		inviteTTL: inviteTTL,
		log:       logutil.NoopIfNil(log),
	}
}

// ShareResult reports the outcome of a Share call.
type ShareResult struct {
	ShareID     uint   `json:"share_id,omitempty"`
	InviteSent  bool   `json:"invite_sent"`
	InviteToken string `json:"invite_token,omitempty"`
	Message     string `json:"message"`
}

// Share grants role on project to the user behind email. If such a user
// exists the share is upserted (auto-accepted); otherwise a pending
// invite is minted, reusing any live invite for the same (project, email)
// pair.
func (s *Service) Share(ctx context.Context, project *store.Project, inviter *store.User, email string, role store.Role) (*ShareResult, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if email == inviter.Email {
		return nil, ErrSelfShare
	}

	invited, err := s.store.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if invited != nil {
		return s.shareWithUser(ctx, project, inviter, invited, role)
	}
	return s.inviteByEmail(ctx, project, inviter, email, role)
}

func (s *Service) shareWithUser(ctx context.Context, project *store.Project, inviter, invited *store.User, role store.Role) (*ShareResult, error) {
	existing, err := s.store.GetShare(ctx, project.ID, invited.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if existing.Role == role {
			return &ShareResult{
				ShareID: existing.ID,
				Message: fmt.Sprintf("%s already has %s access", invited.Email, role),
			}, nil
		}
		existing.Role = role
		if err := s.store.UpdateShare(ctx, existing); err != nil {
			return nil, err
		}
		return &ShareResult{
			ShareID: existing.ID,
			Message: fmt.Sprintf("updated %s's role to %s", invited.Email, role),
		}, nil
	}

	share := &store.ProjectShare{
		ProjectID: project.ID,
		UserID:    invited.ID,
		Role:      role,
		InvitedBy: inviter.ID,
		// Existing users are auto-accepted.
		AcceptedAt: time.Now().Unix(),
	}
	err = s.store.Tx(ctx, func(tx store.Store) error {
		if err := tx.CreateShare(ctx, share); err != nil {
			return err
		}
		return appendActivity(ctx, tx, project.ID, inviter.ID, store.ActionShared, map[string]any{
			"shared_with": invited.Email,
			"role":        role,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("project shared", "project", project.UUID, "with", invited.Email, "role", role)
	return &ShareResult{
		ShareID:    share.ID,
		InviteSent: true,
		Message:    fmt.Sprintf("shared with %s", invited.Email),
	}, nil
}

func (s *Service) inviteByEmail(ctx context.Context, project *store.Project, inviter *store.User, email string, role store.Role) (*ShareResult, error) {
	now := time.Now()

	pending, err := s.store.GetPendingInvite(ctx, project.ID, email, now.Unix())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if pending != nil {
		return &ShareResult{
			InviteSent:  true,
			InviteToken: pending.Token,
			Message:     fmt.Sprintf("invite already sent to %s", email),
		}, nil
	}

	invite := &store.ShareInvite{
		ProjectID: project.ID,
		Email:     email,
		Role:      role,
		Token:     newToken(),
		InvitedBy: inviter.ID,
		ExpiresAt: now.Add(s.inviteTTL).Unix(),
	}
	if err := s.store.CreateInvite(ctx, invite); err != nil {
		return nil, err
	}

	s.log.Info("invite created", "project", project.UUID, "email", email, "role", role)
	return &ShareResult{
		InviteSent:  true,
		InviteToken: invite.Token,
		Message:     fmt.Sprintf("invite sent to %s", email),
	}, nil
}

// AcceptResult reports the outcome of accepting an invite.
type AcceptResult struct {
	ProjectUUID   string `json:"project_uuid"`
	AlreadyMember bool   `json:"already_member"`
	Message       string `json:"message"`
}

// AcceptInvite redeems an invite token for the authenticated user. The
// invite's email must exactly match the accepting user's email. Share
// creation and the accepted flag are written atomically.
func (s *Service) AcceptInvite(ctx context.Context, token string, user *store.User) (*AcceptResult, error) {
	invite, err := s.store.GetInviteByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if invite.Accepted {
		return nil, store.ErrNotFound
	}
	if invite.ExpiresAt < time.Now().Unix() {
		return nil, ErrInviteExpired
	}
	if invite.Email != user.Email {
		return nil, fmt.Errorf("%w: this invite is for a different email address", permissions.ErrForbidden)
	}

	project, err := s.store.GetProjectByID(ctx, invite.ProjectID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetShare(ctx, invite.ProjectID, user.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		invite.Accepted = true
		if err := s.store.UpdateInvite(ctx, invite); err != nil {
			return nil, err
		}
		return &AcceptResult{
			ProjectUUID:   project.UUID,
			AlreadyMember: true,
			Message:       "you already have access to this project",
		}, nil
	}

	err = s.store.Tx(ctx, func(tx store.Store) error {
		share := &store.ProjectShare{
			ProjectID:  invite.ProjectID,
			UserID:     user.ID,
			Role:       invite.Role,
			InvitedBy:  invite.InvitedBy,
			AcceptedAt: time.Now().Unix(),
		}
		if err := tx.CreateShare(ctx, share); err != nil {
			return err
		}
		invite.Accepted = true
		if err := tx.UpdateInvite(ctx, invite); err != nil {
			return err
		}
		return appendActivity(ctx, tx, invite.ProjectID, user.ID, store.ActionJoined, map[string]any{
			"via_invite": true,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invite accepted", "project", project.UUID, "user", user.Email)
	return &AcceptResult{
		ProjectUUID: project.UUID,
		Message:     "invite accepted",
	}, nil
}

// GenerateLink assigns a public share token to the project if none
// exists. Repeated calls return the existing token unchanged.
func (s *Service) GenerateLink(ctx context.Context, project *store.Project, caller *store.User) (string, error) {
	if project.PublicShareToken != nil {
		return *project.PublicShareToken, nil
	}

	token := newToken()
	project.PublicShareToken = &token
	err := s.store.Tx(ctx, func(tx store.Store) error {
		if err := tx.UpdateProject(ctx, project); err != nil {
			return err
		}
		return appendActivity(ctx, tx, project.ID, caller.ID, store.ActionShared, map[string]any{
			"type": "public_link_generated",
		})
	})
	if err != nil {
		return "", err
	}

	s.log.Info("public link generated", "project", project.UUID)
	return token, nil
}

// DisableLink clears the public share token. Returns false without
// logging when no link was active.
func (s *Service) DisableLink(ctx context.Context, project *store.Project, caller *store.User) (bool, error) {
	if project.PublicShareToken == nil {
		return false, nil
	}

	project.PublicShareToken = nil
	err := s.store.Tx(ctx, func(tx store.Store) error {
		if err := tx.UpdateProject(ctx, project); err != nil {
			return err
		}
		return appendActivity(ctx, tx, project.ID, caller.ID, store.ActionShared, map[string]any{
			"type": "public_link_disabled",
		})
	})
	if err != nil {
		return false, err
	}

	s.log.Info("public link disabled", "project", project.UUID)
	return true, nil
}

// AutoJoinViaLink grants VIEWER to an authenticated user presenting a
// valid public link token. A user with an existing role is left
// untouched; the new share is attributed to the project owner.
func (s *Service) AutoJoinViaLink(ctx context.Context, projectUUID string, user *store.User, shareToken string) (store.Role, bool, error) {
	ok, err := s.resolver.CanAccessViaLink(ctx, projectUUID, shareToken)
	if err != nil {
		return store.RoleNone, false, err
	}
	if !ok {
		return store.RoleNone, false, fmt.Errorf("%w: invalid share token", permissions.ErrForbidden)
	}

	project, err := s.store.GetProjectByUUID(ctx, projectUUID)
	if err != nil {
		return store.RoleNone, false, err
	}

	role, err := s.resolver.ResolveRole(ctx, projectUUID, user.ID)
	if err != nil {
		return store.RoleNone, false, err
	}
	if role != store.RoleNone {
		return role, false, nil
	}

	var invitedBy uint
	if project.OwnerID != nil {
		invitedBy = *project.OwnerID
	}
	err = s.store.Tx(ctx, func(tx store.Store) error {
		share := &store.ProjectShare{
			ProjectID:  project.ID,
			UserID:     user.ID,
			Role:       store.RoleViewer,
			InvitedBy:  invitedBy,
			AcceptedAt: time.Now().Unix(),
		}
		if err := tx.CreateShare(ctx, share); err != nil {
			return err
		}
		return appendActivity(ctx, tx, project.ID, user.ID, store.ActionJoined, map[string]any{
			"via_public_link": true,
		})
	})
	if err != nil {
		return store.RoleNone, false, err
	}

	s.log.Info("auto-joined via link", "project", project.UUID, "user", user.Email)
	return store.RoleViewer, true, nil
}

// MemberInfo describes one principal with access to a project.
type MemberInfo struct {
	UserID     uint       `json:"user_id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       store.Role `json:"role"`
	InvitedAt  int64      `json:"invited_at"`
	AcceptedAt int64      `json:"accepted_at,omitempty"`
}

// PendingInviteInfo describes an outstanding invite.
type PendingInviteInfo struct {
	Email     string     `json:"email"`
	Role      store.Role `json:"role"`
	InvitedAt int64      `json:"invited_at"`
	ExpiresAt int64      `json:"expires_at"`
}

// AccessList is everyone with access plus outstanding invites.
type AccessList struct {
	Users          []MemberInfo        `json:"users"`
	PendingInvites []PendingInviteInfo `json:"pending_invites"`
}

// ListAccess returns the owner, all shares and pending invites for a
// project. The owner row is always first.
func (s *Service) ListAccess(ctx context.Context, project *store.Project) (*AccessList, error) {
	list := &AccessList{
		Users:          []MemberInfo{},
		PendingInvites: []PendingInviteInfo{},
	}

	if project.OwnerID != nil {
		owner, err := s.store.GetUserByID(ctx, *project.OwnerID)
		if err != nil {
			return nil, err
		}
		list.Users = append(list.Users, MemberInfo{
			UserID:     owner.ID,
			Name:       owner.FullName,
			Email:      owner.Email,
			Role:       store.RoleOwner,
			InvitedAt:  project.CreatedAt,
			AcceptedAt: project.CreatedAt,
		})
	}

	shares, err := s.store.ListSharesByProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	for _, share := range shares {
		user, err := s.store.GetUserByID(ctx, share.UserID)
		if err != nil {
			return nil, err
		}
		list.Users = append(list.Users, MemberInfo{
			UserID:     user.ID,
			Name:       user.FullName,
			Email:      user.Email,
			Role:       share.Role,
			InvitedAt:  share.InvitedAt,
			AcceptedAt: share.AcceptedAt,
		})
	}

	invites, err := s.store.ListPendingInvitesByProject(ctx, project.ID, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	for _, invite := range invites {
		list.PendingInvites = append(list.PendingInvites, PendingInviteInfo{
			Email:     invite.Email,
			Role:      invite.Role,
			InvitedAt: invite.InvitedAt,
			ExpiresAt: invite.ExpiresAt,
		})
	}

	return list, nil
}

// UpdateShareRole changes an existing grantee's role. The owner's access
// is not a share and cannot be changed here.
func (s *Service) UpdateShareRole(ctx context.Context, project *store.Project, targetUserID uint, role store.Role) (*store.ProjectShare, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if project.OwnerID != nil && *project.OwnerID == targetUserID {
		return nil, ErrOwnerImmune
	}

	share, err := s.store.GetShare(ctx, project.ID, targetUserID)
	if err != nil {
		return nil, err
	}
	share.Role = role
	if err := s.store.UpdateShare(ctx, share); err != nil {
		return nil, err
	}
	return share, nil
}

// RemoveShare revokes a grantee's access. The owner cannot be removed.
func (s *Service) RemoveShare(ctx context.Context, project *store.Project, targetUserID uint) error {
	if project.OwnerID != nil && *project.OwnerID == targetUserID {
		return ErrOwnerImmune
	}
	return s.store.DeleteShare(ctx, project.ID, targetUserID)
}

func appendActivity(ctx context.Context, tx store.Store, projectID, userID uint, action string, details map[string]any) error {
	var raw json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return err
		}
		raw = b
	}
	return tx.AppendActivity(ctx, &store.ProjectActivity{
		ProjectID: projectID,
		UserID:    userID,
		Action:    action,
		Details:   raw,
	})
}

// newToken mints an unguessable urlsafe token.
func newToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand does not fail on supported platforms
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
