// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/creativecanvas/canvasd/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements the store.Store interface using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init initializes the SQLite database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, "canvas.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	if err := db.AutoMigrate(
		&store.User{},
		&store.Project{},
		&store.ProjectShare{},
		&store.ShareInvite{},
		&store.ProjectActivity{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Tx runs fn inside a database transaction.
func (d *Driver) Tx(ctx context.Context, fn func(tx store.Store) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Driver{dataDir: d.dataDir, db: tx})
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrAlreadyExists
	default:
		return err
	}
}

// UserStore implementation

// CreateUser creates a new user record.
func (d *Driver) CreateUser(ctx context.Context, user *store.User) error {
	if user.CreatedAt == 0 {
		user.CreatedAt = time.Now().Unix()
	}
	return translate(d.db.WithContext(ctx).Create(user).Error)
}

// GetUserByID retrieves a user by internal id.
func (d *Driver) GetUserByID(ctx context.Context, id uint) (*store.User, error) {
	var user store.User
	if err := d.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email. Matching is exact and
// case-sensitive.
func (d *Driver) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	var user store.User
	if err := d.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// GetUserByExternalID retrieves a user by the external identity key.
func (d *Driver) GetUserByExternalID(ctx context.Context, externalID string) (*store.User, error) {
	var user store.User
	if err := d.db.WithContext(ctx).First(&user, "external_id = ?", externalID).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// ProjectStore implementation

// CreateProject creates a new project.
func (d *Driver) CreateProject(ctx context.Context, project *store.Project) error {
	now := time.Now().Unix()
	if project.CreatedAt == 0 {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	return translate(d.db.WithContext(ctx).Create(project).Error)
}

// GetProjectByUUID retrieves a project by its external identifier.
func (d *Driver) GetProjectByUUID(ctx context.Context, uuid string) (*store.Project, error) {
	var project store.Project
	if err := d.db.WithContext(ctx).First(&project, "uuid = ?", uuid).Error; err != nil {
		return nil, translate(err)
	}
	return &project, nil
}

// GetProjectByID retrieves a project by internal id.
func (d *Driver) GetProjectByID(ctx context.Context, id uint) (*store.Project, error) {
	var project store.Project
	if err := d.db.WithContext(ctx).First(&project, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &project, nil
}

// UpdateProject saves the full project record.
func (d *Driver) UpdateProject(ctx context.Context, project *store.Project) error {
	project.UpdatedAt = time.Now().Unix()
	return translate(d.db.WithContext(ctx).Save(project).Error)
}

// DeleteProject deletes a project by uuid.
func (d *Driver) DeleteProject(ctx context.Context, uuid string) error {
	result := d.db.WithContext(ctx).Where("uuid = ?", uuid).Delete(&store.Project{})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListProjectsByOwner lists projects owned by the given user.
func (d *Driver) ListProjectsByOwner(ctx context.Context, userID uint) ([]*store.Project, error) {
	var projects []*store.Project
	if err := d.db.WithContext(ctx).Where("owner_id = ?", userID).Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, translate(err)
	}
	return projects, nil
}

// ListProjectsByIDs lists projects by internal ids.
func (d *Driver) ListProjectsByIDs(ctx context.Context, ids []uint) ([]*store.Project, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var projects []*store.Project
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&projects).Error; err != nil {
		return nil, translate(err)
	}
	return projects, nil
}

// GuestStore implementation

// GetGuestProject retrieves a guest project scoped by uuid AND guest id.
// A guest id mismatch is reported as not found, never as a permission
// error, so guest ids cannot be probed.
func (d *Driver) GetGuestProject(ctx context.Context, uuid, guestID string) (*store.Project, error) {
	var project store.Project
	err := d.db.WithContext(ctx).
		First(&project, "uuid = ? AND guest_id = ?", uuid, guestID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &project, nil
}

// ListGuestProjects lists projects held by the given guest id.
func (d *Driver) ListGuestProjects(ctx context.Context, guestID string) ([]*store.Project, error) {
	var projects []*store.Project
	err := d.db.WithContext(ctx).
		Where("guest_id = ?", guestID).Order("created_at DESC").Find(&projects).Error
	if err != nil {
		return nil, translate(err)
	}
	return projects, nil
}

// ClaimGuestProjects transfers every project held by guestID to userID in
// one transaction. Already-claimed projects no longer match the guest_id
// filter, so repeated claims are naturally idempotent.
func (d *Driver) ClaimGuestProjects(ctx context.Context, guestID string, userID uint, uuids []string) ([]*store.Project, error) {
	var claimed []*store.Project
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("guest_id = ?", guestID)
		if len(uuids) > 0 {
			q = q.Where("uuid IN ?", uuids)
		}
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(claimed))
		for _, p := range claimed {
			ids = append(ids, p.ID)
		}
		updates := map[string]any{
			"owner_id":         userID,
			"guest_id":         nil,
			"guest_expires_at": nil,
			"updated_at":       time.Now().Unix(),
		}
		if err := tx.Model(&store.Project{}).Where("id IN ?", ids).Updates(updates).Error; err != nil {
			return err
		}

		for _, p := range claimed {
			p.OwnerID = &userID
			p.GuestID = nil
			p.GuestExpiresAt = nil
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return claimed, nil
}

// ShareStore implementation

// CreateShare creates a new project share.
func (d *Driver) CreateShare(ctx context.Context, share *store.ProjectShare) error {
	if share.InvitedAt == 0 {
		share.InvitedAt = time.Now().Unix()
	}
	return translate(d.db.WithContext(ctx).Create(share).Error)
}

// GetShare retrieves the share for (project, user), if any.
func (d *Driver) GetShare(ctx context.Context, projectID, userID uint) (*store.ProjectShare, error) {
	var share store.ProjectShare
	err := d.db.WithContext(ctx).
		First(&share, "project_id = ? AND user_id = ?", projectID, userID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &share, nil
}

// UpdateShare saves the full share record.
func (d *Driver) UpdateShare(ctx context.Context, share *store.ProjectShare) error {
	return translate(d.db.WithContext(ctx).Save(share).Error)
}

// DeleteShare removes the share for (project, user).
func (d *Driver) DeleteShare(ctx context.Context, projectID, userID uint) error {
	result := d.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Delete(&store.ProjectShare{})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListSharesByProject lists all shares on a project.
func (d *Driver) ListSharesByProject(ctx context.Context, projectID uint) ([]*store.ProjectShare, error) {
	var shares []*store.ProjectShare
	if err := d.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&shares).Error; err != nil {
		return nil, translate(err)
	}
	return shares, nil
}

// ListSharesForUser lists all shares granted to a user.
func (d *Driver) ListSharesForUser(ctx context.Context, userID uint) ([]*store.ProjectShare, error) {
	var shares []*store.ProjectShare
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).Find(&shares).Error; err != nil {
		return nil, translate(err)
	}
	return shares, nil
}

// InviteStore implementation

// CreateInvite creates a new share invite.
func (d *Driver) CreateInvite(ctx context.Context, invite *store.ShareInvite) error {
	if invite.InvitedAt == 0 {
		invite.InvitedAt = time.Now().Unix()
	}
	return translate(d.db.WithContext(ctx).Create(invite).Error)
}

// GetInviteByToken retrieves an invite by token.
func (d *Driver) GetInviteByToken(ctx context.Context, token string) (*store.ShareInvite, error) {
	var invite store.ShareInvite
	if err := d.db.WithContext(ctx).First(&invite, "token = ?", token).Error; err != nil {
		return nil, translate(err)
	}
	return &invite, nil
}

// GetPendingInvite retrieves the live non-accepted invite for
// (project, email).
func (d *Driver) GetPendingInvite(ctx context.Context, projectID uint, email string, now int64) (*store.ShareInvite, error) {
	var invite store.ShareInvite
	err := d.db.WithContext(ctx).
		First(&invite, "project_id = ? AND email = ? AND accepted = ? AND expires_at > ?", projectID, email, false, now).Error
	if err != nil {
		return nil, translate(err)
	}
	return &invite, nil
}

// UpdateInvite saves the full invite record.
func (d *Driver) UpdateInvite(ctx context.Context, invite *store.ShareInvite) error {
	return translate(d.db.WithContext(ctx).Save(invite).Error)
}

// ListPendingInvitesByProject lists non-accepted, non-expired invites.
func (d *Driver) ListPendingInvitesByProject(ctx context.Context, projectID uint, now int64) ([]*store.ShareInvite, error) {
	var invites []*store.ShareInvite
	err := d.db.WithContext(ctx).
		Where("project_id = ? AND accepted = ? AND expires_at > ?", projectID, false, now).
		Find(&invites).Error
	if err != nil {
		return nil, translate(err)
	}
	return invites, nil
}

// ActivityStore implementation

// AppendActivity appends an audit entry. Entries are write-only.
func (d *Driver) AppendActivity(ctx context.Context, activity *store.ProjectActivity) error {
	if activity.CreatedAt == 0 {
		activity.CreatedAt = time.Now().Unix()
	}
	return translate(d.db.WithContext(ctx).Create(activity).Error)
}

// ListActivityByProject lists audit entries for a project, newest first.
func (d *Driver) ListActivityByProject(ctx context.Context, projectID uint) ([]*store.ProjectActivity, error) {
	var entries []*store.ProjectActivity
	err := d.db.WithContext(ctx).
		Where("project_id = ?", projectID).Order("created_at DESC").Find(&entries).Error
	if err != nil {
		return nil, translate(err)
	}
	return entries, nil
}
