package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/archivia-api/internal/models"
)

const userColumns = `id, first_name, last_name, email, password_hash, title, is_admin, is_super_admin, is_adviser, is_active, is_verified, group_id, archive_requested, archive_reason, reset_password_token, reset_password_expires, last_login, created_at, updated_at`

// UserRepository provides database access for accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// ext picks the caller's transaction when given one.
func (r *UserRepository) ext(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// FindByEmail returns a user by email address (case-insensitive).
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByResetToken returns the user holding an unexpired reset token hash.
func (r *UserRepository) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE reset_password_token = $1 AND reset_password_expires > $2 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, tokenHash, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by reset token: %w", err)
	}
	return &user, nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		switch *filter.Role {
		case models.RoleSuperAdmin:
			conditions = append(conditions, "is_super_admin = TRUE")
		case models.RoleAdmin:
			conditions = append(conditions, "is_admin = TRUE AND is_super_admin = FALSE")
		case models.RoleAdviser:
			conditions = append(conditions, "is_adviser = TRUE AND is_admin = FALSE AND is_super_admin = FALSE")
		default:
			conditions = append(conditions, "is_adviser = FALSE AND is_admin = FALSE AND is_super_admin = FALSE")
		}
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.ArchiveRequested != nil {
		conditions = append(conditions, fmt.Sprintf("archive_requested = $%d", len(args)+1))
		args = append(args, *filter.ArchiveRequested)
	}
	if filter.GroupIDs != nil {
		conditions = append(conditions, fmt.Sprintf("group_id = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.GroupIDs))
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(first_name || ' ' || last_name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"email":      true,
		"created_at": true,
		"last_name":  true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// ListEmailsByRole returns the addresses of active accounts holding role.
func (r *UserRepository) ListEmailsByRole(ctx context.Context, role models.Role) ([]string, error) {
	var cond string
	switch role {
	case models.RoleSuperAdmin:
		cond = "is_super_admin = TRUE"
	case models.RoleAdmin:
		cond = "is_admin = TRUE"
	case models.RoleAdviser:
		cond = "is_adviser = TRUE"
	default:
		return nil, fmt.Errorf("list emails: unsupported role %q", role)
	}
	query := `SELECT email FROM users WHERE is_active = TRUE AND ` + cond + ` ORDER BY email`
	var emails []string
	if err := r.db.SelectContext(ctx, &emails, query); err != nil {
		return nil, fmt.Errorf("list emails by role: %w", err)
	}
	return emails, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, first_name, last_name, email, password_hash, title, is_admin, is_super_admin, is_adviser, is_active, is_verified, group_id, created_at, updated_at) VALUES (:id, :first_name, :last_name, :email, :password_hash, :title, :is_admin, :is_super_admin, :is_adviser, :is_active, :is_verified, :group_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update writes names, title, role flags and group.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET first_name = :first_name, last_name = :last_name, title = :title, is_admin = :is_admin, is_super_admin = :is_super_admin, is_adviser = :is_adviser, group_id = :group_id, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return expectAffected(res, "update user")
}

// SetActive activates or deactivates an account. Reactivation also clears a
// pending self-archive request.
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE users SET is_active = $2, archive_requested = FALSE, archive_reason = NULL, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return expectAffected(res, "set user active")
}

// RequestArchive records a self-archive request; it fails with sql.ErrNoRows
// if one is already pending.
func (r *UserRepository) RequestArchive(ctx context.Context, id, reason string) error {
	const query = `UPDATE users SET archive_requested = TRUE, archive_reason = $2, updated_at = $3 WHERE id = $1 AND archive_requested = FALSE AND is_active = TRUE`
	res, err := r.db.ExecContext(ctx, query, id, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("request account archive: %w", err)
	}
	return expectAffected(res, "request account archive")
}

// ResolveArchive settles a pending account archive request. Approval
// deactivates the account.
func (r *UserRepository) ResolveArchive(ctx context.Context, id string, approve bool) error {
	const query = `UPDATE users SET archive_requested = FALSE, is_active = CASE WHEN $2 THEN FALSE ELSE is_active END, archive_reason = CASE WHEN $2 THEN archive_reason ELSE NULL END, updated_at = $3 WHERE id = $1 AND archive_requested = TRUE`
	res, err := r.db.ExecContext(ctx, query, id, approve, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("resolve account archive: %w", err)
	}
	return expectAffected(res, "resolve account archive")
}

// Delete permanently removes an account.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return expectAffected(res, "delete user")
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// SetResetToken stores the hash of a password reset token.
func (r *UserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error {
	const query = `UPDATE users SET reset_password_token = $2, reset_password_expires = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, tokenHash, expires, time.Now().UTC()); err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// MarkVerified flips the verified flag. exec may be a transaction.
func (r *UserRepository) MarkVerified(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE users SET is_verified = TRUE, updated_at = $2 WHERE id = $1`
	res, err := r.ext(exec).ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}
	return expectAffected(res, "mark user verified")
}

// SetPassword replaces the password hash and invalidates any reset token.
// exec may be a transaction.
func (r *UserRepository) SetPassword(ctx context.Context, exec sqlx.ExtContext, id, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2, reset_password_token = NULL, reset_password_expires = NULL, updated_at = $3 WHERE id = $1`
	res, err := r.ext(exec).ExecContext(ctx, query, id, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return expectAffected(res, "set password")
}

// ApplyProfile writes a staged profile change; nil fields are left as is.
// exec may be a transaction.
func (r *UserRepository) ApplyProfile(ctx context.Context, exec sqlx.ExtContext, id string, update models.PendingProfileUpdate) error {
	const query = `UPDATE users SET first_name = COALESCE($2, first_name), last_name = COALESCE($3, last_name), title = COALESCE($4, title), updated_at = $5 WHERE id = $1`
	res, err := r.ext(exec).ExecContext(ctx, query, id, update.FirstName, update.LastName, update.Title, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("apply profile update: %w", err)
	}
	return expectAffected(res, "apply profile update")
}

// GroupIDsForAdviser lists the groups an adviser manages.
func (r *UserRepository) GroupIDsForAdviser(ctx context.Context, adviserID string) ([]string, error) {
	const query = `SELECT id FROM groups WHERE adviser_id = $1 ORDER BY name`
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, query, adviserID); err != nil {
		return nil, fmt.Errorf("list adviser groups: %w", err)
	}
	return ids, nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func expectAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
