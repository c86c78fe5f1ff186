package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/archivia-api/internal/dto"
	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/pkg/database"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	SetActive(ctx context.Context, id string, active bool) error
	RequestArchive(ctx context.Context, id, reason string) error
	ResolveArchive(ctx context.Context, id string, approve bool) error
	Delete(ctx context.Context, id string) error
	ApplyProfile(ctx context.Context, exec sqlx.ExtContext, id string, update models.PendingProfileUpdate) error
	GroupIDsForAdviser(ctx context.Context, adviserID string) ([]string, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UserService handles profile self-service and account management.
type UserService struct {
	repo      userRepository
	otps      *OTPService
	notify    notifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, otps *OTPService, notify notifier, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &UserService{repo: repo, otps: otps, notify: notify, validator: validate, logger: logger}
}

// Profile returns the caller's own account.
func (s *UserService) Profile(ctx context.Context, userID string) (*models.UserInfo, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	info := user.Info()
	return &info, nil
}

// RequestProfileUpdate stages the change and emails a confirmation code.
// Nothing is written to the account until the code is confirmed.
func (s *UserService) RequestProfileUpdate(ctx context.Context, userID string, req dto.UpdateProfileRequest) (time.Time, error) {
	if err := s.validator.Struct(req); err != nil {
		return time.Time{}, validationError(err, "invalid profile payload")
	}
	if req.Empty() {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "no changes supplied")
	}

	user, err := s.load(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}

	staged := models.PendingProfileUpdate{FirstName: trimmed(req.FirstName), LastName: trimmed(req.LastName), Title: trimmed(req.Title)}
	challenge, err := s.otps.Issue(ctx, user.ID, models.OTPPurposeProfileUpdate, staged)
	if err != nil {
		return time.Time{}, err
	}
	s.notify.Dispatch(Notification{
		Kind: NotifyProfileUpdateCode,
		To:   []string{user.Email},
		Data: map[string]string{"Name": user.FirstName, "Code": challenge.Code, "TTL": s.otps.TTL().String()},
	})
	return challenge.ExpiresAt, nil
}

// ConfirmProfileUpdate applies the change staged by RequestProfileUpdate.
func (s *UserService) ConfirmProfileUpdate(ctx context.Context, userID string, req models.ConfirmCodeRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid confirmation payload")
	}

	err := s.otps.Redeem(ctx, userID, models.OTPPurposeProfileUpdate, req.Code,
		func(ctx context.Context, exec sqlx.ExtContext, ch *models.PendingChallenge) error {
			var staged models.PendingProfileUpdate
			if err := json.Unmarshal(ch.Payload, &staged); err != nil {
				return fmt.Errorf("decode staged profile: %w", err)
			}
			return s.repo.ApplyProfile(ctx, exec, ch.UserID, staged)
		})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, userID, models.AuditActionProfileUpdate, userID, `{"status":"confirmed"}`)
	return s.Profile(ctx, userID)
}

// RequestAccountArchive asks a super admin to archive the caller's account.
func (s *UserService) RequestAccountArchive(ctx context.Context, actor Actor, req dto.ReasonRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid archive request")
	}
	if err := s.repo.RequestArchive(ctx, actor.ID, strings.TrimSpace(req.Reason)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "an archive request is already pending")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to request archive")
	}
	s.notify.Dispatch(Notification{
		Kind: NotifyArchiveRequested,
		Role: models.RoleSuperAdmin,
		Data: map[string]string{"Requester": actor.Name, "Title": "the account " + actor.Email, "Reason": req.Reason},
	})
	return nil
}

// List returns the accounts visible to actor. Advisers only see students in
// the groups they advise.
func (s *UserService) List(ctx context.Context, actor Actor, filter models.UserFilter) ([]models.UserInfo, *models.Pagination, error) {
	if !actor.Role.CanManageUsers() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions")
	}
	if !actor.Role.CanManageAllUsers() {
		groups, err := s.repo.GroupIDsForAdviser(ctx, actor.ID)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load advised groups")
		}
		if len(groups) == 0 {
			return []models.UserInfo{}, newPagination(filter.Page, filter.PageSize, 0), nil
		}
		student := models.RoleStudent
		filter.Role = &student
		filter.GroupIDs = groups
	}

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	out := make([]models.UserInfo, 0, len(users))
	for i := range users {
		out = append(out, users[i].Info())
	}
	return out, newPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns one account if actor may manage it.
func (s *UserService) Get(ctx context.Context, actor Actor, id string) (*models.UserInfo, error) {
	user, err := s.manageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	info := user.Info()
	return &info, nil
}

// Create provisions a verified, active account. Advisers may only create
// students inside a group they advise; only super admins create super admins.
func (s *UserService) Create(ctx context.Context, actor Actor, req dto.CreateUserRequest) (*models.UserInfo, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid user payload")
	}
	if !actor.Role.CanManageUsers() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions")
	}

	role := req.Role
	if role == "" {
		role = models.RoleStudent
	}
	if err := s.checkRoleGrant(actor, role); err != nil {
		return nil, err
	}

	groupID := req.GroupID
	if !actor.Role.CanManageAllUsers() {
		groups, err := s.repo.GroupIDsForAdviser(ctx, actor.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load advised groups")
		}
		switch {
		case groupID == nil && len(groups) == 1:
			groupID = &groups[0]
		case groupID == nil || !containsString(groups, *groupID):
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students must be placed in a group you advise")
		}
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	hashed := string(hash)
	isSuper, isAdmin, isAdviser := role.Flags()

	user := &models.User{
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        req.Email,
		PasswordHash: &hashed,
		Title:        trimmed(req.Title),
		IsAdmin:      isAdmin,
		IsSuperAdmin: isSuper,
		IsAdviser:    isAdviser,
		IsActive:     true,
		IsVerified:   true,
		GroupID:      groupID,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if _, dup := database.IsUniqueViolation(err); dup {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.audit(ctx, actor.ID, models.AuditActionUserCreate, user.ID, fmt.Sprintf(`{"role":%q}`, role))
	info := user.Info()
	return &info, nil
}

// Update changes names, title, group or role of a managed account.
func (s *UserService) Update(ctx context.Context, actor Actor, id string, req dto.UpdateUserRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid user payload")
	}
	user, err := s.manageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if v := trimmed(req.FirstName); v != nil {
		user.FirstName = *v
	}
	if v := trimmed(req.LastName); v != nil {
		user.LastName = *v
	}
	if req.Title != nil {
		user.Title = trimmed(req.Title)
	}
	if req.GroupID != nil {
		if !actor.Role.CanManageAllUsers() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "advisers cannot move students between groups")
		}
		user.GroupID = req.GroupID
	}
	if req.Role != nil && *req.Role != user.Role() {
		if !actor.Role.CanManageAllUsers() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions to change roles")
		}
		if actor.ID == user.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot change your own role")
		}
		if err := s.checkRoleGrant(actor, *req.Role); err != nil {
			return nil, err
		}
		user.IsSuperAdmin, user.IsAdmin, user.IsAdviser = req.Role.Flags()
	}

	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	s.audit(ctx, actor.ID, models.AuditActionUserUpdate, user.ID, fmt.Sprintf(`{"role":%q}`, user.Role()))
	info := user.Info()
	return &info, nil
}

// SetActive deactivates or reactivates a managed account.
func (s *UserService) SetActive(ctx context.Context, actor Actor, id string, active bool) error {
	if actor.ID == id {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot change your own status")
	}
	if _, err := s.manageable(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user status")
	}
	s.audit(ctx, actor.ID, models.AuditActionUserUpdate, id, fmt.Sprintf(`{"is_active":%t}`, active))
	return nil
}

// ResolveArchiveRequest approves (deactivating the account) or rejects a
// pending self-archive request.
func (s *UserService) ResolveArchiveRequest(ctx context.Context, actor Actor, id string, approve bool) error {
	if !actor.Role.CanDecideRequests() {
		return appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions")
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.ResolveArchive(ctx, id, approve); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "no pending archive request")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve archive request")
	}

	decision := "declined"
	if approve {
		decision = "approved"
	}
	s.notify.Dispatch(Notification{
		Kind: NotifyAccountArchive,
		To:   []string{user.Email},
		Data: map[string]string{"Name": user.FirstName, "Decision": decision},
	})
	s.audit(ctx, actor.ID, models.AuditActionUserUpdate, id, fmt.Sprintf(`{"archive":%q}`, decision))
	return nil
}

// Delete permanently removes an account.
func (s *UserService) Delete(ctx context.Context, actor Actor, id string) error {
	if !actor.Role.CanDecideRequests() {
		return appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions")
	}
	if actor.ID == id {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot delete your own account")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}
	s.audit(ctx, actor.ID, models.AuditActionUserDelete, id, `{"deleted":true}`)
	return nil
}

// manageable loads id and checks actor may manage it. Accounts outside an
// adviser's groups are reported as missing.
func (s *UserService) manageable(ctx context.Context, actor Actor, id string) (*models.User, error) {
	if !actor.Role.CanManageUsers() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions")
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role.CanManageAllUsers() {
		if user.IsSuperAdmin && actor.Role != models.RoleSuperAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only super admins can manage super admins")
		}
		return user, nil
	}

	groups, err := s.repo.GroupIDsForAdviser(ctx, actor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load advised groups")
	}
	if user.Role() != models.RoleStudent || user.GroupID == nil || !containsString(groups, *user.GroupID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return user, nil
}

func (s *UserService) checkRoleGrant(actor Actor, role models.Role) error {
	if !actor.Role.CanManageAllUsers() && role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrForbidden, "advisers can only manage students")
	}
	if role == models.RoleSuperAdmin && actor.Role != models.RoleSuperAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only super admins can grant super admin")
	}
	return nil
}

func (s *UserService) load(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *UserService) audit(ctx context.Context, actorID, action, resourceID, values string) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "user",
		ResourceID: &resourceID,
		NewValues:  []byte(values),
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func newPagination(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
