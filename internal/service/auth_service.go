package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/pkg/database"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
)

// ForgotPasswordReply is returned whether or not the address exists.
const ForgotPasswordReply = "If that email exists, a reset link has been sent."

// ResendVerificationReply is returned whether or not the address exists.
const ResendVerificationReply = "If that account is awaiting verification, a new code has been sent."

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	SetResetToken(ctx context.Context, id, tokenHash string, expires time.Time) error
	MarkVerified(ctx context.Context, exec sqlx.ExtContext, id string) error
	SetPassword(ctx context.Context, exec sqlx.ExtContext, id, passwordHash string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type notifier interface {
	SendNow(ctx context.Context, n Notification) error
	Dispatch(n Notification)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	ResetTokenTTL     time.Duration
	AppURL            string
}

// AuthService provides registration, login and credential recovery.
type AuthService struct {
	repo      authUserRepository
	otps      *OTPService
	notify    notifier
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, otps *OTPService, notify notifier, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = time.Hour
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = time.Hour
	}
	return &AuthService{repo: repo, otps: otps, notify: notify, validator: validate, logger: logger, config: config}
}

// Register creates an unverified student account and emails its verification
// code. If the email cannot be sent the account is removed again.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid registration payload")
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

	user := &models.User{
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        req.Email,
		PasswordHash: &hashed,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if _, dup := database.IsUniqueViolation(err); dup {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	challenge, err := s.otps.Issue(ctx, user.ID, models.OTPPurposeRegistration, nil)
	if err != nil {
		s.rollbackRegistration(ctx, user.ID)
		return nil, err
	}

	if err := s.notify.SendNow(ctx, Notification{
		Kind: NotifyVerificationCode,
		To:   []string{user.Email},
		Data: map[string]string{"Name": user.FirstName, "Code": challenge.Code, "TTL": s.otps.TTL().String()},
	}); err != nil {
		s.logger.Error("verification email failed, removing account", zap.String("user_id", user.ID), zap.Error(err))
		s.rollbackRegistration(ctx, user.ID)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to send verification email, please try again")
	}

	s.audit(ctx, &user.ID, models.AuditActionRegister, "auth", `{"status":"registered"}`)
	info := user.Info()
	return &info, nil
}

func (s *AuthService) rollbackRegistration(ctx context.Context, userID string) {
	s.otps.Cancel(ctx, userID, models.OTPPurposeRegistration)
	if err := s.repo.Delete(ctx, userID); err != nil {
		s.logger.Error("failed to remove unverifiable account", zap.String("user_id", userID), zap.Error(err))
	}
}

// VerifyEmail redeems the registration code and marks the account verified.
func (s *AuthService) VerifyEmail(ctx context.Context, req models.VerifyEmailRequest) error {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid verification payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "invalid verification code")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if user.IsVerified {
		return appErrors.Clone(appErrors.ErrConflict, "account is already verified")
	}

	return s.otps.Redeem(ctx, user.ID, models.OTPPurposeRegistration, req.Code,
		func(ctx context.Context, exec sqlx.ExtContext, ch *models.PendingChallenge) error {
			return s.repo.MarkVerified(ctx, exec, ch.UserID)
		})
}

// ResendVerification issues a fresh registration code for unverified
// accounts. The reply never reveals whether the address is registered.
func (s *AuthService) ResendVerification(ctx context.Context, req models.EmailRequest) error {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid email")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("resend verification lookup failed", zap.Error(err))
		}
		return nil
	}
	if user.IsVerified {
		return nil
	}

	challenge, err := s.otps.Issue(ctx, user.ID, models.OTPPurposeRegistration, nil)
	if err != nil {
		return err
	}
	s.notify.Dispatch(Notification{
		Kind: NotifyVerificationCode,
		To:   []string{user.Email},
		Data: map[string]string{"Name": user.FirstName, "Code": challenge.Code, "TTL": s.otps.TTL().String()},
	})
	return nil
}

// Login authenticates a user and returns a signed access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.HasPassword() {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	if !user.IsActive {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	if !user.IsVerified {
		return nil, appErrors.Clone(appErrors.ErrUnverifiedAccount, "please verify your email before signing in")
	}

	token, _, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  []byte(`{"status":"success"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record login audit log", zap.Error(err))
	}

	return &models.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		User:        user.Info(),
	}, nil
}

// ForgotPassword emails a reset link to active accounts. The outcome is not
// revealed to the caller.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.EmailRequest) error {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid email")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("forgot password lookup failed", zap.Error(err))
		}
		return nil
	}
	if !user.IsActive {
		return nil
	}

	token, err := randomToken()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reset token")
	}
	if err := s.repo.SetResetToken(ctx, user.ID, hashToken(token), time.Now().UTC().Add(s.config.ResetTokenTTL)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store reset token")
	}

	s.notify.Dispatch(Notification{
		Kind: NotifyPasswordReset,
		To:   []string{user.Email},
		Data: map[string]string{
			"Name": user.FirstName,
			"Link": s.config.AppURL + "/reset-password?token=" + url.QueryEscape(token),
			"TTL":  s.config.ResetTokenTTL.String(),
		},
	})
	return nil
}

// ResetPassword sets a new password using an emailed reset token.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid reset password payload")
	}

	user, err := s.repo.FindByResetToken(ctx, hashToken(req.Token), time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "reset link is invalid or has expired")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.repo.SetPassword(ctx, nil, user.ID, string(hash)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	s.audit(ctx, &user.ID, models.AuditActionPasswordReset, "auth", `{"status":"reset"}`)
	return nil
}

// RequestPasswordChange stages a new password and emails a confirmation
// code. Accounts without a password may set one without the current password.
func (s *AuthService) RequestPasswordChange(ctx context.Context, userID string, req models.ChangePasswordRequest) (time.Time, error) {
	if err := s.validator.Struct(req); err != nil {
		return time.Time{}, validationError(err, "invalid change password payload")
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if user.HasPassword() {
		if req.CurrentPassword == "" {
			return time.Time{}, appErrors.WithDetails(appErrors.ErrValidation, "current password is required", map[string]string{"current_password": "is required"})
		}
		if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			return time.Time{}, appErrors.Clone(appErrors.ErrForbidden, "current password does not match")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	challenge, err := s.otps.Issue(ctx, user.ID, models.OTPPurposePasswordChange, models.PendingPasswordChange{PasswordHash: string(hash)})
	if err != nil {
		return time.Time{}, err
	}
	s.notify.Dispatch(Notification{
		Kind: NotifyPasswordChangeCode,
		To:   []string{user.Email},
		Data: map[string]string{"Name": user.FirstName, "Code": challenge.Code, "TTL": s.otps.TTL().String()},
	})
	return challenge.ExpiresAt, nil
}

// ConfirmPasswordChange applies the staged password when code matches.
func (s *AuthService) ConfirmPasswordChange(ctx context.Context, userID string, req models.ConfirmCodeRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid confirmation payload")
	}

	err := s.otps.Redeem(ctx, userID, models.OTPPurposePasswordChange, req.Code,
		func(ctx context.Context, exec sqlx.ExtContext, ch *models.PendingChallenge) error {
			var staged models.PendingPasswordChange
			if err := json.Unmarshal(ch.Payload, &staged); err != nil {
				return fmt.Errorf("decode staged password: %w", err)
			}
			if staged.PasswordHash == "" {
				return errors.New("staged password is empty")
			}
			return s.repo.SetPassword(ctx, exec, ch.UserID, staged.PasswordHash)
		})
	if err != nil {
		return err
	}

	s.audit(ctx, &userID, models.AuditActionPasswordChange, "auth", `{"status":"changed"}`)
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	claims.Role = claims.EffectiveRole()
	return claims, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID:       user.ID,
		Email:        user.Email,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		IsAdmin:      user.IsAdmin,
		IsSuperAdmin: user.IsSuperAdmin,
		IsAdviser:    user.IsAdviser,
		IsActive:     user.IsActive,
		Role:         user.Role(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *AuthService) audit(ctx context.Context, userID *string, action, resource, values string) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: userID,
		NewValues:  []byte(values),
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
