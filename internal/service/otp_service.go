package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/internal/repository"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
	"github.com/noah-isme/archivia-api/pkg/otp"
)

type otpStore interface {
	Upsert(ctx context.Context, c *models.PendingChallenge) error
	Get(ctx context.Context, userID string, purpose models.OTPPurpose) (*models.PendingChallenge, error)
	Consume(ctx context.Context, userID string, purpose models.OTPPurpose, code string, now time.Time, apply repository.ChallengeApplier) error
	Delete(ctx context.Context, userID string, purpose models.OTPPurpose) error
}

// OTPService issues and redeems one-time codes. Each (user, purpose) has at
// most one outstanding challenge and redeeming it applies the staged change
// in the same transaction.
type OTPService struct {
	store  otpStore
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewOTPService constructs an OTPService. A non-positive ttl uses otp.DefaultTTL.
func NewOTPService(store otpStore, ttl time.Duration, logger *zap.Logger) *OTPService {
	if ttl <= 0 {
		ttl = otp.DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTPService{store: store, ttl: ttl, now: func() time.Time { return time.Now().UTC() }, logger: logger}
}

// TTL is the validity window of issued codes.
func (s *OTPService) TTL() time.Duration {
	return s.ttl
}

// Issue creates a fresh challenge, replacing any outstanding one for the same
// purpose. payload is captured now and applied on redemption.
func (s *OTPService) Issue(ctx context.Context, userID string, purpose models.OTPPurpose, payload interface{}) (*models.PendingChallenge, error) {
	issuedAt := s.now()
	ch, err := otp.Issue(issuedAt, s.ttl)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate code")
	}

	raw := json.RawMessage("{}")
	if payload != nil {
		if raw, err = json.Marshal(payload); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stage change")
		}
	}

	challenge := &models.PendingChallenge{
		UserID:    userID,
		Purpose:   purpose,
		Code:      ch.Code,
		Payload:   raw,
		ExpiresAt: ch.ExpiresAt,
		CreatedAt: issuedAt,
	}
	if err := s.store.Upsert(ctx, challenge); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store code")
	}
	return challenge, nil
}

// Redeem consumes the challenge when code matches and has not expired, then
// runs apply inside the same transaction. Failures wrap otp.ErrNotFound,
// otp.ErrMismatch or otp.ErrExpired.
func (s *OTPService) Redeem(ctx context.Context, userID string, purpose models.OTPPurpose, code string, apply repository.ChallengeApplier) error {
	now := s.now()
	err := s.store.Consume(ctx, userID, purpose, code, now, apply)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm code")
	}
	return s.classify(ctx, userID, purpose, code, now)
}

// Cancel drops the outstanding challenge, if any.
func (s *OTPService) Cancel(ctx context.Context, userID string, purpose models.OTPPurpose) {
	if err := s.store.Delete(ctx, userID, purpose); err != nil {
		s.logger.Warn("failed to drop challenge", zap.String("user_id", userID), zap.String("purpose", string(purpose)), zap.Error(err))
	}
}

func (s *OTPService) classify(ctx context.Context, userID string, purpose models.OTPPurpose, code string, now time.Time) error {
	stored, err := s.store.Get(ctx, userID, purpose)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm code")
	}

	var ch *otp.Challenge
	if stored != nil {
		ch = &otp.Challenge{Code: stored.Code, ExpiresAt: stored.ExpiresAt}
	}
	verr := otp.Validate(ch, code, now)
	switch {
	case errors.Is(verr, otp.ErrExpired):
		return appErrors.Wrap(verr, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "verification code has expired")
	case errors.Is(verr, otp.ErrMismatch):
		return appErrors.Wrap(verr, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification code")
	default:
		// a concurrent redemption won the race
		return appErrors.Wrap(otp.ErrNotFound, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "no pending verification code")
	}
}
