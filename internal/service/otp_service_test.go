package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/pkg/otp"
)

func TestOTPServiceSingleUse(t *testing.T) {
	store := newMemOTPStore()
	svc := NewOTPService(store, 0, nil)
	ctx := context.Background()

	ch, err := svc.Issue(ctx, "u1", models.OTPPurposeRegistration, nil)
	require.NoError(t, err)

	applied := 0
	apply := func(context.Context, sqlx.ExtContext, *models.PendingChallenge) error {
		applied++
		return nil
	}
	require.NoError(t, svc.Redeem(ctx, "u1", models.OTPPurposeRegistration, ch.Code, apply))
	err = svc.Redeem(ctx, "u1", models.OTPPurposeRegistration, ch.Code, apply)
	assert.True(t, errors.Is(err, otp.ErrNotFound))
	assert.Equal(t, 1, applied)
}

func TestOTPServiceExpiry(t *testing.T) {
	store := newMemOTPStore()
	svc := NewOTPService(store, 10*time.Minute, nil)
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }
	ctx := context.Background()

	ch, err := svc.Issue(ctx, "u1", models.OTPPurposeProfileUpdate, models.PendingProfileUpdate{})
	require.NoError(t, err)
	assert.Equal(t, issued.Add(10*time.Minute), ch.ExpiresAt)

	svc.now = func() time.Time { return issued.Add(10*time.Minute + time.Second) }
	err = svc.Redeem(ctx, "u1", models.OTPPurposeProfileUpdate, ch.Code, nil)
	assert.True(t, errors.Is(err, otp.ErrExpired))
}

func TestOTPServiceReissueInvalidatesPrevious(t *testing.T) {
	store := newMemOTPStore()
	svc := NewOTPService(store, 0, nil)
	ctx := context.Background()

	first, err := svc.Issue(ctx, "u1", models.OTPPurposeRegistration, nil)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, "u1", models.OTPPurposeRegistration, nil)
	require.NoError(t, err)
	assert.Len(t, store.challenges, 1)

	if first.Code != second.Code {
		err = svc.Redeem(ctx, "u1", models.OTPPurposeRegistration, first.Code, nil)
		assert.True(t, errors.Is(err, otp.ErrMismatch))
	}
	assert.NoError(t, svc.Redeem(ctx, "u1", models.OTPPurposeRegistration, second.Code, nil))
}

func TestOTPServiceApplyFailureKeepsChallenge(t *testing.T) {
	store := newMemOTPStore()
	svc := NewOTPService(store, 0, nil)
	ctx := context.Background()
	ch, err := svc.Issue(ctx, "u1", models.OTPPurposePasswordChange, nil)
	require.NoError(t, err)

	err = svc.Redeem(ctx, "u1", models.OTPPurposePasswordChange, ch.Code, func(context.Context, sqlx.ExtContext, *models.PendingChallenge) error {
		return errBoom
	})
	require.Error(t, err)
	_, err = store.Get(ctx, "u1", models.OTPPurposePasswordChange)
	assert.NoError(t, err)
}

func TestOTPServiceUnknownChallenge(t *testing.T) {
	svc := NewOTPService(newMemOTPStore(), 0, nil)
	err := svc.Redeem(context.Background(), "nobody", models.OTPPurposeRegistration, "123456", nil)
	assert.True(t, errors.Is(err, otp.ErrNotFound))
}
