package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/archivia-api/internal/models"
)

var otpColumns = []string{"user_id", "purpose", "code", "payload", "expires_at", "created_at"}

func TestOTPUpsertOverwrites(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOTPRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id, purpose) DO UPDATE SET code = EXCLUDED.code")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &models.PendingChallenge{UserID: "u1", Purpose: models.OTPPurposeRegistration, Code: "123456", ExpiresAt: time.Now().Add(10 * time.Minute)})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOTPConsumeAppliesInTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOTPRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM user_otps WHERE user_id = $1 AND purpose = $2 AND code = $3 AND expires_at >= $4")).
		WithArgs("u1", models.OTPPurposeProfileUpdate, "123456", now).
		WillReturnRows(sqlmock.NewRows(otpColumns).AddRow("u1", "PROFILE_UPDATE", "123456", []byte(`{"first_name":"Grace"}`), now.Add(time.Minute), now))
	mock.ExpectCommit()

	var applied *models.PendingChallenge
	err := repo.Consume(context.Background(), "u1", models.OTPPurposeProfileUpdate, "123456", now, func(ctx context.Context, exec sqlx.ExtContext, c *models.PendingChallenge) error {
		applied = c
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, applied)
	assert.JSONEq(t, `{"first_name":"Grace"}`, string(applied.Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOTPConsumeRollsBackWhenApplyFails(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOTPRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM user_otps").
		WillReturnRows(sqlmock.NewRows(otpColumns).AddRow("u1", "REGISTRATION", "123456", []byte("{}"), now.Add(time.Minute), now))
	mock.ExpectRollback()

	err := repo.Consume(context.Background(), "u1", models.OTPPurposeRegistration, "123456", now, func(ctx context.Context, exec sqlx.ExtContext, c *models.PendingChallenge) error {
		return errors.New("user vanished")
	})
	require.EqualError(t, err, "user vanished")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOTPConsumeNoMatch(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOTPRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM user_otps").WillReturnRows(sqlmock.NewRows(otpColumns))
	mock.ExpectRollback()

	err := repo.Consume(context.Background(), "u1", models.OTPPurposeRegistration, "000000", time.Now(), nil)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
