package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/pkg/database"
)

// ChallengeApplier applies the effect of a consumed challenge inside the same
// transaction that deleted it.
type ChallengeApplier func(ctx context.Context, exec sqlx.ExtContext, challenge *models.PendingChallenge) error

// OTPRepository persists one outstanding challenge per (user, purpose).
type OTPRepository struct {
	db *sqlx.DB
}

// NewOTPRepository constructs the repository.
func NewOTPRepository(db *sqlx.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

// Upsert stores c, replacing any earlier challenge for the same purpose.
func (r *OTPRepository) Upsert(ctx context.Context, c *models.PendingChallenge) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if len(c.Payload) == 0 {
		c.Payload = []byte("{}")
	}
	const query = `INSERT INTO user_otps (user_id, purpose, code, payload, expires_at, created_at)
	VALUES (:user_id, :purpose, :code, :payload, :expires_at, :created_at)
	ON CONFLICT (user_id, purpose) DO UPDATE SET code = EXCLUDED.code, payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("upsert otp: %w", err)
	}
	return nil
}

// Get returns the outstanding challenge or sql.ErrNoRows.
func (r *OTPRepository) Get(ctx context.Context, userID string, purpose models.OTPPurpose) (*models.PendingChallenge, error) {
	const query = `SELECT user_id, purpose, code, payload, expires_at, created_at FROM user_otps WHERE user_id = $1 AND purpose = $2`
	var c models.PendingChallenge
	if err := r.db.GetContext(ctx, &c, query, userID, purpose); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get otp: %w", err)
	}
	return &c, nil
}

// Consume deletes the challenge matching code and still valid at now, then
// runs apply in the same transaction. It returns sql.ErrNoRows when nothing
// matched, leaving the stored challenge untouched.
func (r *OTPRepository) Consume(ctx context.Context, userID string, purpose models.OTPPurpose, code string, now time.Time, apply ChallengeApplier) error {
	const query = `DELETE FROM user_otps WHERE user_id = $1 AND purpose = $2 AND code = $3 AND expires_at >= $4
	RETURNING user_id, purpose, code, payload, expires_at, created_at`
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var c models.PendingChallenge
		if err := tx.GetContext(ctx, &c, query, userID, purpose, code, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("consume otp: %w", err)
		}
		if apply == nil {
			return nil
		}
		return apply(ctx, tx, &c)
	})
}

// Delete drops a challenge; used when the account it belongs to is rolled back.
func (r *OTPRepository) Delete(ctx context.Context, userID string, purpose models.OTPPurpose) error {
	const query = `DELETE FROM user_otps WHERE user_id = $1 AND purpose = $2`
	if _, err := r.db.ExecContext(ctx, query, userID, purpose); err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

// PurgeExpired removes stale challenges and reports how many were dropped.
func (r *OTPRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM user_otps WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("purge otps: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
