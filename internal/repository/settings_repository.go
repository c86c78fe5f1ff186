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

const upsertSettingQuery = `INSERT INTO system_settings (key, value, updated_by, updated_at)
VALUES (:key, :value, :updated_by, :updated_at)
ON CONFLICT (key)
DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`

// SettingsRepository persists branding settings.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository constructs the repository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// List returns every stored setting ordered by key.
func (r *SettingsRepository) List(ctx context.Context) ([]models.SystemSetting, error) {
	const query = `SELECT key, value, updated_by, updated_at FROM system_settings ORDER BY key ASC`
	settings := []models.SystemSetting{}
	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return settings, nil
}

// Get fetches a single setting by key.
func (r *SettingsRepository) Get(ctx context.Context, key string) (*models.SystemSetting, error) {
	const query = `SELECT key, value, updated_by, updated_at FROM system_settings WHERE key = $1`
	var setting models.SystemSetting
	if err := r.db.GetContext(ctx, &setting, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return &setting, nil
}

// Upsert writes all settings atomically.
func (r *SettingsRepository) Upsert(ctx context.Context, settings []models.SystemSetting) error {
	if len(settings) == 0 {
		return nil
	}
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		for i := range settings {
			settings[i].UpdatedAt = now
			if _, err := tx.NamedExecContext(ctx, upsertSettingQuery, settings[i]); err != nil {
				return fmt.Errorf("upsert setting %s: %w", settings[i].Key, err)
			}
		}
		return nil
	})
}
