package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/archivia-api/internal/models"
)

func TestSettingsRepositoryList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSettingsRepository(db)

	mock.ExpectQuery("SELECT key, value, updated_by, updated_at FROM system_settings").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_by", "updated_at"}).
			AddRow("site_name", "Archivia", nil, time.Now()))

	settings, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, "Archivia", settings[0].Value)
}

func TestSettingsRepositoryUpsertIsAtomic(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSettingsRepository(db)

	admin := "admin-1"
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO system_settings").
		WithArgs("site_name", "Archivia", admin, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO system_settings").
		WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	err := repo.Upsert(context.Background(), []models.SystemSetting{
		{Key: "site_name", Value: "Archivia", UpdatedBy: &admin},
		{Key: "theme", Value: "dark", UpdatedBy: &admin},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
