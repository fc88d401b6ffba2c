package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
)

func TestCreateWithQuotaInsertsWhenUnderLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(NewBaseRepository(db))

	appID := uuid.New()
	key := &model.APIKey{
		ApplicationID: appID,
		Name:          "default",
		KeyHash:       "abc123",
		KeyPrefix:     "dk_test_abcd1234",
		Environment:   model.KeyEnvironmentTest,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM applications").
		WithArgs(appID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(appID.String()))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM api_keys`).
		WithArgs(appID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs(sqlmock.AnyArg(), appID, key.Name, key.KeyHash, key.KeyPrefix,
			key.Environment, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.CreateWithQuota(context.Background(), key, 3)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithQuotaRejectsAtLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(NewBaseRepository(db))

	appID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM applications").
		WithArgs(appID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(appID.String()))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM api_keys`).
		WithArgs(appID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	err := repo.CreateWithQuota(context.Background(), &model.APIKey{ApplicationID: appID}, 3)
	assert.ErrorIs(t, err, repository.ErrKeyQuotaExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithQuotaReportsHashCollision(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(NewBaseRepository(db))

	appID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM applications").
		WithArgs(appID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(appID.String()))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM api_keys`).
		WithArgs(appID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.CreateWithQuota(context.Background(), &model.APIKey{ApplicationID: appID}, 3)
	assert.ErrorIs(t, err, repository.ErrDuplicateKeyHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegenerateSwapsInOneTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(NewBaseRepository(db))

	oldID := uuid.New()
	appID := uuid.New()
	replacement := &model.APIKey{
		ApplicationID: appID,
		Name:          "default",
		KeyHash:       "def456",
		KeyPrefix:     "dk_live_efgh5678",
		Environment:   model.KeyEnvironmentLive,
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE api_keys").
		WithArgs(oldID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Regenerate(context.Background(), oldID, replacement)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegenerateMissingOldKeyRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(NewBaseRepository(db))

	oldID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE api_keys").
		WithArgs(oldID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Regenerate(context.Background(), oldID, &model.APIKey{})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeIsTerminal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAPIKeyRepository(NewBaseRepository(db))

	id := uuid.New()

	mock.ExpectExec("UPDATE api_keys").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	revoked, err := repo.Revoke(context.Background(), id)
	assert.NoError(t, err)
	assert.False(t, revoked, "an already-revoked key must not revoke again")
	assert.NoError(t, mock.ExpectationsWereMet())
}
