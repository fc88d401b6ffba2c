package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestProcessEventClaimsAndApplies(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBillingRepository(NewBaseRepository(db))

	eventID := "evt_123"
	orgID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs(eventID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE organizations").
		WithArgs(model.PlanStatusActive, orgID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ProcessEvent(context.Background(), eventID, func(tx *sqlx.Tx) error {
		return repo.UpdatePlanStatus(context.Background(), tx, orgID, model.PlanStatusActive)
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEventDuplicateClaimRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBillingRepository(NewBaseRepository(db))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("evt_dup", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	applied := false
	err := repo.ProcessEvent(context.Background(), "evt_dup", func(tx *sqlx.Tx) error {
		applied = true
		return nil
	})
	assert.ErrorIs(t, err, repository.ErrEventAlreadyProcessed)
	assert.False(t, applied, "transition must not run for a duplicate event")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEventFailedTransitionRollsBackClaim(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBillingRepository(NewBaseRepository(db))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("evt_fail", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := repo.ProcessEvent(context.Background(), "evt_fail", func(tx *sqlx.Tx) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
