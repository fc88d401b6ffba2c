package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
)

type apiKeyRepository struct {
	BaseRepository
}

func NewAPIKeyRepository(base BaseRepository) repository.APIKeyRepository {
	return &apiKeyRepository{base}
}

// CreateWithQuota serializes issuance per application by locking the
// application row, so two concurrent creates cannot jointly exceed the
// quota. Hash collisions surface as ErrDuplicateKeyHash for the service's
// bounded retry.
func (r *apiKeyRepository) CreateWithQuota(ctx context.Context, key *model.APIKey, maxKeys int) error {
	key.ID = uuid.New()
	key.CreatedAt = time.Now()
	key.UpdatedAt = key.CreatedAt

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var appID uuid.UUID
		lock := `SELECT id FROM applications WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &appID, lock, key.ApplicationID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("failed to lock application: %w", err)
		}

		var count int
		countQuery := `
			SELECT COUNT(*) FROM api_keys
			WHERE application_id = $1 AND revoked_at IS NULL
		`
		if err := tx.GetContext(ctx, &count, countQuery, key.ApplicationID); err != nil {
			return fmt.Errorf("failed to count api keys: %w", err)
		}
		if count >= maxKeys {
			return repository.ErrKeyQuotaExceeded
		}

		return insertAPIKey(ctx, tx, key)
	})
}

func insertAPIKey(ctx context.Context, tx *sqlx.Tx, key *model.APIKey) error {
	query := `
		INSERT INTO api_keys (
			id, application_id, name, key_hash, key_prefix,
			environment, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := tx.ExecContext(ctx, query,
		key.ID,
		key.ApplicationID,
		key.Name,
		key.KeyHash,
		key.KeyPrefix,
		key.Environment,
		key.ExpiresAt,
		key.CreatedAt,
		key.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKeyHash
		}
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

func (r *apiKeyRepository) Get(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	query := `SELECT * FROM api_keys WHERE id = $1`

	var key model.APIKey
	if err := r.GetDB().GetContext(ctx, &key, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &key, nil
}

// GetByHash is the verification lookup: one read joining the owning
// application; revocation and expiry are judged by the caller.
func (r *apiKeyRepository) GetByHash(ctx context.Context, hash string) (*model.APIKey, *model.Application, error) {
	query := `
		SELECT
			k.id, k.application_id, k.name, k.key_hash, k.key_prefix,
			k.environment, k.expires_at, k.revoked_at, k.last_used_at,
			k.created_at, k.updated_at,
			a.id AS app_id, a.organization_id AS app_organization_id,
			a.name AS app_name, a.allowed_domain AS app_allowed_domain,
			a.created_at AS app_created_at, a.updated_at AS app_updated_at
		FROM api_keys k
		JOIN applications a ON a.id = k.application_id
		WHERE k.key_hash = $1
	`

	var row struct {
		model.APIKey
		AppID             uuid.UUID `db:"app_id"`
		AppOrganizationID uuid.UUID `db:"app_organization_id"`
		AppName           string    `db:"app_name"`
		AppAllowedDomain  *string   `db:"app_allowed_domain"`
		AppCreatedAt      time.Time `db:"app_created_at"`
		AppUpdatedAt      time.Time `db:"app_updated_at"`
	}
	if err := r.GetDB().GetContext(ctx, &row, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, repository.ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	app := &model.Application{
		Base: model.Base{
			ID:        row.AppID,
			CreatedAt: row.AppCreatedAt,
			UpdatedAt: row.AppUpdatedAt,
		},
		OrganizationID: row.AppOrganizationID,
		Name:           row.AppName,
		AllowedDomain:  row.AppAllowedDomain,
	}
	return &row.APIKey, app, nil
}

func (r *apiKeyRepository) List(ctx context.Context, applicationID uuid.UUID) ([]*model.APIKey, error) {
	query := `
		SELECT * FROM api_keys
		WHERE application_id = $1
		ORDER BY created_at DESC
	`

	var keys []*model.APIKey
	if err := r.GetDB().SelectContext(ctx, &keys, query, applicationID); err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

func (r *apiKeyRepository) CountActive(ctx context.Context, applicationID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM api_keys
		WHERE application_id = $1 AND revoked_at IS NULL
	`

	var count int
	if err := r.GetDB().GetContext(ctx, &count, query, applicationID); err != nil {
		return 0, fmt.Errorf("failed to count api keys: %w", err)
	}
	return count, nil
}

// Revoke is terminal; an already-revoked key reports false.
func (r *apiKeyRepository) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE api_keys
		SET revoked_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`

	result, err := r.GetDB().ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Regenerate revokes the old key and inserts the replacement atomically. A
// crash mid-way leaves the old key live; the swap either completes or
// never happened.
func (r *apiKeyRepository) Regenerate(ctx context.Context, oldID uuid.UUID, replacement *model.APIKey) error {
	replacement.ID = uuid.New()
	replacement.CreatedAt = time.Now()
	replacement.UpdatedAt = replacement.CreatedAt

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		revoke := `
			UPDATE api_keys
			SET revoked_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND revoked_at IS NULL
		`
		result, err := tx.ExecContext(ctx, revoke, oldID)
		if err != nil {
			return fmt.Errorf("failed to revoke api key: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return repository.ErrNotFound
		}

		return insertAPIKey(ctx, tx, replacement)
	})
}

func (r *apiKeyRepository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE api_keys
		SET last_used_at = NOW()
		WHERE id = $1
	`

	_, err := r.GetDB().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}
