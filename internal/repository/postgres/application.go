package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
)

type applicationRepository struct {
	BaseRepository
}

func NewApplicationRepository(base BaseRepository) repository.ApplicationRepository {
	return &applicationRepository{base}
}

func (r *applicationRepository) Create(ctx context.Context, app *model.Application) error {
	query := `
		INSERT INTO applications (
			id, organization_id, name, allowed_domain, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	app.ID = uuid.New()
	app.CreatedAt = time.Now()
	app.UpdatedAt = app.CreatedAt

	_, err := r.GetDB().ExecContext(ctx, query,
		app.ID,
		app.OrganizationID,
		app.Name,
		app.AllowedDomain,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

func (r *applicationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Application, error) {
	query := `SELECT * FROM applications WHERE id = $1`

	var app model.Application
	if err := r.GetDB().GetContext(ctx, &app, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return &app, nil
}

func (r *applicationRepository) ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]*model.Application, error) {
	query := `
		SELECT * FROM applications
		WHERE organization_id = $1
		ORDER BY created_at
	`

	var apps []*model.Application
	if err := r.GetDB().SelectContext(ctx, &apps, query, organizationID); err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return apps, nil
}
