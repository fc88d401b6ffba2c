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

type organizationRepository struct {
	BaseRepository
}

func NewOrganizationRepository(base BaseRepository) repository.OrganizationRepository {
	return &organizationRepository{base}
}

func (r *organizationRepository) Create(ctx context.Context, org *model.Organization) error {
	query := `
		INSERT INTO organizations (
			id, name, slug, status, plan, plan_status,
			cancel_at_period_end, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	org.ID = uuid.New()
	org.CreatedAt = time.Now()
	org.UpdatedAt = org.CreatedAt

	_, err := r.GetDB().ExecContext(ctx, query,
		org.ID,
		org.Name,
		org.Slug,
		org.Status,
		org.Plan,
		org.PlanStatus,
		org.CancelAtPeriodEnd,
		org.CreatedAt,
		org.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrSlugTaken
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (r *organizationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	query := `SELECT * FROM organizations WHERE id = $1`

	var org model.Organization
	if err := r.GetDB().GetContext(ctx, &org, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

func (r *organizationRepository) GetBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	query := `SELECT * FROM organizations WHERE slug = $1`

	var org model.Organization
	if err := r.GetDB().GetContext(ctx, &org, query, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization by slug: %w", err)
	}
	return &org, nil
}

func (r *organizationRepository) GetByBillingCustomerID(ctx context.Context, customerID string) (*model.Organization, error) {
	query := `SELECT * FROM organizations WHERE billing_customer_id = $1`

	var org model.Organization
	if err := r.GetDB().GetContext(ctx, &org, query, customerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization by customer id: %w", err)
	}
	return &org, nil
}

func (r *organizationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.UserStatus) error {
	query := `
		UPDATE organizations
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.GetDB().ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update organization status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *organizationRepository) ListByStatus(ctx context.Context, status model.UserStatus) ([]*model.Organization, error) {
	query := `
		SELECT * FROM organizations
		WHERE status = $1
		ORDER BY created_at
	`

	var orgs []*model.Organization
	if err := r.GetDB().SelectContext(ctx, &orgs, query, status); err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}

func (r *organizationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM organizations WHERE id = $1`

	result, err := r.GetDB().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
