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

type membershipRepository struct {
	BaseRepository
}

func NewMembershipRepository(base BaseRepository) repository.MembershipRepository {
	return &membershipRepository{base}
}

func (r *membershipRepository) Create(ctx context.Context, membership *model.Membership) error {
	query := `
		INSERT INTO memberships (user_id, organization_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`

	membership.CreatedAt = time.Now()

	_, err := r.GetDB().ExecContext(ctx, query,
		membership.UserID,
		membership.OrganizationID,
		membership.Role,
		membership.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

func (r *membershipRepository) GetRole(ctx context.Context, userID, organizationID uuid.UUID) (model.Role, error) {
	query := `
		SELECT role FROM memberships
		WHERE user_id = $1 AND organization_id = $2
	`

	var role model.Role
	if err := r.GetDB().GetContext(ctx, &role, query, userID, organizationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("failed to get membership role: %w", err)
	}
	return role, nil
}

func (r *membershipRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Membership, error) {
	query := `
		SELECT user_id, organization_id, role, created_at
		FROM memberships
		WHERE user_id = $1
		ORDER BY created_at
	`

	var memberships []*model.Membership
	if err := r.GetDB().SelectContext(ctx, &memberships, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return memberships, nil
}

func (r *membershipRepository) ListByRole(ctx context.Context, organizationID uuid.UUID, role model.Role) ([]*model.Membership, error) {
	query := `
		SELECT user_id, organization_id, role, created_at
		FROM memberships
		WHERE organization_id = $1 AND role = $2
		ORDER BY created_at
	`

	var memberships []*model.Membership
	if err := r.GetDB().SelectContext(ctx, &memberships, query, organizationID, role); err != nil {
		return nil, fmt.Errorf("failed to list memberships by role: %w", err)
	}
	return memberships, nil
}
