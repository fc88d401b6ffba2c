package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
)

type billingRepository struct {
	BaseRepository
}

func NewBillingRepository(base BaseRepository) repository.BillingRepository {
	return &billingRepository{base}
}

// ProcessEvent claims the event id and applies the transition in one
// transaction. The claim insert relies on the primary key of
// processed_events: a lost race rolls the whole transaction back and
// reports ErrEventAlreadyProcessed, so a claim can never be recorded
// without its transition.
func (r *billingRepository) ProcessEvent(ctx context.Context, eventID string, apply func(tx *sqlx.Tx) error) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		claim := `INSERT INTO processed_events (id, created_at) VALUES ($1, $2)`
		if _, err := tx.ExecContext(ctx, claim, eventID, time.Now()); err != nil {
			if isUniqueViolation(err) {
				return repository.ErrEventAlreadyProcessed
			}
			return fmt.Errorf("failed to claim event: %w", err)
		}

		return apply(tx)
	})
}

func (r *billingRepository) AttachCheckout(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID, customerID, subscriptionID string, plan *model.Plan, trialEndsAt time.Time) error {
	if plan != nil {
		query := `
			UPDATE organizations
			SET billing_customer_id = $1, billing_subscription_id = $2,
				plan_status = $3, trial_ends_at = $4, plan = $5, updated_at = NOW()
			WHERE id = $6
		`
		if _, err := tx.ExecContext(ctx, query, customerID, subscriptionID,
			model.PlanStatusTrialing, trialEndsAt, *plan, orgID); err != nil {
			return fmt.Errorf("failed to attach checkout: %w", err)
		}
		return nil
	}

	query := `
		UPDATE organizations
		SET billing_customer_id = $1, billing_subscription_id = $2,
			plan_status = $3, trial_ends_at = $4, updated_at = NOW()
		WHERE id = $5
	`
	if _, err := tx.ExecContext(ctx, query, customerID, subscriptionID,
		model.PlanStatusTrialing, trialEndsAt, orgID); err != nil {
		return fmt.Errorf("failed to attach checkout: %w", err)
	}
	return nil
}

func (r *billingRepository) UpdatePlanStatus(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID, status model.PlanStatus) error {
	query := `
		UPDATE organizations
		SET plan_status = $1, updated_at = NOW()
		WHERE id = $2
	`
	if _, err := tx.ExecContext(ctx, query, status, orgID); err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	return nil
}

func (r *billingRepository) SyncSubscription(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID, status model.PlanStatus, trialEndsAt *time.Time, cancelAtPeriodEnd bool) error {
	query := `
		UPDATE organizations
		SET plan_status = $1, trial_ends_at = $2, cancel_at_period_end = $3, updated_at = NOW()
		WHERE id = $4
	`
	if _, err := tx.ExecContext(ctx, query, status, trialEndsAt, cancelAtPeriodEnd, orgID); err != nil {
		return fmt.Errorf("failed to sync subscription: %w", err)
	}
	return nil
}

func (r *billingRepository) ClearSubscription(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID) error {
	query := `
		UPDATE organizations
		SET plan_status = $1, billing_subscription_id = NULL, updated_at = NOW()
		WHERE id = $2
	`
	if _, err := tx.ExecContext(ctx, query, model.PlanStatusCanceled, orgID); err != nil {
		return fmt.Errorf("failed to clear subscription: %w", err)
	}
	return nil
}
