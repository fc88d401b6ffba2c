package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/docskit/tenant-api/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEventAlreadyProcessed is returned when an idempotency claim loses
	// to a previous (or concurrent) delivery of the same event id.
	ErrEventAlreadyProcessed = errors.New("event already processed")
	// ErrKeyQuotaExceeded is returned when an insert would exceed the
	// application's live key quota.
	ErrKeyQuotaExceeded = errors.New("api key quota exceeded")
	// ErrDuplicateKeyHash is returned on a key hash uniqueness collision.
	ErrDuplicateKeyHash = errors.New("duplicate api key hash")
	// ErrSlugTaken is returned when an organization slug insert collides.
	ErrSlugTaken = errors.New("organization slug taken")
)

// All repository interfaces in one file
type (
	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		Update(ctx context.Context, user *model.User) error
		Delete(ctx context.Context, id uuid.UUID) error
		ListByStatus(ctx context.Context, status model.UserStatus) ([]*model.User, error)
		MarkVerified(ctx context.Context, id uuid.UUID) error
		MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error
	}

	OrganizationRepository interface {
		Create(ctx context.Context, org *model.Organization) error
		Get(ctx context.Context, id uuid.UUID) (*model.Organization, error)
		GetBySlug(ctx context.Context, slug string) (*model.Organization, error)
		GetByBillingCustomerID(ctx context.Context, customerID string) (*model.Organization, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.UserStatus) error
		ListByStatus(ctx context.Context, status model.UserStatus) ([]*model.Organization, error)
		Delete(ctx context.Context, id uuid.UUID) error
	}

	MembershipRepository interface {
		Create(ctx context.Context, membership *model.Membership) error
		GetRole(ctx context.Context, userID, organizationID uuid.UUID) (model.Role, error)
		ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Membership, error)
		ListByRole(ctx context.Context, organizationID uuid.UUID, role model.Role) ([]*model.Membership, error)
	}

	ApplicationRepository interface {
		Create(ctx context.Context, app *model.Application) error
		Get(ctx context.Context, id uuid.UUID) (*model.Application, error)
		ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]*model.Application, error)
	}

	APIKeyRepository interface {
		// CreateWithQuota inserts the key only if the application holds
		// fewer than maxKeys non-revoked keys, in one transaction.
		CreateWithQuota(ctx context.Context, key *model.APIKey, maxKeys int) error
		Get(ctx context.Context, id uuid.UUID) (*model.APIKey, error)
		GetByHash(ctx context.Context, hash string) (*model.APIKey, *model.Application, error)
		List(ctx context.Context, applicationID uuid.UUID) ([]*model.APIKey, error)
		CountActive(ctx context.Context, applicationID uuid.UUID) (int, error)
		Revoke(ctx context.Context, id uuid.UUID) (bool, error)
		// Regenerate revokes the old key and inserts its replacement in a
		// single transaction.
		Regenerate(ctx context.Context, oldID uuid.UUID, replacement *model.APIKey) error
		TouchLastUsed(ctx context.Context, id uuid.UUID) error
	}

	TokenRepository interface {
		StoreVerificationToken(ctx context.Context, userID uuid.UUID, token string, expiry time.Time) error
		ValidateVerificationToken(ctx context.Context, token string) (uuid.UUID, error)
		InvalidateVerificationToken(ctx context.Context, token string) error
	}

	// BillingRepository owns the idempotency claim and the billing-state
	// transitions. ProcessEvent claims eventID and runs apply inside the
	// same transaction; a lost claim returns ErrEventAlreadyProcessed with
	// no transition applied.
	BillingRepository interface {
		ProcessEvent(ctx context.Context, eventID string, apply func(tx *sqlx.Tx) error) error
		AttachCheckout(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID, customerID, subscriptionID string, plan *model.Plan, trialEndsAt time.Time) error
		UpdatePlanStatus(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID, status model.PlanStatus) error
		SyncSubscription(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID, status model.PlanStatus, trialEndsAt *time.Time, cancelAtPeriodEnd bool) error
		ClearSubscription(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID) error
	}
)
