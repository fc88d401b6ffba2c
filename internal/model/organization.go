package model

import (
	"time"

	"github.com/google/uuid"
)

// Plan is the commercial tier of an organization.
type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanBasic      Plan = "BASIC"
	PlanPremium    Plan = "PREMIUM"
	PlanEnterprise Plan = "ENTERPRISE"
)

// PlanStatus is the provider-derived subscription lifecycle state, distinct
// from the plan tier. Empty means no checkout has ever happened.
type PlanStatus string

const (
	PlanStatusNone       PlanStatus = ""
	PlanStatusActive     PlanStatus = "active"
	PlanStatusTrialing   PlanStatus = "trialing"
	PlanStatusPastDue    PlanStatus = "past_due"
	PlanStatusCanceled   PlanStatus = "canceled"
	PlanStatusUnpaid     PlanStatus = "unpaid"
	PlanStatusIncomplete PlanStatus = "incomplete"
	PlanStatusPaused     PlanStatus = "paused"
)

// Organization is the billing and membership unit. Its slug doubles as the
// subdomain for tenant routing. PlanStatus is owned exclusively by the
// billing reconciler after the first checkout event.
type Organization struct {
	Base
	Name                  string     `json:"name" db:"name"`
	Slug                  string     `json:"slug" db:"slug"`
	Status                UserStatus `json:"status" db:"status"`
	Plan                  Plan       `json:"plan" db:"plan"`
	PlanStatus            PlanStatus `json:"plan_status" db:"plan_status"`
	TrialEndsAt           *time.Time `json:"trial_ends_at,omitempty" db:"trial_ends_at"`
	CancelAtPeriodEnd     bool       `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	BillingCustomerID     *string    `json:"-" db:"billing_customer_id"`
	BillingSubscriptionID *string    `json:"-" db:"billing_subscription_id"`
	AllowedDomain         *string    `json:"allowed_domain,omitempty" db:"allowed_domain"`
}

// TrialExpired reports whether a trialing organization is past its trial end.
func (o *Organization) TrialExpired(now time.Time) bool {
	return o.PlanStatus == PlanStatusTrialing && o.TrialEndsAt != nil && now.After(*o.TrialEndsAt)
}

// Role is a member's role within an organization.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Membership joins a user to an organization with a role.
type Membership struct {
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	Role           Role      `json:"role" db:"role"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// BillingStatus is the read model consumed by dashboard clients.
type BillingStatus struct {
	Plan              Plan       `json:"plan"`
	PlanStatus        PlanStatus `json:"plan_status"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	TrialEndsAt       *time.Time `json:"trial_ends_at,omitempty"`
	Role              Role       `json:"role"`
	IsReady           bool       `json:"is_ready"`
}

// MaxAPIKeys is the per-plan quota of live API keys per application.
func (p Plan) MaxAPIKeys() int {
	switch p {
	case PlanBasic:
		return 5
	case PlanPremium:
		return 10
	case PlanEnterprise:
		return 1000
	default:
		return 3
	}
}
