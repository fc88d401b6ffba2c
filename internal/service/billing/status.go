package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
	apperrors "github.com/docskit/tenant-api/pkg/errors"
)

// Service is the dashboard-facing billing surface: the status read model
// and session creation against the provider.
type Service struct {
	orgRepo        repository.OrganizationRepository
	membershipRepo repository.MembershipRepository
	checkout       CheckoutClient
}

func NewService(
	orgRepo repository.OrganizationRepository,
	membershipRepo repository.MembershipRepository,
	checkout CheckoutClient,
) *Service {
	return &Service{
		orgRepo:        orgRepo,
		membershipRepo: membershipRepo,
		checkout:       checkout,
	}
}

// GetStatus assembles the billing read model for one member of an
// organization. IsReady means the workspace accepts normal work: an
// active subscription or a trial that has not run out.
func (s *Service) GetStatus(ctx context.Context, orgID, userID uuid.UUID) (*model.BillingStatus, error) {
	org, err := s.orgRepo.Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("organization", err)
		}
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}

	role, err := s.membershipRepo.GetRole(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.AuthFailure("not a member of this organization")
		}
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}

	now := time.Now()
	ready := org.PlanStatus == model.PlanStatusActive ||
		(org.PlanStatus == model.PlanStatusTrialing && !org.TrialExpired(now))

	return &model.BillingStatus{
		Plan:              org.Plan,
		PlanStatus:        org.PlanStatus,
		CancelAtPeriodEnd: org.CancelAtPeriodEnd,
		TrialEndsAt:       org.TrialEndsAt,
		Role:              role,
		IsReady:           ready,
	}, nil
}

// StartCheckout creates a provider checkout session for the organization.
func (s *Service) StartCheckout(ctx context.Context, orgID uuid.UUID, plan model.Plan) (string, error) {
	org, err := s.orgRepo.Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", apperrors.NewNotFound("organization", err)
		}
		return "", fmt.Errorf("failed to load organization: %w", err)
	}

	url, err := s.checkout.CreateCheckoutSession(ctx, org, plan)
	if err != nil {
		return "", apperrors.NewInternal(err)
	}
	return url, nil
}

// OpenPortal creates a provider billing portal session. Requires that a
// checkout has already linked a customer to the organization.
func (s *Service) OpenPortal(ctx context.Context, orgID uuid.UUID) (string, error) {
	org, err := s.orgRepo.Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", apperrors.NewNotFound("organization", err)
		}
		return "", fmt.Errorf("failed to load organization: %w", err)
	}
	if org.BillingCustomerID == nil {
		return "", apperrors.PolicyRejection("no billing account exists for this organization yet")
	}

	url, err := s.checkout.CreatePortalSession(ctx, *org.BillingCustomerID)
	if err != nil {
		return "", apperrors.NewInternal(err)
	}
	return url, nil
}
