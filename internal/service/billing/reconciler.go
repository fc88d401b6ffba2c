package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/docskit/tenant-api/internal/email"
	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
	"github.com/docskit/tenant-api/pkg/logger"
	"github.com/docskit/tenant-api/pkg/metrics"
	"github.com/docskit/tenant-api/pkg/task"
)

// Result classifies how the reconciler disposed of an event. Every result
// except a returned error is acknowledged to the provider with success, so
// the provider never retries what we have decided about.
type Result string

const (
	ResultProcessed Result = "processed"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"
)

const defaultTrialPeriod = 14 * 24 * time.Hour

// Reconciler consumes provider webhook events and converges organization
// billing state. All processing is idempotent: the event id is claimed in
// the same transaction as the state transition it causes.
type Reconciler struct {
	billingRepo    repository.BillingRepository
	orgRepo        repository.OrganizationRepository
	membershipRepo repository.MembershipRepository
	userRepo       repository.UserRepository
	emailService   email.Service
	tasks          *task.Runner
	logger         *logger.Logger
	metrics        *metrics.Metrics
	secret         string
	tolerance      time.Duration
}

func NewReconciler(
	billingRepo repository.BillingRepository,
	orgRepo repository.OrganizationRepository,
	membershipRepo repository.MembershipRepository,
	userRepo repository.UserRepository,
	emailService email.Service,
	tasks *task.Runner,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	secret string,
	tolerance time.Duration,
) *Reconciler {
	return &Reconciler{
		billingRepo:    billingRepo,
		orgRepo:        orgRepo,
		membershipRepo: membershipRepo,
		userRepo:       userRepo,
		emailService:   emailService,
		tasks:          tasks,
		logger:         logger,
		metrics:        metrics,
		secret:         secret,
		tolerance:      tolerance,
	}
}

// HandleEvent verifies the signature, then dispatches the event by type.
// Signature failures surface as an error; everything else resolves to a
// Result the handler acknowledges.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, sigHeader string) (Result, error) {
	start := time.Now()
	defer func() {
		r.metrics.WebhookLatency.Observe(time.Since(start).Seconds())
	}()

	if err := VerifySignature(payload, sigHeader, r.secret, r.tolerance, time.Now()); err != nil {
		return "", err
	}

	var event model.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", fmt.Errorf("failed to decode event: %w", err)
	}
	if event.ID == "" {
		return "", errors.New("event has no id")
	}

	result, err := r.dispatch(ctx, &event)
	switch {
	case err != nil:
		r.metrics.WebhookEventsFailed.Inc()
	case result == ResultProcessed:
		r.metrics.WebhookEventsProcessed.WithLabelValues(event.Type).Inc()
	case result == ResultDuplicate:
		r.metrics.WebhookEventsDuplicate.Inc()
	case result == ResultIgnored:
		r.metrics.WebhookEventsDropped.Inc()
	}
	return result, err
}

func (r *Reconciler) dispatch(ctx context.Context, event *model.WebhookEvent) (Result, error) {
	switch event.Type {
	case model.EventCheckoutCompleted:
		return r.handleCheckoutCompleted(ctx, event)
	case model.EventInvoicePaid:
		return r.handleInvoice(ctx, event, model.PlanStatusActive)
	case model.EventInvoicePaymentFailed:
		return r.handleInvoice(ctx, event, model.PlanStatusPastDue)
	case model.EventSubscriptionUpdated:
		return r.handleSubscriptionUpdated(ctx, event)
	case model.EventSubscriptionDeleted:
		return r.handleSubscriptionDeleted(ctx, event)
	default:
		r.logger.Debug("ignoring unhandled webhook event type",
			"event_id", event.ID, "event_type", event.Type)
		return ResultIgnored, nil
	}
}

// handleCheckoutCompleted links the provider customer and subscription to
// the organization named by client_reference_id and starts its trial.
func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, event *model.WebhookEvent) (Result, error) {
	var session model.CheckoutSessionObject
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return "", fmt.Errorf("failed to decode checkout session: %w", err)
	}

	orgID, err := uuid.Parse(session.ClientReferenceID)
	if err != nil {
		r.logger.Warn("dropping checkout event with bad client reference",
			"event_id", event.ID, "client_reference_id", session.ClientReferenceID)
		return ResultIgnored, nil
	}
	if _, err := r.orgRepo.Get(ctx, orgID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.logger.Warn("dropping checkout event for unknown organization",
				"event_id", event.ID, "organization_id", orgID.String())
			return ResultIgnored, nil
		}
		return "", fmt.Errorf("failed to load organization: %w", err)
	}

	var plan *model.Plan
	if session.Metadata.Plan != "" {
		p := model.Plan(session.Metadata.Plan)
		plan = &p
	}
	trialEndsAt := time.Now().Add(defaultTrialPeriod)

	err = r.billingRepo.ProcessEvent(ctx, event.ID, func(tx *sqlx.Tx) error {
		return r.billingRepo.AttachCheckout(ctx, tx, orgID,
			session.CustomerID, session.SubscriptionID, plan, trialEndsAt)
	})
	return r.resolveProcessOutcome(event, err)
}

func (r *Reconciler) handleInvoice(ctx context.Context, event *model.WebhookEvent, status model.PlanStatus) (Result, error) {
	var invoice model.InvoiceObject
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return "", fmt.Errorf("failed to decode invoice: %w", err)
	}

	org, result, err := r.resolveOrganization(ctx, event, invoice.CustomerID)
	if org == nil {
		return result, err
	}

	err = r.billingRepo.ProcessEvent(ctx, event.ID, func(tx *sqlx.Tx) error {
		return r.billingRepo.UpdatePlanStatus(ctx, tx, org.ID, status)
	})
	result, err = r.resolveProcessOutcome(event, err)
	if result == ResultProcessed && status == model.PlanStatusPastDue {
		r.notifyPaymentFailed(org)
	}
	return result, err
}

func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, event *model.WebhookEvent) (Result, error) {
	var sub model.SubscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return "", fmt.Errorf("failed to decode subscription: %w", err)
	}

	org, result, err := r.resolveOrganization(ctx, event, sub.CustomerID)
	if org == nil {
		return result, err
	}

	status := mapSubscriptionStatus(sub.Status)

	// The trial end only means anything while the subscription is
	// trialing; providers keep sending the historical timestamp after.
	var trialEndsAt *time.Time
	if status == model.PlanStatusTrialing && sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0)
		trialEndsAt = &t
	}

	err = r.billingRepo.ProcessEvent(ctx, event.ID, func(tx *sqlx.Tx) error {
		return r.billingRepo.SyncSubscription(ctx, tx, org.ID,
			status, trialEndsAt, sub.CancelAtPeriodEnd)
	})
	return r.resolveProcessOutcome(event, err)
}

// mapSubscriptionStatus normalizes a provider subscription status to the
// internal plan status. Statuses this service does not model clear the
// stored status rather than persisting provider vocabulary verbatim.
func mapSubscriptionStatus(s string) model.PlanStatus {
	switch status := model.PlanStatus(s); status {
	case model.PlanStatusActive, model.PlanStatusTrialing, model.PlanStatusPastDue,
		model.PlanStatusCanceled, model.PlanStatusUnpaid,
		model.PlanStatusIncomplete, model.PlanStatusPaused:
		return status
	default:
		return model.PlanStatusNone
	}
}

func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, event *model.WebhookEvent) (Result, error) {
	var sub model.SubscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return "", fmt.Errorf("failed to decode subscription: %w", err)
	}

	org, result, err := r.resolveOrganization(ctx, event, sub.CustomerID)
	if org == nil {
		return result, err
	}

	err = r.billingRepo.ProcessEvent(ctx, event.ID, func(tx *sqlx.Tx) error {
		return r.billingRepo.ClearSubscription(ctx, tx, org.ID)
	})
	return r.resolveProcessOutcome(event, err)
}

// resolveOrganization maps a provider customer id to an organization. An
// unknown customer is logged and the event dropped; retrying cannot fix it.
func (r *Reconciler) resolveOrganization(ctx context.Context, event *model.WebhookEvent, customerID string) (*model.Organization, Result, error) {
	if customerID == "" {
		r.logger.Warn("dropping webhook event without customer id",
			"event_id", event.ID, "event_type", event.Type)
		return nil, ResultIgnored, nil
	}

	org, err := r.orgRepo.GetByBillingCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.logger.Warn("dropping webhook event for unknown customer",
				"event_id", event.ID, "event_type", event.Type, "customer_id", customerID)
			return nil, ResultIgnored, nil
		}
		return nil, "", fmt.Errorf("failed to resolve customer: %w", err)
	}
	return org, "", nil
}

func (r *Reconciler) resolveProcessOutcome(event *model.WebhookEvent, err error) (Result, error) {
	if errors.Is(err, repository.ErrEventAlreadyProcessed) {
		r.logger.Debug("webhook event already processed", "event_id", event.ID)
		return ResultDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to process event %s: %w", event.ID, err)
	}
	return ResultProcessed, nil
}

// notifyPaymentFailed emails the organization's owners off the request
// path. Runs only after the transition committed.
func (r *Reconciler) notifyPaymentFailed(org *model.Organization) {
	orgID, orgName := org.ID, org.Name
	r.tasks.Enqueue(task.Task{
		Name: "email.payment_failed",
		Run: func(ctx context.Context) error {
			owners, err := r.membershipRepo.ListByRole(ctx, orgID, model.RoleSuperAdmin)
			if err != nil {
				return err
			}
			for _, m := range owners {
				user, err := r.userRepo.Get(ctx, m.UserID)
				if err != nil {
					return err
				}
				if err := r.emailService.SendPaymentFailed(ctx, user.Email, orgName); err != nil {
					return err
				}
			}
			return nil
		},
	})
}
