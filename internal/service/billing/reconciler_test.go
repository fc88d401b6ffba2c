package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docskit/tenant-api/internal/model"
	"github.com/docskit/tenant-api/internal/repository"
	"github.com/docskit/tenant-api/pkg/logger"
	"github.com/docskit/tenant-api/pkg/metrics"
	"github.com/docskit/tenant-api/pkg/task"
)

const testSecret = "whsec_test"

type fakeBillingRepo struct {
	claimed      map[string]bool
	transitions  []string
	lastTrialEnd *time.Time
}

func newFakeBillingRepo() *fakeBillingRepo {
	return &fakeBillingRepo{claimed: map[string]bool{}}
}

func (f *fakeBillingRepo) ProcessEvent(ctx context.Context, eventID string, apply func(tx *sqlx.Tx) error) error {
	if f.claimed[eventID] {
		return repository.ErrEventAlreadyProcessed
	}
	if err := apply(nil); err != nil {
		return err
	}
	f.claimed[eventID] = true
	return nil
}

func (f *fakeBillingRepo) AttachCheckout(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID, customerID, subscriptionID string, plan *model.Plan, trialEndsAt time.Time) error {
	f.transitions = append(f.transitions, fmt.Sprintf("attach:%s:%s", orgID, customerID))
	return nil
}

func (f *fakeBillingRepo) UpdatePlanStatus(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID, status model.PlanStatus) error {
	f.transitions = append(f.transitions, fmt.Sprintf("status:%s:%s", orgID, status))
	return nil
}

func (f *fakeBillingRepo) SyncSubscription(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID, status model.PlanStatus, trialEndsAt *time.Time, cancelAtPeriodEnd bool) error {
	f.transitions = append(f.transitions, fmt.Sprintf("sync:%s:%s:%t", orgID, status, cancelAtPeriodEnd))
	f.lastTrialEnd = trialEndsAt
	return nil
}

func (f *fakeBillingRepo) ClearSubscription(ctx context.Context, tx *sqlx.Tx, orgID uuid.UUID) error {
	f.transitions = append(f.transitions, fmt.Sprintf("clear:%s", orgID))
	return nil
}

type fakeOrgRepo struct {
	repository.OrganizationRepository
	byID       map[uuid.UUID]*model.Organization
	byCustomer map[string]*model.Organization
}

func (f *fakeOrgRepo) Get(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	if org, ok := f.byID[id]; ok {
		return org, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeOrgRepo) GetByBillingCustomerID(ctx context.Context, customerID string) (*model.Organization, error) {
	if org, ok := f.byCustomer[customerID]; ok {
		return org, nil
	}
	return nil, repository.ErrNotFound
}

type fakeEmailService struct{}

func (fakeEmailService) SendVerification(ctx context.Context, email, token string) error { return nil }
func (fakeEmailService) SendWelcome(ctx context.Context, email, name string) error       { return nil }
func (fakeEmailService) SendPaymentFailed(ctx context.Context, email, org string) error  { return nil }

type reconcilerFixture struct {
	reconciler  *Reconciler
	billingRepo *fakeBillingRepo
	org         *model.Organization
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	org := &model.Organization{Name: "Acme"}
	org.ID = uuid.New()
	customerID := "cus_123"
	org.BillingCustomerID = &customerID

	billingRepo := newFakeBillingRepo()
	orgRepo := &fakeOrgRepo{
		byID:       map[uuid.UUID]*model.Organization{org.ID: org},
		byCustomer: map[string]*model.Organization{customerID: org},
	}

	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry(), "docskit", "test")
	log := logger.NewLogger(nil)
	tasks := task.NewRunner(task.RunnerConfig{QueueSize: 16, Workers: 1}, log, m)

	reconciler := NewReconciler(billingRepo, orgRepo, nil, nil, fakeEmailService{},
		tasks, log, m, testSecret, 5*time.Minute)

	return &reconcilerFixture{reconciler: reconciler, billingRepo: billingRepo, org: org}
}

func signedEvent(t *testing.T, id, eventType string, object interface{}) ([]byte, string) {
	t.Helper()

	raw, err := json.Marshal(object)
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]interface{}{
		"id":   id,
		"type": eventType,
		"data": map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)

	return payload, SignPayload(payload, testSecret, time.Now())
}

func TestHandleEventRejectsBadSignature(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, _ := signedEvent(t, "evt_1", model.EventInvoicePaid, model.InvoiceObject{CustomerID: "cus_123"})
	_, err := f.reconciler.HandleEvent(context.Background(), payload, "t=1,v1=deadbeef")
	assert.Error(t, err)
	assert.Empty(t, f.billingRepo.transitions)
}

func TestHandleEventAppliesCheckoutCompleted(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, sig := signedEvent(t, "evt_1", model.EventCheckoutCompleted, map[string]interface{}{
		"id":                  "cs_1",
		"customer":            "cus_123",
		"subscription":        "sub_1",
		"client_reference_id": f.org.ID.String(),
		"metadata":            map[string]string{"plan": "PREMIUM"},
	})

	result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, result)
	assert.Equal(t, []string{fmt.Sprintf("attach:%s:cus_123", f.org.ID)}, f.billingRepo.transitions)
}

func TestHandleEventDuplicateIsAcknowledged(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, sig := signedEvent(t, "evt_1", model.EventInvoicePaid, model.InvoiceObject{CustomerID: "cus_123"})

	result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, result)

	result, err = f.reconciler.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, result)
	assert.Len(t, f.billingRepo.transitions, 1, "the transition must apply exactly once")
}

func TestHandleEventInvoicePaidActivates(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, sig := signedEvent(t, "evt_1", model.EventInvoicePaid, model.InvoiceObject{CustomerID: "cus_123"})
	result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, result)
	assert.Equal(t, []string{fmt.Sprintf("status:%s:active", f.org.ID)}, f.billingRepo.transitions)
}

func TestHandleEventPaymentFailedMarksPastDue(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, sig := signedEvent(t, "evt_1", model.EventInvoicePaymentFailed, model.InvoiceObject{CustomerID: "cus_123"})
	result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, result)
	assert.Equal(t, []string{fmt.Sprintf("status:%s:past_due", f.org.ID)}, f.billingRepo.transitions)
}

func TestHandleEventSubscriptionUpdatedSyncs(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, sig := signedEvent(t, "evt_1", model.EventSubscriptionUpdated, model.SubscriptionObject{
		CustomerID:        "cus_123",
		Status:            "past_due",
		CancelAtPeriodEnd: true,
	})
	result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, result)
	assert.Equal(t, []string{fmt.Sprintf("sync:%s:past_due:true", f.org.ID)}, f.billingRepo.transitions)
}

func TestHandleEventSubscriptionUpdatedUnknownStatusClears(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, sig := signedEvent(t, "evt_1", model.EventSubscriptionUpdated, model.SubscriptionObject{
		CustomerID: "cus_123",
		Status:     "incomplete_expired",
		TrialEnd:   time.Now().Add(24 * time.Hour).Unix(),
	})
	result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, result)
	assert.Equal(t, []string{fmt.Sprintf("sync:%s::false", f.org.ID)}, f.billingRepo.transitions)
	assert.Nil(t, f.billingRepo.lastTrialEnd)
}

func TestHandleEventSubscriptionUpdatedTrialEnd(t *testing.T) {
	end := time.Now().Add(14 * 24 * time.Hour).Truncate(time.Second)

	t.Run("recorded while trialing", func(t *testing.T) {
		f := newReconcilerFixture(t)
		payload, sig := signedEvent(t, "evt_1", model.EventSubscriptionUpdated, model.SubscriptionObject{
			CustomerID: "cus_123",
			Status:     "trialing",
			TrialEnd:   end.Unix(),
		})
		result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
		require.NoError(t, err)
		assert.Equal(t, ResultProcessed, result)
		require.NotNil(t, f.billingRepo.lastTrialEnd)
		assert.True(t, f.billingRepo.lastTrialEnd.Equal(end))
	})

	t.Run("ignored once active", func(t *testing.T) {
		f := newReconcilerFixture(t)
		payload, sig := signedEvent(t, "evt_1", model.EventSubscriptionUpdated, model.SubscriptionObject{
			CustomerID: "cus_123",
			Status:     "active",
			TrialEnd:   end.Unix(),
		})
		result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
		require.NoError(t, err)
		assert.Equal(t, ResultProcessed, result)
		assert.Nil(t, f.billingRepo.lastTrialEnd)
	})
}

func TestHandleEventSubscriptionDeletedClears(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, sig := signedEvent(t, "evt_1", model.EventSubscriptionDeleted, model.SubscriptionObject{CustomerID: "cus_123"})
	result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, result)
	assert.Equal(t, []string{fmt.Sprintf("clear:%s", f.org.ID)}, f.billingRepo.transitions)
}

func TestHandleEventUnknownTypeIsIgnored(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, sig := signedEvent(t, "evt_1", "customer.created", map[string]string{"id": "cus_123"})
	result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, result)
	assert.Empty(t, f.billingRepo.transitions)
}

func TestHandleEventUnknownCustomerIsDropped(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, sig := signedEvent(t, "evt_1", model.EventInvoicePaid, model.InvoiceObject{CustomerID: "cus_unknown"})
	result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, result)
	assert.Empty(t, f.billingRepo.transitions)
}

func TestHandleEventBadClientReferenceIsDropped(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, sig := signedEvent(t, "evt_1", model.EventCheckoutCompleted, map[string]interface{}{
		"id":                  "cs_1",
		"customer":            "cus_123",
		"client_reference_id": "not-a-uuid",
	})
	result, err := f.reconciler.HandleEvent(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, result)
	assert.Empty(t, f.billingRepo.transitions)
}
