package model

import (
	"encoding/json"
	"time"
)

// WebhookEvent is the provider event envelope. Data.Object is parsed per
// event type, mirroring the provider's own polymorphic payloads.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Provider event types the reconciler reacts to. Everything else is
// acknowledged as a no-op.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
)

// CheckoutSessionObject for checkout.session.completed events.
type CheckoutSessionObject struct {
	ID                string `json:"id"`
	CustomerID        string `json:"customer"`
	SubscriptionID    string `json:"subscription"`
	ClientReferenceID string `json:"client_reference_id"`
	Metadata          struct {
		Plan string `json:"plan"`
	} `json:"metadata"`
}

// InvoiceObject for invoice.* events.
type InvoiceObject struct {
	ID             string `json:"id"`
	CustomerID     string `json:"customer"`
	SubscriptionID string `json:"subscription"`
	Status         string `json:"status"`
}

// SubscriptionObject for customer.subscription.* events.
type SubscriptionObject struct {
	ID                string `json:"id"`
	CustomerID        string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	TrialEnd          int64  `json:"trial_end"`
}

// ProcessedEvent is the durable idempotency claim for one provider event id.
// Its primary key uniqueness is the sole concurrency guard for reconciliation.
type ProcessedEvent struct {
	ID        string    `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
