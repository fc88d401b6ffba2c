package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docskit/tenant-api/internal/config"
	"github.com/docskit/tenant-api/internal/model"
)

// CheckoutClient creates provider-hosted checkout and portal sessions. The
// organization id travels as client_reference_id so the completed-checkout
// webhook can find its way back.
type CheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, org *model.Organization, plan model.Plan) (string, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
}

type checkoutClient struct {
	httpClient *http.Client
	cfg        config.BillingConfig
}

func NewCheckoutClient(cfg config.BillingConfig) CheckoutClient {
	return &checkoutClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cfg:        cfg,
	}
}

type sessionResponse struct {
	URL string `json:"url"`
}

func (c *checkoutClient) CreateCheckoutSession(ctx context.Context, org *model.Organization, plan model.Plan) (string, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("client_reference_id", org.ID.String())
	form.Set("success_url", c.cfg.CheckoutSuccess)
	form.Set("cancel_url", c.cfg.CheckoutCancel)
	form.Set("metadata[plan]", string(plan))
	if org.BillingCustomerID != nil {
		form.Set("customer", *org.BillingCustomerID)
	}

	return c.createSession(ctx, "/v1/checkout/sessions", form)
}

func (c *checkoutClient) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", c.cfg.PortalReturnURL)

	return c.createSession(ctx, "/v1/billing_portal/sessions", form)
}

func (c *checkoutClient) createSession(ctx context.Context, path string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.ProviderBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.ProviderAPIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider returned %d: %s", resp.StatusCode, body)
	}

	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return "", fmt.Errorf("failed to decode provider response: %w", err)
	}
	if session.URL == "" {
		return "", fmt.Errorf("provider response missing session url")
	}
	return session.URL, nil
}
