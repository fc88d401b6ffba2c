package model

import (
	"time"

	"github.com/google/uuid"
)

// KeyEnvironment distinguishes live from test credentials.
type KeyEnvironment string

const (
	KeyEnvironmentLive KeyEnvironment = "live"
	KeyEnvironmentTest KeyEnvironment = "test"
)

// APIKey is a scoped machine credential for one application. Only the
// SHA-256 hash of the secret is stored; the prefix is kept unhashed for
// display. A revoked key is terminal.
type APIKey struct {
	Base
	ApplicationID uuid.UUID      `json:"application_id" db:"application_id"`
	Name          string         `json:"name" db:"name"`
	KeyHash       string         `json:"-" db:"key_hash"`
	KeyPrefix     string         `json:"key_prefix" db:"key_prefix"`
	Environment   KeyEnvironment `json:"environment" db:"environment"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt     *time.Time     `json:"revoked_at,omitempty" db:"revoked_at"`
	LastUsedAt    *time.Time     `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Application is the tenant-scoped unit an API key belongs to.
type Application struct {
	Base
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	AllowedDomain  *string   `json:"allowed_domain,omitempty" db:"allowed_domain"`
}

// CreateAPIKeyRequest represents key creation parameters
type CreateAPIKeyRequest struct {
	Name        string         `json:"name"`
	Environment KeyEnvironment `json:"environment" binding:"omitempty,oneof=live test"`
	ExpiresAt   *time.Time     `json:"expires_at"`
}

// CreatedAPIKey is returned once at issuance; RawKey is never available again.
type CreatedAPIKey struct {
	*APIKey
	RawKey string `json:"key"`
}

// VerifyReason explains a failed key verification.
type VerifyReason string

const (
	VerifyReasonNotFound VerifyReason = "not_found"
	VerifyReasonRevoked  VerifyReason = "revoked"
	VerifyReasonExpired  VerifyReason = "expired"
)

// KeyVerification is the result of verifying a raw API key.
type KeyVerification struct {
	Valid       bool         `json:"valid"`
	Reason      VerifyReason `json:"reason,omitempty"`
	APIKey      *APIKey      `json:"-"`
	Application *Application `json:"-"`
}
