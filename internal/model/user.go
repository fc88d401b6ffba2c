package model

import (
	"time"
)

// UserStatus is the account lifecycle state of a user. Transitions are
// decided exclusively by the lifecycle policy; nothing else branches on
// these values directly.
type UserStatus string

const (
	UserStatusPendingVerification UserStatus = "pending_verification"
	UserStatusActive              UserStatus = "active"
	UserStatusExpired             UserStatus = "expired"
	UserStatusDeleted             UserStatus = "deleted"
)

// AllUserStatuses enumerates every lifecycle state, used by exhaustiveness
// tests over the policy tables.
var AllUserStatuses = []UserStatus{
	UserStatusPendingVerification,
	UserStatusActive,
	UserStatusExpired,
	UserStatusDeleted,
}

// User represents a system user
type User struct {
	Base
	Email            string     `json:"email" db:"email"`
	Name             string     `json:"name" db:"name"`
	Password         string     `json:"password,omitempty" db:"-"`
	PasswordHash     string     `json:"-" db:"password_hash"`
	Status           UserStatus `json:"status" db:"status"`
	PendingExpiresAt *time.Time `json:"pending_expires_at,omitempty" db:"pending_expires_at"`
	ExpiredAt        *time.Time `json:"expired_at,omitempty" db:"expired_at"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}

// SignupRequest represents signup parameters
type SignupRequest struct {
	Email            string `json:"email" binding:"required,email"`
	Name             string `json:"name" binding:"required"`
	Password         string `json:"password" binding:"required,min=8"`
	OrganizationName string `json:"organization_name" binding:"required"`
	OrganizationSlug string `json:"organization_slug" binding:"required,lowercase,alphanum"`
}

// LoginRequest represents login parameters
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse holds session tokens issued on login
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
