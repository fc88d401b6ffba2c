// Package policy is the single authority for interpreting account status.
// Every other component delegates status decisions here instead of
// branching on status values directly.
package policy

import (
	"time"

	"github.com/docskit/tenant-api/internal/model"
)

// SignupAction is the decision for a signup attempt against an email.
type SignupAction string

const (
	SignupReject    SignupAction = "reject"
	SignupResendOTP SignupAction = "resend_otp"
	SignupAllowNew  SignupAction = "allow_new"
)

// LoginOutcome is the decision for a login attempt.
type LoginOutcome string

const (
	LoginAllow                    LoginOutcome = "allow"
	LoginRejectEmailNotVerified   LoginOutcome = "reject_email_not_verified"
	LoginRejectSignupExpired      LoginOutcome = "reject_signup_expired"
	LoginRejectInvalidCredentials LoginOutcome = "reject_invalid_credentials"
)

// ResolveSignupAction decides what a signup attempt may do given any
// existing user holding the email. A stale pending signup is treated as
// abandoned; expired and deleted identities may be recreated.
func ResolveSignupAction(existing *model.User, now time.Time) SignupAction {
	if existing == nil {
		return SignupAllowNew
	}

	switch existing.Status {
	case model.UserStatusActive:
		return SignupReject
	case model.UserStatusPendingVerification:
		if existing.PendingExpiresAt != nil && existing.PendingExpiresAt.After(now) {
			return SignupResendOTP
		}
		return SignupAllowNew
	case model.UserStatusExpired, model.UserStatusDeleted:
		return SignupAllowNew
	default:
		return SignupReject
	}
}

// ResolveLoginOutcome maps account status to a login decision. A deleted
// account reports invalid credentials so deletion is not observable.
func ResolveLoginOutcome(user *model.User) LoginOutcome {
	if user == nil {
		return LoginRejectInvalidCredentials
	}

	switch user.Status {
	case model.UserStatusActive:
		return LoginAllow
	case model.UserStatusPendingVerification:
		return LoginRejectEmailNotVerified
	case model.UserStatusExpired:
		return LoginRejectSignupExpired
	case model.UserStatusDeleted:
		return LoginRejectInvalidCredentials
	default:
		return LoginRejectInvalidCredentials
	}
}

// CanReuseOrganizationSlug reports whether a slug held by org (possibly nil)
// may be claimed by a new registration.
func CanReuseOrganizationSlug(org *model.Organization) bool {
	if org == nil {
		return true
	}

	switch org.Status {
	case model.UserStatusActive, model.UserStatusPendingVerification:
		return false
	case model.UserStatusExpired, model.UserStatusDeleted:
		return true
	default:
		return false
	}
}

// IsOrganizationServable reports whether requests may be routed to the
// organization at all. Anything short of active is indistinguishable from
// a missing workspace to callers.
func IsOrganizationServable(org *model.Organization) bool {
	if org == nil {
		return false
	}
	return org.Status == model.UserStatusActive
}

// AwaitingVerification reports whether the user is still in the window
// where an email verification code may be redeemed.
func AwaitingVerification(user *model.User) bool {
	if user == nil {
		return false
	}
	return user.Status == model.UserStatusPendingVerification
}

// ShouldExpireUser reports whether the sweep job should expire the user.
func ShouldExpireUser(user *model.User, now time.Time) bool {
	if user == nil {
		return false
	}
	return user.Status == model.UserStatusPendingVerification &&
		user.PendingExpiresAt != nil &&
		now.After(*user.PendingExpiresAt)
}

// StatusMessage is the user-safe message for a login outcome.
func StatusMessage(outcome LoginOutcome) string {
	switch outcome {
	case LoginAllow:
		return ""
	case LoginRejectEmailNotVerified:
		return "please verify your email address before signing in"
	case LoginRejectSignupExpired:
		return "your signup expired, please register again"
	case LoginRejectInvalidCredentials:
		return "invalid credentials"
	default:
		return "invalid credentials"
	}
}
