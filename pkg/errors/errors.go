package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Status  int       `json:"-"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode reports the HTTP status the error maps to. The error
// middleware uses this to pick the response status.
func (e *AppError) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrPolicyRejection
	ErrQuotaExceeded
	ErrGenerationFailure
	ErrAuthFailure
	ErrBillingBlocked
)

func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Status:  http.StatusBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Status:  http.StatusUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// PolicyRejection is a signup/login decision made by the lifecycle policy.
// The message is user-safe; no internal detail leaks through it.
func PolicyRejection(message string) *AppError {
	return &AppError{
		Code:    ErrPolicyRejection,
		Status:  http.StatusUnprocessableEntity,
		Message: message,
	}
}

// QuotaExceeded signals a per-application API key limit was hit.
func QuotaExceeded(message string) *AppError {
	return &AppError{
		Code:    ErrQuotaExceeded,
		Status:  http.StatusUnprocessableEntity,
		Message: message,
	}
}

// GenerationFailure signals bounded-retry exhaustion on key generation.
// Treated as an infrastructure fault, not a user error.
func GenerationFailure(err error) *AppError {
	return &AppError{
		Code:    ErrGenerationFailure,
		Status:  http.StatusInternalServerError,
		Message: "failed to generate api key",
		Err:     err,
	}
}

// AuthFailure covers bad signatures and bad/expired/revoked keys. The
// message never distinguishes "not found" from "wrong tenant".
func AuthFailure(message string) *AppError {
	return &AppError{
		Code:    ErrAuthFailure,
		Status:  http.StatusUnauthorized,
		Message: message,
	}
}

// BillingBlocked is a gate rejection. Payment-required states use 402,
// access-denied states use 403.
func BillingBlocked(status int, message string) *AppError {
	return &AppError{
		Code:    ErrBillingBlocked,
		Status:  status,
		Message: message,
	}
}
