package platform

import (
	"errors"
	"fmt"
)

// ErrorClass buckets platform failures by how callers should react.
type ErrorClass string

const (
	// ClassTransient covers 5xx responses and transport failures;
	// retried with backoff.
	ClassTransient ErrorClass = "transient"
	// ClassRateLimited is an explicit throttle response; retried with
	// backoff, bounded.
	ClassRateLimited ErrorClass = "rate_limited"
	// ClassAuthInvalid means the stored session is expired or revoked.
	// Never retried; the account needs re-authentication.
	ClassAuthInvalid ErrorClass = "auth_invalid"
	// ClassValidation is a caller logic error rejected by the platform.
	// Never retried.
	ClassValidation ErrorClass = "validation"
)

// Error is a classified failure from the advertising platform. Code
// retains the platform-specific error code for diagnostics.
type Error struct {
	Class     ErrorClass
	Code      string
	AccountID string
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("platform %s (code=%s account=%s): %v", e.Class, e.Code, e.AccountID, e.Err)
	}
	return fmt.Sprintf("platform %s (account=%s): %v", e.Class, e.AccountID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf extracts the error class, defaulting to transient for
// unclassified failures so they stay retryable.
func ClassOf(err error) ErrorClass {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassTransient
}

// Retryable reports whether the gateway retry loop may re-attempt.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case ClassTransient, ClassRateLimited:
		return true
	default:
		return false
	}
}
