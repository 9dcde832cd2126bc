package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is an exported constant or variable used by the authentication engine.
	ErrAccountLocked = errors.New("account locked")
	// ErrMFARequired is an exported constant or variable used by the authentication engine.
	ErrMFARequired = errors.New("second factor required")
	// ErrInvalidMFACode is an exported constant or variable used by the authentication engine.
	ErrInvalidMFACode = errors.New("invalid second factor code")
	// ErrTokenExpired is an exported constant or variable used by the authentication engine.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is an exported constant or variable used by the authentication engine.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenReuseDetected is an exported constant or variable used by the authentication engine.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrInsufficientPermissions is an exported constant or variable used by the authentication engine.
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	// ErrValidationFailed is an exported constant or variable used by the authentication engine.
	ErrValidationFailed = errors.New("validation failed")

	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrUserExists is an exported constant or variable used by the authentication engine.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned by UserStore implementations. The engine
	// never surfaces it to callers.
	ErrUserNotFound = errors.New("user not found")
	// ErrPasswordReuse is an exported constant or variable used by the authentication engine.
	ErrPasswordReuse = errors.New("password was used recently")
	// ErrRateLimited is an exported constant or variable used by the authentication engine.
	ErrRateLimited = errors.New("rate limited")
	// ErrResetTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")
	// ErrTwoFactorNotConfigured is returned when confirming or verifying
	// without a stored secret.
	ErrTwoFactorNotConfigured = errors.New("second factor not configured")
	// ErrTwoFactorAlreadyEnabled is returned by setup calls once 2FA is
	// active. Disable it first to rotate the secret.
	ErrTwoFactorAlreadyEnabled = errors.New("second factor already enabled")
	// ErrSessionLimitExceeded is returned by IssuePair when the user
	// already holds Session.MaxPerUser live sessions.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrBackendUnavailable is an exported constant or variable used by the authentication engine.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// LockedError carries the remaining lock time. It matches ErrAccountLocked
// under errors.Is.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error {
	return ErrAccountLocked
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *LockedError) RetryAfterSeconds() int64 {
	secs := int64(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// FieldError names one rejected input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every rejected field. It matches
// ErrValidationFailed under errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func (e *ValidationError) errOrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
