package service

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrAccountExists is returned when the username is already registered.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidCredentials covers both unknown usernames and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTwoFactorRequired is returned when 2FA is enabled and no code was given.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrInvalidTwoFactorCode is returned when the supplied TOTP code does not verify.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	// ErrNotFound is returned for missing or foreign resources.
	ErrNotFound = errors.New("not found")
	// ErrStorage wraps credential, metadata and blob store failures.
	ErrStorage = errors.New("storage unavailable")
	// ErrDispatch wraps orchestrator rejections.
	ErrDispatch = errors.New("dispatch failed")
	// ErrTimeout is returned when a remote collaborator exceeds its deadline.
	ErrTimeout = errors.New("collaborator timed out")
)

// ValidationError describes malformed client input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// collaboratorError classifies a remote failure as kind, or as ErrTimeout
// when the call ran out of time.
func collaboratorError(kind error, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
