package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid booking transition")
	ErrSlotUnavailable       = errors.New("slot unavailable")
	ErrCalendarNotConfigured = errors.New("meeting type has no calendar configured")
	ErrCalendarNotConnected  = errors.New("tenant has no calendar connection")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func NewValidationError(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// ProviderError reports a failed call to the external calendar provider,
// including timeouts and exhausted retries.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return "calendar provider: " + e.Op + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func NewProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pErr *ProviderError
	if errors.As(err, &pErr) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}

func IsProviderError(err error) bool {
	var pErr *ProviderError
	return errors.As(err, &pErr)
}
