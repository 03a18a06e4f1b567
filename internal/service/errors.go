package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound covers both missing records and records owned by someone else.
	ErrNotFound           = errors.New("not found")
	ErrIntegrity          = errors.New("stored data failed integrity verification")
	ErrExpired            = errors.New("share link has expired")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("validation failed")
	ErrRateLimited        = errors.New("too many requests, please try again later")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// LockedError reports a temporarily locked account.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account temporarily locked, try again in %d min", e.RemainingMinutes())
}

// RemainingSeconds rounds the remaining lock time up to whole seconds.
func (e *LockedError) RemainingSeconds() int {
	return int(ceilDiv(e.Remaining, time.Second))
}

// RemainingMinutes rounds the remaining lock time up to whole minutes.
func (e *LockedError) RemainingMinutes() int {
	return int(ceilDiv(e.Remaining, time.Minute))
}

func ceilDiv(d, unit time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + unit - 1) / unit)
}
