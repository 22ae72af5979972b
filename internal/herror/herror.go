// Package herror defines the sentinel error kinds shared across the Hassette
// runtime so callers can classify failures with errors.Is/errors.As instead
// of matching on strings.
package herror

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrResourceNotReady is returned by facades (e.g. the state proxy) when
	// called before the underlying resource has signalled readiness.
	ErrResourceNotReady = errors.New("hassette: resource not ready")

	// ErrTimeout is a distinct sentinel for user-facing bounded calls,
	// additionally satisfied by context.DeadlineExceeded.
	ErrTimeout = errors.New("hassette: timed out")

	// ErrConfiguration marks a fatal-to-the-affected-component configuration
	// problem: invalid manifest, bad app config, conflicting "only" apps.
	ErrConfiguration = errors.New("hassette: configuration error")

	// ErrAlreadyRunning reports that a resource is already running.
	// Resource.Start has no error result and does not return it.
	ErrAlreadyRunning = errors.New("hassette: resource already running")

	// ErrUnknownResource is returned when a lookup by name/role finds no
	// matching resource to restart.
	ErrUnknownResource = errors.New("hassette: unknown resource")
)

// IsTimeout reports whether err is, or wraps, a timeout-class error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsCancellation reports whether err is, or wraps, context cancellation.
// Cancellation is not an error kind that should be logged at error level.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Wrapf wraps err with additional context, following the package convention
// of attaching location context at boundaries.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
