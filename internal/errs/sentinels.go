// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrInvalidPrincipal indicates the principal id does not resolve to an account.
	ErrInvalidPrincipal = errors.New("invalid principal")

	// ErrAccountLocked indicates the principal is locked; checked before any claim evaluation.
	ErrAccountLocked = errors.New("account locked")

	// ErrUnauthorized indicates the resolved permission level is insufficient
	// (or the caller could not be identified).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates a share/hide attempt beyond the actor's own capability.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates a bad sort property, malformed claim value or similar input error.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict indicates a unique constraint violation (duplicate username, email, group name).
	ErrConflict = errors.New("conflict")

	// ErrUnavailable indicates the storage layer could not be reached; safe to retry.
	ErrUnavailable = errors.New("unavailable")

	// ErrRateLimited indicates temporary lock of deletion confirmation attempts.
	ErrRateLimited = errors.New("rate limited")
)

// IsExpected reports whether err is a user-facing outcome that must not be
// logged as a system error.
func IsExpected(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountLocked) ||
		errors.Is(err, ErrInvalidPrincipal) ||
		errors.Is(err, ErrInvalidArgument)
}
