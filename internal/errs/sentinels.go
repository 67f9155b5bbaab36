// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a malformed request or envelope. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates a missing, invalid or expired access token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired indicates the refresh token itself was rejected;
	// both tokens are purged and the user must log in again.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnavailable indicates the server could not be reached; the caller
	// keeps its pending state and retries on the existing schedule.
	ErrUnavailable = errors.New("service unavailable")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)
