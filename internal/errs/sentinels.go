// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates a failed credential check. It never says which part was wrong.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidation is the target of every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInternal marks store/crypto failures that must not leak to clients.
	ErrInternal = errors.New("internal error")
)

// Token lifecycle failures. All of them are client-facing and never retried.
var (
	// ErrInvalidToken covers malformed tokens, bad signatures, wrong type and unknown tokens alike.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired indicates the token (or its stored record) is past expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked indicates the stored record was consumed or revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrAccountInactive indicates the owning account is disabled.
	ErrAccountInactive = errors.New("account inactive")

	// ErrAccountNotFound indicates the token subject no longer resolves to an account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountUnverified indicates the account has not confirmed its email yet.
	ErrAccountUnverified = errors.New("account not verified")
)

// IsTokenError reports whether err is one of the token lifecycle failures.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrAccountNotFound)
}
