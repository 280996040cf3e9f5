// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across crypto/repo/service layers.
var (
	// ErrMalformedRoute indicates a sealed route that cannot be decoded or is too short.
	ErrMalformedRoute = errors.New("malformed sealed route")

	// ErrDecryptionFailed indicates an AEAD open failure (wrong key or corrupt data, never distinguished).
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrSealFailed indicates the device address could not be encrypted.
	ErrSealFailed = errors.New("seal failed")

	// ErrInvalidSealedRoute is returned by send when the route does not unseal.
	ErrInvalidSealedRoute = errors.New("invalid sealed route")

	// ErrInvalidSignature indicates a failed ownership proof.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidSenderSignature indicates a failed optional sender signature on send.
	ErrInvalidSenderSignature = errors.New("invalid sender signature")

	// ErrUnauthorizedDeletion indicates that at least one requested id is not owned by the requester.
	ErrUnauthorizedDeletion = errors.New("unauthorized deletion")

	// ErrInboxFull indicates the recipient reached the configured message ceiling.
	ErrInboxFull = errors.New("recipient inbox full")

	// ErrRateLimited indicates the caller exceeded its request budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidInput indicates a request that failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists indicates a primary key collision on insert.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStorage wraps store failures surfaced to callers as internal errors.
	ErrStorage = errors.New("storage failure")
)
