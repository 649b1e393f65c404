// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package). These codes provide
// clients with a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, conflict) mirror common HTTP status
//     semantics to aid interoperability.
//   - Domain-specific codes (e.g., token_invalid) are reserved for business
//     logic errors that cannot be conveyed by status alone.
//
// Disclosure note: the resolution endpoints answer with the single code
// attribution_not_found whether a record never existed, already expired, or
// was claimed by a concurrent caller. Distinguishing those in responses
// would leak timing information about other users' shares.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUnavailable      = "store_unavailable"

	// Domain-specific:
	ErrCodeTokenInvalid        = "token_invalid"
	ErrCodeAttributionNotFound = "attribution_not_found"
	ErrCodeIssueFailed         = "issue_failed"
)
