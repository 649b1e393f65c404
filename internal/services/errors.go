// Package services defines the business logic for share-token issuance and
// install attribution resolution. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer. Note that the resolution handlers
// deliberately collapse several of these into one "attribution not found"
// response; the distinction exists for logs, metrics, and tests.
package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrInvalidShare is returned when a share request is missing its
	// subject or content identifier.
	ErrInvalidShare = errors.New("share requires subject and content ids")

	// ErrContentNotFound indicates the content a token references no longer
	// exists in the catalog. Terminal for that token.
	ErrContentNotFound = errors.New("content not found")

	// ErrAttributionNotFound indicates no attribution record matched any
	// resolution strategy, or the matched record had already expired.
	ErrAttributionNotFound = errors.New("attribution not found")

	// ErrAlreadyConsumed indicates the matched record was claimed by a
	// concurrent caller. Terminal for that attempt; the caller must not
	// retry the same reference.
	ErrAlreadyConsumed = errors.New("attribution already consumed")

	// ErrShortCodeExhausted is returned when issuance could not generate a
	// collision-free short code within its retry budget. Nothing has been
	// persisted when it is returned.
	ErrShortCodeExhausted = errors.New("short code space exhausted")

	// ErrStoreUnavailable wraps store timeouts and connectivity failures.
	// Transient: safe to retry with backoff, since no record was mutated.
	ErrStoreUnavailable = errors.New("attribution store unavailable")
)

// storeErr wraps an unexpected persistence error in ErrStoreUnavailable so
// callers see one retryable category for timeouts, cancelled contexts, and
// driver failures. Missing-row sentinels are passed through untouched; they
// are expected outcomes, not availability problems.
func storeErr(err error) error {
	if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
