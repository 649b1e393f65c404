// Package services – ResolveService
//
// This file implements the resolution engine exposed to the freshly
// installed app. It runs a strict-priority search over the attribution
// store — exact reference, short code, recency heuristic, or (via its own
// entry point) device IP — and converts exactly one candidate into a
// session token through an atomic claim. Candidate reads may be stale;
// correctness comes only from the conditional claim update, which
// re-validates consumption and expiry at write time. Once a specific record
// has been identified, a lost claim never falls through to a weaker
// strategy, so one install can never be attributed twice.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-deeplink-backend/internal/domain"
	"github.com/tbourn/go-deeplink-backend/internal/identifier"
	"github.com/tbourn/go-deeplink-backend/internal/netutil"
	"github.com/tbourn/go-deeplink-backend/internal/repo"
	"github.com/tbourn/go-deeplink-backend/internal/token"
)

// ResolveRepo defines the repository contract required by ResolveService.
type ResolveRepo interface {
	// GetByReference fetches a record by primary reference, any state.
	GetByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.AttributionRecord, error)

	// GetByShortCode fetches the newest unexpired record for a short code.
	GetByShortCode(ctx context.Context, db *gorm.DB, code string, now time.Time) (*domain.AttributionRecord, error)

	// LatestUnconsumed returns the newest claimable record created at or
	// after cutoff.
	LatestUnconsumed(ctx context.Context, db *gorm.DB, now, cutoff time.Time) (*domain.AttributionRecord, error)

	// LatestByIP returns the newest claimable record with the given
	// normalized device IP.
	LatestByIP(ctx context.Context, db *gorm.DB, ip string, now time.Time) (*domain.AttributionRecord, error)

	// ClaimAttribution performs the conditional consumed:false→true update.
	ClaimAttribution(ctx context.Context, db *gorm.DB, reference string, now time.Time) error
}

// Resolution is the payload returned to the installed app after a
// successful claim.
type Resolution struct {
	ContentID    string
	Title        string
	AuxiliaryID  string
	SessionToken string
}

// ResolveService claims attribution records for freshly installed apps.
type ResolveService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the attribution repository used by this service.
	Repo ResolveRepo
	// Codec mints session tokens from claimed records.
	Codec token.Codec

	// SessionTokenTTL is the lifetime of the re-issued session token.
	SessionTokenTTL time.Duration
	// Recency configures the last-resort no-identifier fallback.
	Recency RecencyStrategy

	// now is a clock seam for tests; defaults to time.Now when nil.
	now func() time.Time
}

// RecencyStrategy is the isolated last-resort match: the single newest
// unconsumed, unexpired record, but only when its age is inside a safety
// window strictly tighter than the record TTL. It is a global, unscoped
// guess by construction, so it lives behind its own switch and can be
// disabled without touching the keyed lookups.
type RecencyStrategy struct {
	// Enabled gates the whole strategy.
	Enabled bool
	// Window is the maximum record age considered a plausible match.
	Window time.Duration
}

// candidate returns the newest record inside the safety window, or
// ErrNotFound when the strategy is disabled or nothing qualifies.
func (s RecencyStrategy) candidate(ctx context.Context, db *gorm.DB, r ResolveRepo, now time.Time) (*domain.AttributionRecord, error) {
	if !s.Enabled || s.Window <= 0 {
		return nil, repo.ErrNotFound
	}
	return r.LatestUnconsumed(ctx, db, now, now.Add(-s.Window))
}

// Resolve attempts to claim a record for the supplied identifier, which may
// be a full reference, a short code, a mangled remnant, or empty. Strategy
// order is strict: reference match, then short-code match, then the recency
// heuristic; each step runs only when the previous produced no candidate.
//
// Returns ErrAttributionNotFound when nothing matched (or the match had
// expired), ErrAlreadyConsumed when a concurrent caller won the claim, and
// ErrStoreUnavailable for store failures.
func (s *ResolveService) Resolve(ctx context.Context, ident string) (*Resolution, error) {
	now := s.clock()

	ident = identifier.Canonical(ident)
	kind := identifier.Classify(ident)

	if kind == identifier.KindReference {
		rec, err := s.Repo.GetByReference(ctx, s.DB, ident)
		switch {
		case err == nil:
			return s.claim(ctx, rec, strategyReference, now)
		case !errors.Is(err, repo.ErrNotFound):
			resolutions.WithLabelValues(strategyReference, outcomeError).Inc()
			return nil, storeErr(err)
		}
		resolutions.WithLabelValues(strategyReference, outcomeMiss).Inc()
	}

	if kind == identifier.KindShortCode {
		rec, err := s.Repo.GetByShortCode(ctx, s.DB, ident, now)
		switch {
		case err == nil:
			return s.claim(ctx, rec, strategyShortCode, now)
		case !errors.Is(err, repo.ErrNotFound):
			resolutions.WithLabelValues(strategyShortCode, outcomeError).Inc()
			return nil, storeErr(err)
		}
		resolutions.WithLabelValues(strategyShortCode, outcomeMiss).Inc()
	}

	rec, err := s.Recency.candidate(ctx, s.DB, s.Repo, now)
	switch {
	case err == nil:
		return s.claim(ctx, rec, strategyRecency, now)
	case !errors.Is(err, repo.ErrNotFound):
		resolutions.WithLabelValues(strategyRecency, outcomeError).Inc()
		return nil, storeErr(err)
	}
	resolutions.WithLabelValues(strategyRecency, outcomeMiss).Inc()
	return nil, ErrAttributionNotFound
}

// ResolveByIP is the separate entry point used when the app reports its own
// network address instead of an identifier. The address is normalized with
// the same rules applied at capture time, so an IPv4-mapped-IPv6 report
// matches a dotted-quad capture and vice versa.
func (s *ResolveService) ResolveByIP(ctx context.Context, ip string) (*Resolution, error) {
	now := s.clock()

	norm := netutil.Normalize(ip)
	if norm == "" {
		resolutions.WithLabelValues(strategyIP, outcomeMiss).Inc()
		return nil, ErrAttributionNotFound
	}

	rec, err := s.Repo.LatestByIP(ctx, s.DB, norm, now)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		resolutions.WithLabelValues(strategyIP, outcomeMiss).Inc()
		return nil, ErrAttributionNotFound
	case err != nil:
		resolutions.WithLabelValues(strategyIP, outcomeError).Inc()
		return nil, storeErr(err)
	}
	return s.claim(ctx, rec, strategyIP, now)
}

// claim converts a candidate into a Resolution: reject stale state that the
// candidate read already exposes, run the atomic claim, and mint the
// session token from the record's payload fields. A lost claim is terminal
// for this attempt — by design there is no fallthrough to another strategy
// once a specific record was identified.
func (s *ResolveService) claim(ctx context.Context, rec *domain.AttributionRecord, strategy string, now time.Time) (*Resolution, error) {
	if !now.Before(rec.ExpiresAt) {
		resolutions.WithLabelValues(strategy, outcomeExpired).Inc()
		return nil, fmt.Errorf("record %s expired at %s: %w", rec.Reference, rec.ExpiresAt.UTC().Format(time.RFC3339), ErrAttributionNotFound)
	}
	if rec.Consumed {
		resolutions.WithLabelValues(strategy, outcomeLostRace).Inc()
		return nil, ErrAlreadyConsumed
	}

	switch err := s.Repo.ClaimAttribution(ctx, s.DB, rec.Reference, now); {
	case errors.Is(err, repo.ErrClaimLost):
		resolutions.WithLabelValues(strategy, outcomeLostRace).Inc()
		return nil, ErrAlreadyConsumed
	case err != nil:
		resolutions.WithLabelValues(strategy, outcomeError).Inc()
		return nil, storeErr(err)
	}

	sess, err := s.Codec.Sign(token.Payload{
		SubjectID:   rec.SubjectID,
		ContentID:   rec.ContentID,
		Title:       rec.Title,
		AuxiliaryID: rec.AuxiliaryID,
	}, s.SessionTokenTTL)
	if err != nil {
		// The claim already succeeded; surface the signing failure as-is.
		resolutions.WithLabelValues(strategy, outcomeError).Inc()
		return nil, err
	}

	resolutions.WithLabelValues(strategy, outcomeClaimed).Inc()
	return &Resolution{
		ContentID:    rec.ContentID,
		Title:        rec.Title,
		AuxiliaryID:  rec.AuxiliaryID,
		SessionToken: sess,
	}, nil
}

// clock returns the service time source.
func (s *ResolveService) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}
