// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// AttributionRecord model: insertion, the candidate lookups used by the
// resolution engine, the atomic claim, and expiry housekeeping.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only persistence
// and query composition. Candidate lookups are allowed to return stale
// state; correctness rests solely on ClaimAttribution, which re-validates
// `consumed` and `expires_at` inside a single conditional UPDATE.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - A lost claim race surfaces as ErrClaimLost.
//   - Unique-index violations on insert surface as ErrDuplicate.
//   - Other DB errors are propagated raw.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-deeplink-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrClaimLost is returned by ClaimAttribution when the conditional update
// matched zero rows: a concurrent caller already consumed the record, or it
// expired between candidate selection and the claim.
var ErrClaimLost = errors.New("claim lost")

// ErrDuplicate indicates an insert collided with an existing reference or
// short code.
var ErrDuplicate = errors.New("duplicate")

// CreateAttribution inserts rec as a single INSERT. The record must arrive
// fully populated (reference, short code, expiry, device info); there is no
// insert-then-patch step, so a failure never leaves a partial record behind.
// Unique violations (reference or short code) map to ErrDuplicate so the
// caller can regenerate and retry before anything is persisted.
func CreateAttribution(ctx context.Context, db *gorm.DB, rec *domain.AttributionRecord) error {
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetByReference fetches a record by its primary reference, regardless of
// consumption or expiry state. The service layer needs the full state to
// tell "lost a race" apart from "expired" in logs; callers must still pass
// every candidate through ClaimAttribution.
func GetByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.AttributionRecord, error) {
	var rec domain.AttributionRecord
	err := db.WithContext(ctx).
		Where("reference = ?", reference).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByShortCode fetches the newest unexpired record carrying the given
// short code. Expired rows are excluded because short-code uniqueness is
// only guaranteed among live rows; consumed rows are included so a repeat
// claim can be reported as such rather than as never-existing.
func GetByShortCode(ctx context.Context, db *gorm.DB, code string, now time.Time) (*domain.AttributionRecord, error) {
	var rec domain.AttributionRecord
	err := db.WithContext(ctx).
		Where("short_code = ? AND expires_at > ?", code, now).
		Order("created_at desc").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestUnconsumed returns the single most-recently-created record that is
// unconsumed, unexpired, and created at or after cutoff. It backs the
// recency-heuristic fallback; the cutoff bounds the false-positive window
// independently of the record's own TTL.
func LatestUnconsumed(ctx context.Context, db *gorm.DB, now, cutoff time.Time) (*domain.AttributionRecord, error) {
	var rec domain.AttributionRecord
	err := db.WithContext(ctx).
		Where("consumed = ? AND expires_at > ? AND created_at >= ?", false, now, cutoff).
		Order("created_at desc").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestByIP returns the most-recently-created unconsumed, unexpired record
// whose stored device IP equals ip. The caller must pass the normalized
// form (see netutil.Normalize); records store normalized addresses, so the
// comparison is plain string equality here.
func LatestByIP(ctx context.Context, db *gorm.DB, ip string, now time.Time) (*domain.AttributionRecord, error) {
	var rec domain.AttributionRecord
	err := db.WithContext(ctx).
		Where("consumed = ? AND expires_at > ? AND ip = ?", false, now, ip).
		Order("created_at desc").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ClaimAttribution atomically transitions a record from unconsumed to
// consumed. It issues one conditional UPDATE filtered on the reference AND
// consumed = false AND expires_at > now, setting consumed and consumed_at
// together. Zero affected rows means another caller won the race (or the
// record expired in between) and yields ErrClaimLost; the transition is
// all-or-nothing and is the only write that ever mutates `consumed`.
func ClaimAttribution(ctx context.Context, db *gorm.DB, reference string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.AttributionRecord{}).
		Where("reference = ? AND consumed = ? AND expires_at > ?", reference, false, now).
		Updates(map[string]any{
			"consumed":    true,
			"consumed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

// ShortCodeInUse reports whether code is carried by any unexpired record.
// Issuance uses it to collision-check freshly generated codes before the
// insert; the unique index remains the final guard under concurrency.
func ShortCodeInUse(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.AttributionRecord{}).
		Where("short_code = ? AND expires_at > ?", code, now).
		Count(&n).Error
	return n > 0, err
}

// DeleteExpired removes all records whose expiry has passed, independent of
// consumption state, and returns the number of rows deleted. Read paths
// filter on expires_at themselves, so sweep cadence affects storage growth
// only, never correctness.
func DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.AttributionRecord{})
	return res.RowsAffected, res.Error
}

// ListRecent returns up to limit records ordered newest first, independent of
// state. Backs the ops listing endpoint; limit is clamped to [1, 200].
func ListRecent(ctx context.Context, db *gorm.DB, limit int) ([]domain.AttributionRecord, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	var recs []domain.AttributionRecord
	err := db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// AttributionStats holds aggregate counts over the attribution store, used
// by the ops stats endpoint.
type AttributionStats struct {
	Live     int64 `json:"live"`
	Consumed int64 `json:"consumed"`
	Expired  int64 `json:"expired"`
}

// Stats returns counts of live (claimable), consumed, and expired-but-not-
// yet-swept records at the given instant. Three lightweight COUNT queries;
// the result is advisory and may be stale by the time it is returned.
func Stats(ctx context.Context, db *gorm.DB, now time.Time) (AttributionStats, error) {
	var s AttributionStats
	m := db.WithContext(ctx).Model(&domain.AttributionRecord{})

	if err := m.Session(&gorm.Session{}).
		Where("consumed = ? AND expires_at > ?", false, now).
		Count(&s.Live).Error; err != nil {
		return s, err
	}
	if err := m.Session(&gorm.Session{}).
		Where("consumed = ?", true).
		Count(&s.Consumed).Error; err != nil {
		return s, err
	}
	err := m.Session(&gorm.Session{}).
		Where("expires_at <= ?", now).
		Count(&s.Expired).Error
	return s, err
}
