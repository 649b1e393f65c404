// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to replay attribution-record creation safely: the redirect
// page retries its POST on flaky mobile networks, and a replay must return
// the originally created record instead of minting a second one.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-deeplink-backend/internal/domain"
)

// GetIdempotency returns a non-expired record for (subjectID, key) or
// ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, subjectID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("subject_id = ? AND key = ? AND expires_at > ?", subjectID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// DeleteExpiredIdempotency removes idempotency rows whose TTL has elapsed and
// returns the number of rows deleted.
func DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// CreateIdempotency inserts a record mapping (subjectID, key) to the
// attribution reference produced for it, and returns ErrDuplicate on unique
// violation (a concurrent retry won the insert).
func CreateIdempotency(ctx context.Context, db *gorm.DB, subjectID, key, reference string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Key:       key,
		Reference: reference,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
