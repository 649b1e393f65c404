// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the content catalog queries backing
// the content-lookup collaborator: issuance denormalizes a content title
// into tokens and attribution records exactly once, at share time.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-deeplink-backend/internal/domain"
)

// UpsertContent inserts or updates a catalog entry. The ID is caller-chosen
// (content identifiers originate in the surrounding system, not here).
func UpsertContent(ctx context.Context, db *gorm.DB, id, title string) (*domain.Content, error) {
	now := time.Now().UTC()
	c := &domain.Content{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}
	err := db.WithContext(ctx).
		Save(c).Error
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetContent fetches a catalog entry by ID, or ErrNotFound if missing.
func GetContent(ctx context.Context, db *gorm.DB, id string) (*domain.Content, error) {
	var c domain.Content
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContentTitle returns just the title for a content ID, or ErrNotFound
// when the content no longer exists.
func GetContentTitle(ctx context.Context, db *gorm.DB, id string) (string, error) {
	var row struct{ Title string }
	err := db.WithContext(ctx).
		Model(&domain.Content{}).
		Select("title").
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		return "", err
	}
	return row.Title, nil
}
