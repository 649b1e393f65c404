package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-deeplink-backend/internal/domain"
)

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does", "not", "exist", "app.db")
	if _, err := OpenSQLite(path); err == nil {
		t.Fatalf("expected error for missing parent directory")
	}
}

func TestOpenSQLite_AndAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	// All three tables usable end to end.
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &domain.AttributionRecord{
		Reference:   uuid.NewString(),
		ShortCode:   "A7K2M9QX",
		ContentID:   "c-1",
		PayloadHash: "00",
		Title:       "t",
		SubjectID:   "u-1",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := CreateAttribution(ctx, db, rec); err != nil {
		t.Fatalf("CreateAttribution: %v", err)
	}
	if _, err := UpsertContent(ctx, db, "c-1", "t"); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "fp", "k", rec.Reference, 201, time.Hour); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
}
