package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-deeplink-backend/internal/domain"
)

func TestIdempotency_CreateGetRoundTrip(t *testing.T) {
	db := newAttrRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()
	now := time.Now().UTC()

	ref := uuid.NewString()
	rec, err := CreateIdempotency(ctx, db, "fp-abc", "key-1", ref, 201, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.ID == "" || rec.Reference != ref || rec.Status != 201 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "fp-abc", "key-1", now)
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.Reference != ref {
		t.Fatalf("wrong reference: %+v", got)
	}
}

func TestIdempotency_ScopedBySubject(t *testing.T) {
	db := newAttrRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := CreateIdempotency(ctx, db, "fp-abc", "key-1", uuid.NewString(), 201, time.Hour); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}

	// Same key under another subject is a different slot, not a hit.
	if _, err := GetIdempotency(ctx, db, "fp-other", "key-1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-subject key matched: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "fp-other", "key-1", uuid.NewString(), 201, time.Hour); err != nil {
		t.Fatalf("create under other subject: %v", err)
	}

	// Same (subject, key) pair collides.
	if _, err := CreateIdempotency(ctx, db, "fp-abc", "key-1", uuid.NewString(), 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestIdempotency_ExpiryAndBlankKey(t *testing.T) {
	db := newAttrRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := CreateIdempotency(ctx, db, "fp-abc", "key-1", uuid.NewString(), 201, time.Minute); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}

	// Past the TTL the slot no longer replays.
	if _, err := GetIdempotency(ctx, db, "fp-abc", "key-1", now.Add(2*time.Minute)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired key matched: %v", err)
	}

	// Blank keys never match anything.
	if _, err := GetIdempotency(ctx, db, "fp-abc", "  ", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank key matched: %v", err)
	}
}

func TestDeleteExpiredIdempotency(t *testing.T) {
	db := newAttrRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := CreateIdempotency(ctx, db, "fp-a", "key-live", uuid.NewString(), 201, time.Hour); err != nil {
		t.Fatalf("seed live: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "fp-b", "key-dead", uuid.NewString(), 201, time.Millisecond); err != nil {
		t.Fatalf("seed dead: %v", err)
	}

	n, err := DeleteExpiredIdempotency(ctx, db, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpiredIdempotency: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d rows; want 1", n)
	}
	if _, err := GetIdempotency(ctx, db, "fp-a", "key-live", now); err != nil {
		t.Fatalf("live key swept: %v", err)
	}
}
