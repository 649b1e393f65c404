package services

import (
	"errors"
	"testing"

	"gorm.io/gorm"
)

func TestStoreErr(t *testing.T) {
	if got := storeErr(nil); got != nil {
		t.Fatalf("storeErr(nil) = %v", got)
	}

	// Missing-row sentinel passes through so callers can branch on it.
	if got := storeErr(gorm.ErrRecordNotFound); !errors.Is(got, gorm.ErrRecordNotFound) {
		t.Fatalf("storeErr(ErrRecordNotFound) = %v", got)
	}
	if errors.Is(storeErr(gorm.ErrRecordNotFound), ErrStoreUnavailable) {
		t.Fatalf("missing-row sentinel must not be classified as unavailable")
	}

	// Everything else is wrapped as a retryable store failure, keeping the
	// cause in the chain.
	cause := errors.New("database is locked")
	got := storeErr(cause)
	if !errors.Is(got, ErrStoreUnavailable) {
		t.Fatalf("storeErr(driver failure) = %v; want ErrStoreUnavailable", got)
	}
}
