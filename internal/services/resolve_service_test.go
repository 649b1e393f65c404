package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-deeplink-backend/internal/domain"
	"github.com/tbourn/go-deeplink-backend/internal/repo"
	"github.com/tbourn/go-deeplink-backend/internal/token"
)

// fakeResolveRepo serves candidates from in-memory records and mimics the
// store's conditional-claim semantics. Claim behavior can be overridden via
// claimErr to script lost races.
type fakeResolveRepo struct {
	records map[string]*domain.AttributionRecord // by reference

	claimErr error // when set, ClaimAttribution returns it unconditionally

	// call log, for asserting strict strategy priority.
	calls []string

	failAll bool
}

var errFakeStore = errors.New("store down")

func (f *fakeResolveRepo) GetByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.AttributionRecord, error) {
	f.calls = append(f.calls, "reference")
	if f.failAll {
		return nil, errFakeStore
	}
	if rec, ok := f.records[reference]; ok {
		return rec, nil
	}
	return nil, repo.ErrNotFound
}

func (f *fakeResolveRepo) GetByShortCode(ctx context.Context, db *gorm.DB, code string, now time.Time) (*domain.AttributionRecord, error) {
	f.calls = append(f.calls, "short_code")
	if f.failAll {
		return nil, errFakeStore
	}
	for _, rec := range f.records {
		if rec.ShortCode == code && now.Before(rec.ExpiresAt) {
			return rec, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeResolveRepo) LatestUnconsumed(ctx context.Context, db *gorm.DB, now, cutoff time.Time) (*domain.AttributionRecord, error) {
	f.calls = append(f.calls, "recency")
	if f.failAll {
		return nil, errFakeStore
	}
	var best *domain.AttributionRecord
	for _, rec := range f.records {
		if rec.Consumed || !now.Before(rec.ExpiresAt) || rec.CreatedAt.Before(cutoff) {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, repo.ErrNotFound
	}
	return best, nil
}

func (f *fakeResolveRepo) LatestByIP(ctx context.Context, db *gorm.DB, ip string, now time.Time) (*domain.AttributionRecord, error) {
	f.calls = append(f.calls, "ip")
	if f.failAll {
		return nil, errFakeStore
	}
	var best *domain.AttributionRecord
	for _, rec := range f.records {
		if rec.Consumed || !now.Before(rec.ExpiresAt) || rec.IP != ip {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, repo.ErrNotFound
	}
	return best, nil
}

func (f *fakeResolveRepo) ClaimAttribution(ctx context.Context, db *gorm.DB, reference string, now time.Time) error {
	f.calls = append(f.calls, "claim")
	if f.claimErr != nil {
		return f.claimErr
	}
	rec, ok := f.records[reference]
	if !ok || rec.Consumed || !now.Before(rec.ExpiresAt) {
		return repo.ErrClaimLost
	}
	rec.Consumed = true
	at := now
	rec.ConsumedAt = &at
	return nil
}

func newResolveService(t *testing.T, r ResolveRepo, at time.Time) *ResolveService {
	t.Helper()
	codec, err := token.NewHMACCodec("resolve-test-secret")
	if err != nil {
		t.Fatalf("NewHMACCodec: %v", err)
	}
	return &ResolveService{
		Repo:            r,
		Codec:           codec,
		SessionTokenTTL: 24 * time.Hour,
		Recency:         RecencyStrategy{Enabled: true, Window: 5 * time.Minute},
		now:             func() time.Time { return at },
	}
}

func seedRecord(created time.Time, ttl time.Duration) *domain.AttributionRecord {
	return &domain.AttributionRecord{
		Reference:   uuid.NewString(),
		ShortCode:   "A7K2M9QX",
		ContentID:   "c-1",
		AuxiliaryID: "img-7",
		Title:       "Autumn lookbook",
		SubjectID:   "u-1",
		CreatedAt:   created,
		ExpiresAt:   created.Add(ttl),
	}
}

func TestResolve_ByReference_ThenAlreadyConsumed(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := seedRecord(at.Add(-time.Minute), 30*time.Minute)
	fr := &fakeResolveRepo{records: map[string]*domain.AttributionRecord{rec.Reference: rec}}
	svc := newResolveService(t, fr, at)

	res, err := svc.Resolve(context.Background(), rec.Reference)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ContentID != "c-1" || res.Title != "Autumn lookbook" || res.AuxiliaryID != "img-7" {
		t.Fatalf("unexpected resolution: %+v", res)
	}

	// The session token is a real verifiable token carrying the share context.
	p, err := svc.Codec.Verify(res.SessionToken)
	if err != nil {
		t.Fatalf("session token does not verify: %v", err)
	}
	if p.SubjectID != "u-1" || p.ContentID != "c-1" {
		t.Fatalf("session payload: %+v", p)
	}

	// A second attempt with the same reference reports the consumed state,
	// never a silent success and never "not found".
	if _, err := svc.Resolve(context.Background(), rec.Reference); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("second resolve = %v; want ErrAlreadyConsumed", err)
	}
}

func TestResolve_ByShortCode_CaseInsensitive(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := seedRecord(at.Add(-time.Minute), 30*time.Minute)
	fr := &fakeResolveRepo{records: map[string]*domain.AttributionRecord{rec.Reference: rec}}
	svc := newResolveService(t, fr, at)

	// Store channels may lowercase the code; lookup uses the canonical form.
	res, err := svc.Resolve(context.Background(), "a7k2m9qx")
	if err != nil {
		t.Fatalf("Resolve by short code: %v", err)
	}
	if res.ContentID != "c-1" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if !rec.Consumed {
		t.Fatalf("record not claimed")
	}
}

func TestResolve_Recency_InsideWindow(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := seedRecord(at.Add(-4*time.Minute), 30*time.Minute)
	fr := &fakeResolveRepo{records: map[string]*domain.AttributionRecord{rec.Reference: rec}}
	svc := newResolveService(t, fr, at)

	// Mangled identifier: neither reference nor short code shaped.
	res, err := svc.Resolve(context.Background(), "ref%3Dsomething-mangled")
	if err != nil {
		t.Fatalf("Resolve via recency: %v", err)
	}
	if res.ContentID != "c-1" || !rec.Consumed {
		t.Fatalf("recency candidate not claimed: %+v", res)
	}
}

func TestResolve_Recency_OutsideWindow(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// 11 minutes old: unexpired (30m TTL) but past the 5m safety window.
	rec := seedRecord(at.Add(-11*time.Minute), 30*time.Minute)
	fr := &fakeResolveRepo{records: map[string]*domain.AttributionRecord{rec.Reference: rec}}
	svc := newResolveService(t, fr, at)

	if _, err := svc.Resolve(context.Background(), ""); !errors.Is(err, ErrAttributionNotFound) {
		t.Fatalf("Resolve = %v; want ErrAttributionNotFound", err)
	}
	if rec.Consumed {
		t.Fatalf("record outside window was claimed")
	}
}

func TestResolve_Recency_Disabled(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := seedRecord(at.Add(-time.Minute), 30*time.Minute)
	fr := &fakeResolveRepo{records: map[string]*domain.AttributionRecord{rec.Reference: rec}}
	svc := newResolveService(t, fr, at)
	svc.Recency.Enabled = false

	if _, err := svc.Resolve(context.Background(), ""); !errors.Is(err, ErrAttributionNotFound) {
		t.Fatalf("Resolve with disabled recency = %v; want ErrAttributionNotFound", err)
	}
	// The store is never even consulted for the recency candidate.
	for _, call := range fr.calls {
		if call == "recency" {
			t.Fatalf("disabled recency strategy queried the store")
		}
	}
}

func TestResolve_LostRace_NoFallthrough(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := seedRecord(at.Add(-time.Minute), 30*time.Minute)
	fr := &fakeResolveRepo{
		records:  map[string]*domain.AttributionRecord{rec.Reference: rec},
		claimErr: repo.ErrClaimLost,
	}
	svc := newResolveService(t, fr, at)

	if _, err := svc.Resolve(context.Background(), rec.Reference); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("lost race = %v; want ErrAlreadyConsumed", err)
	}
	// Once a candidate was identified, a lost claim is terminal: no weaker
	// strategy may run afterwards.
	for _, call := range fr.calls {
		if call == "short_code" || call == "recency" {
			t.Fatalf("fell through to %q after losing the claim", call)
		}
	}
}

func TestResolve_ExpiredReference(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := seedRecord(at.Add(-2*time.Hour), 30*time.Minute)
	fr := &fakeResolveRepo{records: map[string]*domain.AttributionRecord{rec.Reference: rec}}
	svc := newResolveService(t, fr, at)
	svc.Recency.Enabled = false

	_, err := svc.Resolve(context.Background(), rec.Reference)
	if !errors.Is(err, ErrAttributionNotFound) {
		t.Fatalf("expired reference = %v; want ErrAttributionNotFound", err)
	}
	if rec.Consumed {
		t.Fatalf("expired record was claimed")
	}
}

func TestResolve_StoreFailure(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fr := &fakeResolveRepo{records: map[string]*domain.AttributionRecord{}, failAll: true}
	svc := newResolveService(t, fr, at)

	if _, err := svc.Resolve(context.Background(), uuid.NewString()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("store failure = %v; want ErrStoreUnavailable", err)
	}
}

func TestResolveByIP(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := seedRecord(at.Add(-time.Minute), 30*time.Minute)
	rec.IP = "203.0.113.5" // stored normalized
	fr := &fakeResolveRepo{records: map[string]*domain.AttributionRecord{rec.Reference: rec}}
	svc := newResolveService(t, fr, at)

	// The app reports the IPv4-mapped-IPv6 form; it must match the stored
	// dotted-quad capture.
	res, err := svc.ResolveByIP(context.Background(), "::ffff:203.0.113.5")
	if err != nil {
		t.Fatalf("ResolveByIP: %v", err)
	}
	if res.ContentID != "c-1" || !rec.Consumed {
		t.Fatalf("IP candidate not claimed: %+v", res)
	}
}

func TestResolveByIP_Misses(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := seedRecord(at.Add(-time.Minute), 30*time.Minute)
	rec.IP = "203.0.113.5"
	fr := &fakeResolveRepo{records: map[string]*domain.AttributionRecord{rec.Reference: rec}}
	svc := newResolveService(t, fr, at)

	// Unknown address.
	if _, err := svc.ResolveByIP(context.Background(), "198.51.100.1"); !errors.Is(err, ErrAttributionNotFound) {
		t.Fatalf("unknown IP = %v; want ErrAttributionNotFound", err)
	}
	// Unusable address short-circuits before any store read.
	before := len(fr.calls)
	if _, err := svc.ResolveByIP(context.Background(), "127.0.0.1"); !errors.Is(err, ErrAttributionNotFound) {
		t.Fatalf("loopback IP = %v; want ErrAttributionNotFound", err)
	}
	if len(fr.calls) != before {
		t.Fatalf("loopback address reached the store")
	}
}
