// Package housekeeping runs background maintenance over the attribution
// store. Expiry is enforced at read time (expired rows can never be claimed),
// so the sweeper exists for hygiene: it keeps the table small enough that the
// short-code uniqueness check and the recency scan stay cheap, and it prunes
// spent idempotency keys.
package housekeeping

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-deeplink-backend/internal/repo"
)

// Sweeper periodically deletes expired attribution records and idempotency
// keys. Run blocks until the context is canceled.
type Sweeper struct {
	DB       *gorm.DB
	Interval time.Duration
	Log      zerolog.Logger

	// now is a test seam; nil means time.Now.
	now func() time.Time
}

// Run executes a sweep every Interval until ctx is canceled. The first sweep
// happens after one interval, not at startup, so a crash-looping process does
// not hammer the database.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Log.Debug().Msg("sweeper stopped")
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

// sweep performs a single pass. Errors are logged, never fatal; the next tick
// retries.
func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()
	if s.now != nil {
		now = s.now()
	}

	records, err := repo.DeleteExpired(ctx, s.DB, now)
	if err != nil {
		s.Log.Error().Err(err).Msg("sweep expired attribution records")
	}
	keys, err := repo.DeleteExpiredIdempotency(ctx, s.DB, now)
	if err != nil {
		s.Log.Error().Err(err).Msg("sweep expired idempotency keys")
	}

	if records > 0 || keys > 0 {
		s.Log.Info().
			Int64("attribution_records", records).
			Int64("idempotency_keys", keys).
			Msg("sweep complete")
	}
}
