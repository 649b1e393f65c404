// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-deeplink-backend/internal/config"
	"github.com/tbourn/go-deeplink-backend/internal/domain"
	"github.com/tbourn/go-deeplink-backend/internal/http/handlers"
	"github.com/tbourn/go-deeplink-backend/internal/http/middleware"
	"github.com/tbourn/go-deeplink-backend/internal/repo"
	"github.com/tbourn/go-deeplink-backend/internal/services"
	"github.com/tbourn/go-deeplink-backend/internal/token"
)

// issueRepoShim adapts the repository free functions to the
// services.IssueRepo interface expected by the IssueService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type issueRepoShim struct{}

// CreateAttribution proxies repo.CreateAttribution.
func (issueRepoShim) CreateAttribution(ctx context.Context, db *gorm.DB, rec *domain.AttributionRecord) error {
	return repo.CreateAttribution(ctx, db, rec)
}

// ShortCodeInUse proxies repo.ShortCodeInUse.
func (issueRepoShim) ShortCodeInUse(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error) {
	return repo.ShortCodeInUse(ctx, db, code, now)
}

// resolveRepoShim adapts the repository free functions to the
// services.ResolveRepo interface expected by the ResolveService.
type resolveRepoShim struct{}

// GetByReference proxies repo.GetByReference.
func (resolveRepoShim) GetByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.AttributionRecord, error) {
	return repo.GetByReference(ctx, db, reference)
}

// GetByShortCode proxies repo.GetByShortCode.
func (resolveRepoShim) GetByShortCode(ctx context.Context, db *gorm.DB, code string, now time.Time) (*domain.AttributionRecord, error) {
	return repo.GetByShortCode(ctx, db, code, now)
}

// LatestUnconsumed proxies repo.LatestUnconsumed.
func (resolveRepoShim) LatestUnconsumed(ctx context.Context, db *gorm.DB, now, cutoff time.Time) (*domain.AttributionRecord, error) {
	return repo.LatestUnconsumed(ctx, db, now, cutoff)
}

// LatestByIP proxies repo.LatestByIP.
func (resolveRepoShim) LatestByIP(ctx context.Context, db *gorm.DB, ip string, now time.Time) (*domain.AttributionRecord, error) {
	return repo.LatestByIP(ctx, db, ip, now)
}

// ClaimAttribution proxies repo.ClaimAttribution.
func (resolveRepoShim) ClaimAttribution(ctx context.Context, db *gorm.DB, reference string, now time.Time) error {
	return repo.ClaimAttribution(ctx, db, reference, now)
}

// contentLookupShim adapts the content repository to the services.ContentLookup
// contract consumed at issuance time.
type contentLookupShim struct{ db *gorm.DB }

// GetContentTitle proxies repo.GetContentTitle.
func (s contentLookupShim) GetContentTitle(ctx context.Context, id string) (string, error) {
	return repo.GetContentTitle(ctx, s.db, id)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured logs with token/reference scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip compression
//  7. Metrics
//  8. Idempotency-Key validation
//  9. Rate limiter (per subject/IP)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, codec token.Codec, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with token/reference scrubbing
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; the largest legal payload is a
	// share token plus a few short fields)
	r.Use(limitBody(64 << 10))

	// 6) Compress responses for clients that ask for it
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency-Key validation (replay handling lives in the handler)
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{
		MaxLen: 200,
	}))

	// 9) Token-bucket rate limiter per subject/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySubjectOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture. The issuance endpoints are called from the redirect
	// page in arbitrary mobile browsers, so an empty allowlist means "any".
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true, // responses carry bearer tokens; never cache
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/codec
	issueSvc := &services.IssueService{
		DB:               db,
		Repo:             issueRepoShim{},
		Contents:         contentLookupShim{db: db},
		Codec:            codec,
		ShareTokenTTL:    cfg.ShareTokenTTL,
		AttributionTTL:   cfg.AttributionTTL,
		TitleMaxLen:      255,
		DeepLinkScheme:   cfg.DeepLinkScheme,
		WebBaseURL:       cfg.WebBaseURL,
		StoreURLTemplate: cfg.StoreURLTemplate,
	}
	resolveSvc := &services.ResolveService{
		DB:              db,
		Repo:            resolveRepoShim{},
		Codec:           codec,
		SessionTokenTTL: cfg.SessionTokenTTL,
		Recency: services.RecencyStrategy{
			Enabled: cfg.RecencyFallbackEnabled,
			Window:  cfg.RecencyWindow,
		},
	}
	h := handlers.New(issueSvc, resolveSvc, db, issueSvc.StoreRedirectURL, cfg.IdempotencyTTL)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Share issuance (redirect page)
		api.POST("/shares", h.CreateShare)
		api.POST("/attributions", h.CreateAttribution)

		// Install resolution (app-side caller)
		api.POST("/install/resolve", h.Resolve)
		api.POST("/install/resolve-ip", h.ResolveByIP)

		// Content catalog + ops
		api.POST("/contents", h.UpsertContent)
		api.GET("/contents/:id", h.GetContent)
		api.GET("/attributions/stats", h.AttributionStats)
		api.GET("/attributions/recent", h.ListAttributions)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
