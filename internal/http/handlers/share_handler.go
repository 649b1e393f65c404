// Share and attribution HTTP handlers.
//
// This file exposes the issuance side of the install gap:
//   - POST /shares        (mint a signed share token plus redirect URLs)
//   - POST /attributions  (persist an attribution record after a failed app open)
//
// Handlers are transport-thin: they validate input, capture device signals
// from the request, call application services, and translate results into
// HTTP responses. POST /attributions honors the Idempotency-Key header so
// the redirect page can retry on flaky mobile networks without minting a
// second record for the same share event.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-deeplink-backend/internal/domain"
	"github.com/tbourn/go-deeplink-backend/internal/http/middleware"
	"github.com/tbourn/go-deeplink-backend/internal/netutil"
	"github.com/tbourn/go-deeplink-backend/internal/repo"
	"github.com/tbourn/go-deeplink-backend/internal/services"
	"github.com/tbourn/go-deeplink-backend/internal/token"
)

//
// Service contracts (context-aware)
//

// IssueService defines the issuance operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type IssueService interface {
	// IssueShareToken signs a long-lived share token and builds the
	// deep-link and web URLs for the redirect page.
	IssueShareToken(ctx context.Context, subjectID, contentID, auxiliaryID string) (services.ShareLinks, error)
	// CreateAttribution verifies a share token and persists a short-lived
	// attribution record, returning it plus the store redirect URL.
	CreateAttribution(ctx context.Context, tok string, dev services.DeviceInfo) (*domain.AttributionRecord, string, error)
}

// ResolveService defines the resolution operations consumed by HTTP handlers.
type ResolveService interface {
	// Resolve claims a record by reference, short code, or recency fallback.
	Resolve(ctx context.Context, ident string) (*services.Resolution, error)
	// ResolveByIP claims the newest record captured from the given address.
	ResolveByIP(ctx context.Context, ip string) (*services.Resolution, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the attribution engine. It depends
// on abstract service interfaces to keep transport concerns separate from
// business logic; the DB handle is used only for idempotency replay and the
// ops endpoints.
type Handlers struct {
	issueSvc   IssueService
	resolveSvc ResolveService
	db         *gorm.DB

	// storeURL renders the store redirect URL for a reference; needed to
	// rebuild the original response body on idempotent replays.
	storeURL func(reference string) string

	// IdempotencyTTL bounds how long a replayed Idempotency-Key stays valid.
	IdempotencyTTL time.Duration
}

// New constructs a Handlers instance bound to the given services. storeURL
// must render the same store redirect URL the issuance service embeds in
// fresh responses.
func New(issueSvc IssueService, resolveSvc ResolveService, db *gorm.DB, storeURL func(string) string, idemTTL time.Duration) *Handlers {
	return &Handlers{issueSvc: issueSvc, resolveSvc: resolveSvc, db: db, storeURL: storeURL, IdempotencyTTL: idemTTL}
}

//
// DTOs
//

// CreateShareRequest is the JSON payload for minting a share token.
type CreateShareRequest struct {
	// SubjectID is the user performing the share.
	SubjectID string `json:"subject_id" binding:"required,min=1,max=64" example:"u-8842"`
	// ContentID is the shared content.
	ContentID string `json:"content_id" binding:"required,min=1,max=64" example:"c-109"`
	// AuxiliaryID optionally points inside the content (e.g. one image).
	AuxiliaryID string `json:"auxiliary_id,omitempty" binding:"max=64" example:"img-3"`
}

// CreateShareResponse carries the signed token and the URLs the redirect
// page uses for the installed-app attempt and the web fallback.
type CreateShareResponse struct {
	Token       string `json:"token"`
	DeepLinkURL string `json:"deep_link_url"`
	WebURL      string `json:"web_url"`
}

// CreateAttributionRequest is posted by client script once the app-open
// attempt is judged to have failed.
type CreateAttributionRequest struct {
	// Token is the share token originally minted by POST /shares.
	Token string `json:"token" binding:"required"`
	// InstallSource optionally names the store flow being attempted.
	InstallSource string `json:"install_source,omitempty" binding:"max=64" example:"play"`
}

// CreateAttributionResponse returns the claim keys and the store redirect.
type CreateAttributionResponse struct {
	Reference        string    `json:"reference"`
	ShortCode        string    `json:"short_code"`
	StoreRedirectURL string    `json:"store_redirect_url"`
	ExpiresAt        time.Time `json:"expires_at"`
}

//
// Endpoints
//

// CreateShare handles POST /shares.
func (h *Handlers) CreateShare(c *gin.Context) {
	var req CreateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid share payload")
		return
	}

	links, err := h.issueSvc.IssueShareToken(c.Request.Context(), req.SubjectID, req.ContentID, req.AuxiliaryID)
	switch {
	case errors.Is(err, services.ErrInvalidShare):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case errors.Is(err, services.ErrContentNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "content not found")
		return
	case errors.Is(err, services.ErrStoreUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "store unavailable, retry later")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeIssueFailed, "could not issue share token")
		return
	}

	ok(c, http.StatusCreated, CreateShareResponse{
		Token:       links.Token,
		DeepLinkURL: links.DeepLinkURL,
		WebURL:      links.WebURL,
	})
}

// CreateAttribution handles POST /attributions.
//
// When the request carries a previously seen Idempotency-Key for the same
// share token, the originally created record is returned (HTTP 200) instead
// of inserting a duplicate; fresh creations answer HTTP 201.
func (h *Handlers) CreateAttribution(c *gin.Context) {
	var req CreateAttributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid attribution payload")
		return
	}
	ctx := c.Request.Context()

	// Replay check: scoped to the share token so one key cannot collide
	// across unrelated shares.
	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	scope := token.Fingerprint(req.Token)
	if hasKey {
		if prior, err := repo.GetIdempotency(ctx, h.db, scope, idemKey, time.Now().UTC()); err == nil {
			if rec, err := repo.GetByReference(ctx, h.db, prior.Reference); err == nil {
				ok(c, http.StatusOK, h.attributionResponse(rec))
				return
			}
		}
	}

	dev := services.DeviceInfo{
		UserAgent:     c.Request.UserAgent(),
		IP:            netutil.ClientIP(c.Request),
		InstallSource: req.InstallSource,
	}

	rec, _, err := h.issueSvc.CreateAttribution(ctx, req.Token, dev)
	switch {
	case errors.Is(err, token.ErrTokenInvalid):
		fail(c, http.StatusUnauthorized, ErrCodeTokenInvalid, "share token is invalid or expired")
		return
	case errors.Is(err, services.ErrContentNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "content no longer exists")
		return
	case errors.Is(err, services.ErrStoreUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "store unavailable, retry later")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeIssueFailed, "could not create attribution record")
		return
	}

	if hasKey {
		// Best effort: losing this insert to a concurrent retry is harmless,
		// the attribution claim itself stays at-most-once.
		if _, err := repo.CreateIdempotency(ctx, h.db, scope, idemKey, rec.Reference, http.StatusCreated, h.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record insert failed")
		}
	}

	ok(c, http.StatusCreated, h.attributionResponse(rec))
}

// attributionResponse maps a record to its creation response, re-rendering
// the store redirect URL so replays return exactly what the original
// response carried.
func (h *Handlers) attributionResponse(rec *domain.AttributionRecord) CreateAttributionResponse {
	resp := CreateAttributionResponse{
		Reference: rec.Reference,
		ShortCode: rec.ShortCode,
		ExpiresAt: rec.ExpiresAt,
	}
	if h.storeURL != nil {
		resp.StoreRedirectURL = h.storeURL(rec.Reference)
	}
	return resp
}
