// Install resolution HTTP handlers.
//
// This file exposes the two resolution entry points called by the freshly
// installed app:
//   - POST /install/resolve     (by reference or short code, with recency fallback)
//   - POST /install/resolve-ip  (by client-reported or observed network address)
//
// Every resolution failure surfaces to the caller as the same 404 envelope.
// Expired, consumed, and never-existing records are indistinguishable on the
// wire; the typed distinction is logged with the request-scoped logger.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-deeplink-backend/internal/http/middleware"
	"github.com/tbourn/go-deeplink-backend/internal/netutil"
	"github.com/tbourn/go-deeplink-backend/internal/services"
)

// ResolveRequest carries whatever identifier survived the store hop. An
// empty identifier is legal: resolution then relies on the recency
// heuristic alone.
type ResolveRequest struct {
	// Identifier is the referrer value the app recovered: a full reference,
	// a short code, or any mangled remnant.
	Identifier string `json:"identifier" binding:"max=128" example:"3f1c0e9a-8b2d-4f6e-9a57-0c2d8f4b1e66"`
}

// ResolveByIPRequest optionally overrides the observed client address.
type ResolveByIPRequest struct {
	// IP is the address the app sees for itself; when absent the proxied
	// request address is used instead.
	IP string `json:"ip,omitempty" binding:"max=64" example:"203.0.113.5"`
}

// ResolveResponse returns the recovered share context plus a fresh session
// token minted from it.
type ResolveResponse struct {
	ContentID    string `json:"content_id"`
	Title        string `json:"title"`
	AuxiliaryID  string `json:"auxiliary_id,omitempty"`
	SessionToken string `json:"session_token"`
}

// Resolve handles POST /install/resolve.
func (h *Handlers) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid resolve payload")
		return
	}

	res, err := h.resolveSvc.Resolve(c.Request.Context(), req.Identifier)
	h.writeResolution(c, res, err)
}

// ResolveByIP handles POST /install/resolve-ip. The body is optional; when
// it carries no usable address the proxied client address of the request
// itself is used.
func (h *Handlers) ResolveByIP(c *gin.Context) {
	var req ResolveByIPRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid resolve payload")
			return
		}
	}
	ip := req.IP
	if netutil.Normalize(ip) == "" {
		ip = netutil.ClientIP(c.Request)
	}

	res, err := h.resolveSvc.ResolveByIP(c.Request.Context(), ip)
	h.writeResolution(c, res, err)
}

// writeResolution maps a resolution outcome onto the wire, collapsing all
// terminal misses into one envelope while logging what actually happened.
func (h *Handlers) writeResolution(c *gin.Context, res *services.Resolution, err error) {
	switch {
	case errors.Is(err, services.ErrAttributionNotFound):
		middleware.LoggerFrom(c).Info().Err(err).Msg("resolution miss")
		fail(c, http.StatusNotFound, ErrCodeAttributionNotFound, "attribution not found")
		return
	case errors.Is(err, services.ErrAlreadyConsumed):
		middleware.LoggerFrom(c).Warn().Err(err).Msg("resolution lost claim race")
		fail(c, http.StatusNotFound, ErrCodeAttributionNotFound, "attribution not found")
		return
	case errors.Is(err, services.ErrStoreUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "store unavailable, retry later")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "resolution failed")
		return
	}

	ok(c, http.StatusOK, ResolveResponse{
		ContentID:    res.ContentID,
		Title:        res.Title,
		AuxiliaryID:  res.AuxiliaryID,
		SessionToken: res.SessionToken,
	})
}
