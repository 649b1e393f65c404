// Content catalog and ops HTTP handlers.
//
// The catalog backs the content-lookup collaborator: issuance denormalizes
// titles from it at share time. The endpoints here are administrative —
// the surrounding system owns content identity; this service only needs
// the id → title mapping to exist.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-deeplink-backend/internal/repo"
	"github.com/tbourn/go-deeplink-backend/internal/utils"
)

// UpsertContentRequest creates or updates a catalog entry.
type UpsertContentRequest struct {
	ID    string `json:"id" binding:"required,min=1,max=64" example:"c-109"`
	Title string `json:"title" binding:"required,min=1,max=255" example:"Autumn lookbook"`
}

// UpsertContent handles POST /contents.
func (h *Handlers) UpsertContent(c *gin.Context) {
	var req UpsertContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid content payload")
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id and title must not be blank")
		return
	}

	content, err := repo.UpsertContent(c.Request.Context(), h.db, strings.TrimSpace(req.ID), strings.TrimSpace(req.Title))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not store content")
		return
	}
	ok(c, http.StatusCreated, content)
}

// GetContent handles GET /contents/:id.
func (h *Handlers) GetContent(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	content, err := repo.GetContent(c.Request.Context(), h.db, id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "content not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load content")
		return
	}
	ok(c, http.StatusOK, content)
}

// AttributionStats handles GET /attributions/stats: advisory live/consumed/
// expired counts over the attribution store for dashboards and alerting.
func (h *Handlers) AttributionStats(c *gin.Context) {
	stats, err := repo.Stats(c.Request.Context(), h.db, time.Now().UTC())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not compute stats")
		return
	}
	ok(c, http.StatusOK, stats)
}

// ListAttributions handles GET /attributions/recent?limit=N: the newest
// records regardless of state, for ops inspection. The limit defaults to 50
// and is clamped by the repository.
func (h *Handlers) ListAttributions(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 50)
	recs, err := repo.ListRecent(c.Request.Context(), h.db, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list records")
		return
	}
	ok(c, http.StatusOK, gin.H{"count": len(recs), "records": recs})
}
