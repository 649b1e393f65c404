package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-deeplink-backend/internal/http/middleware"
)

func TestFail_EnvelopeWithRequestID(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/x", func(c *gin.Context) {
		Fail(c, http.StatusNotFound, ErrCodeAttributionNotFound, "attribution not found")
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	got := decodeJSON[ErrorResponse](t, w)
	if got.RequestID != "req-42" || got.Code != ErrCodeAttributionNotFound {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if got.Message != "attribution not found" {
		t.Fatalf("message = %q", got.Message)
	}
}

func TestFail_ServerErrorWithoutLoggerMiddleware(t *testing.T) {
	// 5xx logging falls back to the global logger when no request-scoped
	// logger was installed; must not panic.
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		Fail(c, http.StatusInternalServerError, ErrCodeInternal, "boom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	got := decodeJSON[ErrorResponse](t, w)
	if got.Code != ErrCodeInternal || got.RequestID != "" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
}
