package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func rlRouter(rl *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimiter_AllowsBurstThenBlocks(t *testing.T) {
	// 0 rps means the bucket never refills: only the burst passes.
	rl := NewRateLimiter(0, 2, KeyBySubjectOrIP())
	r := rlRouter(rl)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "203.0.113.5:1000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		statuses = append(statuses, w.Code)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("burst rejected: %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third request not limited: %v", statuses)
	}
}

func TestRateLimiter_SeparateBucketsPerIP(t *testing.T) {
	rl := NewRateLimiter(0, 1, KeyBySubjectOrIP())
	r := rlRouter(rl)

	for _, addr := range []string{"203.0.113.5:1", "203.0.113.6:1"} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("first request from %s limited: %d", addr, w.Code)
		}
	}
}

func TestRateLimiter_SubjectKeyOverridesIP(t *testing.T) {
	rl := NewRateLimiter(0, 1, KeyBySubjectOrIP())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("subjectID", c.GetHeader("X-Test-Subject"))
		c.Next()
	})
	r.Use(rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Two subjects behind the same IP get separate buckets.
	for _, subject := range []string{"u-1", "u-2"} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "203.0.113.5:1000"
		req.Header.Set("X-Test-Subject", subject)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("subject %s limited on first request: %d", subject, w.Code)
		}
	}

	// Second request for an exhausted subject is limited even from a new IP.
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "198.51.100.9:1000"
	req.Header.Set("X-Test-Subject", "u-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("subject bucket not shared across IPs: %d", w.Code)
	}
}

func TestRateLimiter_429Body(t *testing.T) {
	rl := NewRateLimiter(0, 1, KeyBySubjectOrIP())
	r := rlRouter(rl)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "203.0.113.5:1000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
	body := w.Body.String()
	if !strings.Contains(body, "rate_limited") || !strings.Contains(body, "rate limit exceeded") {
		t.Fatalf("body = %s", body)
	}
}

func TestNewRateLimiter_CoercesBurst(t *testing.T) {
	rl := NewRateLimiter(1, 0, KeyBySubjectOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst = %d; want 1", rl.burst)
	}
}
