package api_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sealog-io/sealog/internal/api"
)

func TestRateLimiter_burstThenRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(api.RateLimiter(api.RateLimitConfig{RPS: 1, Burst: 2}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	// The bucket starts full: the burst passes, the next request does not.
	for i := 0; i < 2; i++ {
		if w := do(t, r, http.MethodGet, "/ping", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d within burst: got %d, want 200", i, w.Code)
		}
	}

	w := do(t, r, http.MethodGet, "/ping", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over burst: got %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
}

func TestRateLimiter_refillsOverTime(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(api.RateLimiter(api.RateLimitConfig{RPS: 100, Burst: 1}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := do(t, r, http.MethodGet, "/ping", ""); w.Code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/ping", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("drained bucket: got %d, want 429", w.Code)
	}

	// At 100 rps one token is back within 10ms.
	time.Sleep(20 * time.Millisecond)
	if w := do(t, r, http.MethodGet, "/ping", ""); w.Code != http.StatusOK {
		t.Errorf("after refill: got %d, want 200", w.Code)
	}
}
