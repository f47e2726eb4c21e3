package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig tunes the per-client token buckets.
type RateLimitConfig struct {
	RPS        int           // steady-state requests per second per client
	Burst      int           // bucket depth; defaults to 2*RPS
	StaleAfter time.Duration // idle buckets older than this are dropped; default 10m
}

type clientBuckets struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter returns middleware enforcing a per-client-IP token bucket.
// Ingestion bursts above the bucket depth get 429 with a Retry-After hint.
func RateLimiter(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Burst <= 0 {
		cfg.Burst = 2 * cfg.RPS
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}

	cb := &clientBuckets{cfg: cfg, buckets: make(map[string]*bucket)}
	go cb.evictStale()

	return func(c *gin.Context) {
		if !cb.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (cb *clientBuckets) allow(ip string) bool {
	cb.mu.Lock()
	b, ok := cb.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(cb.cfg.RPS), cb.cfg.Burst)}
		cb.buckets[ip] = b
	}
	b.seen = time.Now()
	cb.mu.Unlock()

	return b.lim.Allow()
}

// evictStale drops buckets for clients that have gone quiet, bounding the
// map for long-running processes.
func (cb *clientBuckets) evictStale() {
	ticker := time.NewTicker(cb.cfg.StaleAfter / 2)
	defer ticker.Stop()

	for range ticker.C {
		cb.mu.Lock()
		for ip, b := range cb.buckets {
			if time.Since(b.seen) > cb.cfg.StaleAfter {
				delete(cb.buckets, ip)
			}
		}
		cb.mu.Unlock()
	}
}
