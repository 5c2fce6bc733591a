package httpmw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/metahub/integrationhub/internal/tenant"
)

// tokenBucket is the same refill algorithm as the teacher's RateLimiter,
// unchanged: a fixed capacity that refills at a steady rate.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	lastRefill time.Time
	refillRate time.Duration
}

func newTokenBucket(maxTokens int, refillRate time.Duration) *tokenBucket {
	return &tokenBucket{tokens: maxTokens, maxTokens: maxTokens, lastRefill: time.Now(), refillRate: refillRate}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(b.lastRefill); elapsed >= b.refillRate {
		toAdd := int(elapsed / b.refillRate)
		b.tokens += toAdd
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
		b.lastRefill = now
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// RateLimit buckets requests per authenticated caller (falling back to
// remote IP for unauthenticated ones), rejecting with 429 once the bucket
// is empty. Per-tenant webhook ingestion volume is bounded separately by
// the Delivery Worker's semaphore; this guards the API surface.
func RateLimit(maxTokens int, refillRate time.Duration) gin.HandlerFunc {
	var mu sync.RWMutex
	buckets := make(map[string]*tokenBucket)

	return func(c *gin.Context) {
		key := c.ClientIP()
		if caller, ok := tenant.FromContext(c.Request.Context()); ok {
			key = caller.UserID
		}

		mu.RLock()
		bucket, exists := buckets[key]
		mu.RUnlock()
		if !exists {
			mu.Lock()
			if bucket, exists = buckets[key]; !exists {
				bucket = newTokenBucket(maxTokens, refillRate)
				buckets[key] = bucket
			}
			mu.Unlock()
		}

		if !bucket.allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
				"code":    "RATE_LIMITED",
				"message": "too many requests, please slow down",
			}})
			c.Abort()
			return
		}
		c.Next()
	}
}
