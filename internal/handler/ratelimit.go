package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Limiter bookkeeping. Executions and validations verify signatures and walk
// proof chains, so a flood of requests is CPU-bound work; throttling happens
// before any of that runs.
const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleExpiry    = 10 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware enforcing a per-client-IP token
// bucket. rps is the steady-state requests per second; burst is the maximum
// burst size. Buckets idle past limiterIdleExpiry are swept periodically.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	buckets := make(map[string]*clientBucket)

	go func() {
		for {
			time.Sleep(limiterSweepInterval)
			mu.Lock()
			for ip, b := range buckets {
				if time.Since(b.lastSeen) > limiterIdleExpiry {
					delete(buckets, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		b, ok := buckets[ip]
		if !ok {
			b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[ip] = b
		}
		b.lastSeen = time.Now()
		mu.Unlock()

		if !b.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "request rate exceeded, retry later",
			})
			return
		}
		c.Next()
	}
}
