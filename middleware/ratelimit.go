package middleware

import (
	"fmt"
	"free-games-tracker-service/utils"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type rateLimitEntry struct {
	count     int
	resetTime time.Time
	locked    bool
	lockUntil time.Time
}

var (
	rateLimitStore = make(map[string]*rateLimitEntry)
	rateLimitMutex sync.RWMutex
)

// getRealIP extracts the real IP from request headers
func getRealIP(c *gin.Context) string {
	// Priority: X-Forwarded-For (first IP) > X-Real-IP > ClientIP
	forwarded := c.GetHeader("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	realIP := c.GetHeader("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	return c.ClientIP()
}

// RateLimitMiddleware creates an IP-keyed rate limiting middleware for the
// public read API.
// maxRequests: maximum requests allowed
// window: time window duration
// lockDuration: how long to lock after exceeding limit
func RateLimitMiddleware(maxRequests int, window time.Duration, lockDuration time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s:%s", getRealIP(c), c.Request.Method, c.FullPath())

		rateLimitMutex.Lock()
		defer rateLimitMutex.Unlock()

		now := time.Now()
		entry, exists := rateLimitStore[key]

		if !exists {
			rateLimitStore[key] = &rateLimitEntry{
				count:     1,
				resetTime: now.Add(window),
			}
			c.Next()
			return
		}

		// Check if locked
		if entry.locked {
			if now.Before(entry.lockUntil) {
				utils.TooManyRequestsResponse(c, fmt.Sprintf("Too many requests. Locked until %s", entry.lockUntil.Format(time.RFC3339)))
				c.Abort()
				return
			}
			// Lock expired, reset
			entry.locked = false
			entry.count = 1
			entry.resetTime = now.Add(window)
			c.Next()
			return
		}

		// Check if window expired
		if now.After(entry.resetTime) {
			entry.count = 1
			entry.resetTime = now.Add(window)
			c.Next()
			return
		}

		entry.count++
		if entry.count > maxRequests {
			entry.locked = true
			entry.lockUntil = now.Add(lockDuration)
			utils.TooManyRequestsResponse(c, fmt.Sprintf("Too many requests. Locked for %s", lockDuration))
			c.Abort()
			return
		}

		c.Next()
	}
}

// CleanupRateLimitStore removes stale entries periodically (call this in a
// goroutine)
func CleanupRateLimitStore() {
	ticker := time.NewTicker(1 * time.Hour)
	for range ticker.C {
		rateLimitMutex.Lock()
		now := time.Now()
		for key, entry := range rateLimitStore {
			if !entry.locked && now.After(entry.resetTime.Add(1*time.Hour)) {
				delete(rateLimitStore, key)
			}
			if entry.locked && now.After(entry.lockUntil.Add(1*time.Hour)) {
				delete(rateLimitStore, key)
			}
		}
		rateLimitMutex.Unlock()
	}
}
