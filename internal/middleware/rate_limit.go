package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func isHealthCheck(path string) bool {
	return path == "/health" || strings.HasSuffix(path, "/api/v1/health")
}

// RateLimitMiddleware applies one process-wide limiter to every route
// except the health check.
func RateLimitMiddleware(limiter *rate.Limiter, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isHealthCheck(c.Request.URL.Path) {
			c.Next()
			return
		}

		if !limiter.Allow() {
			log.Warnw("rate limit blocked request", "ip", c.ClientIP(), "path", c.Request.URL.Path)

			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// IPRateLimiter keeps one limiter per client IP. Limiters idle longer than
// ttl are dropped by Cleanup.
type IPRateLimiter struct {
	ips map[string]*ipLimiter
	mu  sync.Mutex
	r   rate.Limit
	b   int
	ttl time.Duration
	now func() time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(r rate.Limit, b int, ttl time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		ips: make(map[string]*ipLimiter),
		r:   r,
		b:   b,
		ttl: ttl,
		now: time.Now,
	}
}

func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, exists := i.ips[ip]
	if !exists {
		entry = &ipLimiter{limiter: rate.NewLimiter(i.r, i.b)}
		i.ips[ip] = entry
	}
	entry.lastSeen = i.now()
	return entry.limiter
}

// Size is the number of tracked IPs.
func (i *IPRateLimiter) Size() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.ips)
}

// Cleanup removes idle limiters and returns how many were dropped.
func (i *IPRateLimiter) Cleanup() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	cutoff := i.now().Add(-i.ttl)
	removed := 0
	for ip, entry := range i.ips {
		if entry.lastSeen.Before(cutoff) {
			delete(i.ips, ip)
			removed++
		}
	}
	return removed
}

// IPRateLimitMiddleware limits each client IP separately.
func IPRateLimitMiddleware(ipLimiter *IPRateLimiter, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isHealthCheck(c.Request.URL.Path) {
			c.Next()
			return
		}

		if !ipLimiter.GetLimiter(c.ClientIP()).Allow() {
			log.Warnw("per-ip rate limit blocked request", "ip", c.ClientIP(), "path", c.Request.URL.Path)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded for your IP",
				"message": "please try again in a few seconds",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestLogger logs one line per request through zap.
func RequestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Errorw("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warnw("request", fields...)
		default:
			log.Infow("request", fields...)
		}
	}
}
