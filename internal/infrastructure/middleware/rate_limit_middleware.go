package middleware

import (
	"net"
	"net/http"
	"sync"

	"mirrorctl/pkg/config"
	apperrors "mirrorctl/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ipLimiters hands out one token bucket per client address.
type ipLimiters struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

func newIPLimiters(r rate.Limit, burst int) *ipLimiters {
	return &ipLimiters{
		buckets: make(map[string]*rate.Limiter),
		rate:    r,
		burst:   burst,
	}
}

func (l *ipLimiters) get(addr string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.buckets[addr]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.buckets[addr] = limiter
	}
	return limiter
}

func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware bounds the REST API: a token bucket per client
// address plus an optional global concurrency cap. A no-op when rate
// limiting is disabled.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	limiters := newIPLimiters(
		rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond),
		cfg.RateLimiting.HTTP.Burst,
	)

	var sem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if sem != nil {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error":   string(apperrors.ErrCodeServiceUnavailable),
					"message": "too many concurrent requests",
				})
				return
			}
		}

		if !limiters.get(clientAddr(c.Request)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":            string(apperrors.ErrCodeRateLimit),
				"message":          "rate limit exceeded",
				"retry_after_secs": 1,
			})
			return
		}

		c.Next()
	}
}
