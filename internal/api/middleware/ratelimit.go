package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/leozw/tenant-tasks/internal/config"
)

// TenantLimiter keeps one token bucket per tenant so a noisy tenant cannot
// starve the shared connection pool.
type TenantLimiter struct {
	rateLimit rate.Limit
	burst     int
	enabled   bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewTenantLimiter(cfg config.RateLimitConfig) *TenantLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &TenantLimiter{
		rateLimit: rate.Limit(cfg.RequestsPerSecond),
		burst:     burst,
		enabled:   cfg.RequestsPerSecond > 0,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (l *TenantLimiter) limiter(tenantID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(l.rateLimit, l.burst)
		l.limiters[tenantID] = lim
	}
	return lim
}

// Reserve reports whether the tenant may proceed now and, if not, how long
// until a token is available.
func (l *TenantLimiter) Reserve(tenantID string) (bool, time.Duration) {
	if !l.enabled {
		return true, 0
	}

	r := l.limiter(tenantID).Reserve()
	delay := r.Delay()
	if delay == 0 {
		return true, 0
	}
	r.Cancel()
	return false, delay
}

func RateLimit(l *TenantLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := l.Reserve(c.GetString(KeyTenantID))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
