package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"faris/internal/auth"
)

// StationLimiter is an in-memory token bucket keyed per capture station.
// Stations stream frame uploads, so the budget is sized in requests per
// minute; unauthenticated callers share a per-IP budget instead.
type StationLimiter struct {
	capacity int
	perMin   int

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewStationLimiter creates a limiter allowing perMinute requests with a
// burst of the same size.
func NewStationLimiter(perMinute int) *StationLimiter {
	return &StationLimiter{
		capacity: perMinute,
		perMin:   perMinute,
		buckets:  make(map[string]*bucket),
		swept:    time.Now(),
	}
}

// Middleware enforces the limit. Authenticated requests are keyed by the
// station ID in their claims so a chatty station cannot starve the others
// behind the same NAT.
func (l *StationLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if v, ok := c.Get("claims"); ok {
			if claims, ok := v.(auth.Claims); ok && claims.Subject != "" {
				key = "station:" + claims.Subject
			}
		}
		if key == "" {
			key = "unknown"
		}
		if !l.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (l *StationLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.swept) > 10*time.Minute {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}
	refill := int(now.Sub(b.last).Minutes() * float64(l.perMin))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets idle long enough to be full again. Caller holds mu.
func (l *StationLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.last) > 2*time.Minute {
			delete(l.buckets, key)
		}
	}
	l.swept = now
}
