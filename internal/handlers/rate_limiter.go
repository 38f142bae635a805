package handlers

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/pv-frame/api/internal/platform/httpx"
)

const rateLimiterIdleTTL = 10 * time.Minute

type rateLimiter interface {
	Allow(key string) bool
}

// clientRateLimiter keeps one token bucket per client key. Buckets of idle clients expire.
type clientRateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *gocache.Cache
}

func newClientRateLimiter(perMinute, burst int) rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &clientRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		buckets: gocache.New(rateLimiterIdleTTL, rateLimiterIdleTTL),
	}
}

func (l *clientRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	bucket := rate.NewLimiter(l.limit, l.burst)
	if err := l.buckets.Add(key, bucket, gocache.DefaultExpiration); err != nil {
		if existing, ok := l.buckets.Get(key); ok {
			bucket = existing.(*rate.Limiter)
		}
	}
	// Touch to keep an active client's bucket alive.
	l.buckets.Set(key, bucket, gocache.DefaultExpiration)
	return bucket.Allow()
}

// RateLimitMiddleware throttles requests per client address. A non-positive rate disables it.
func RateLimitMiddleware(perMinute, burst int) func(http.Handler) http.Handler {
	return rateLimitWith(newClientRateLimiter(perMinute, burst), perMinute)
}

func rateLimitWith(limiter rateLimiter, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		retryAfter := "60"
		if perMinute > 0 {
			retryAfter = strconv.Itoa(max(1, 60/perMinute))
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", retryAfter)
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
