package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/roadscope/rs-fleet/internal/ratelimit"
)

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	config  *Config
}

type Config struct {
	GlobalIP ratelimit.LimitConfig
	User     ratelimit.LimitConfig
	Login    ratelimit.LimitConfig
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, c Config) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, config: &c}
}

// GlobalLimiter applies the per-IP window to everything and the
// per-user window to authenticated requests.
func (m *RateLimitMiddleware) GlobalLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipHash := m.limiter.HashIP(extractIP(r))
		key := fmt.Sprintf("rl:ip:%s", ipHash)

		decision, err := m.limiter.CheckRateLimit(r.Context(), key, m.config.GlobalIP)
		if err == ratelimit.ErrRedisUnavailable {
			// Auth endpoints fail closed, the rest of the API fails
			// open so a redis outage does not take the dashboard down.
			if strings.HasPrefix(r.URL.Path, "/api/v1/auth/") {
				log.Printf("RateLimit redis error on auth path, failing closed: %v", err)
				http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				return
			}
			log.Printf("RateLimit redis error, failing open: %v", err)
			next.ServeHTTP(w, r)
			return
		} else if err != nil {
			log.Printf("RateLimit error: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		if !decision.Allowed {
			m.writeRateLimitHeaders(w, decision)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		if ac, ok := GetAuthContext(r.Context()); ok && m.config.User.Rate > 0 {
			userKey := fmt.Sprintf("rl:user:%s", ac.UserID)
			uDecision, err := m.limiter.CheckRateLimit(r.Context(), userKey, m.config.User)
			if err == nil && !uDecision.Allowed {
				m.writeRateLimitHeaders(w, uDecision)
				http.Error(w, "User rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// LoginLimiter wraps the auth callback with a tighter per-IP window.
// It runs before credential validation, so the IP is the only stable
// key available.
func (m *RateLimitMiddleware) LoginLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.Login.Rate <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ipHash := m.limiter.HashIP(extractIP(r))
		key := fmt.Sprintf("rl:login:%s", ipHash)

		decision, err := m.limiter.CheckRateLimit(r.Context(), key, m.config.Login)
		if err != nil {
			log.Printf("RateLimit login check failed, failing closed: %v", err)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		if !decision.Allowed {
			m.writeRateLimitHeaders(w, decision)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
