package httpapi

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// AuthRateLimiter enforces fixed 10 req/min per (route, ip, subject) limit
// on the authentication endpoints, ahead of any per-rule input guard.
type AuthRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewAuthRateLimiter constructs a limiter allowing perMinute requests per
// key, with a burst of the same size.
func NewAuthRateLimiter(perMinute int) *AuthRateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &AuthRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

func (a *AuthRateLimiter) limiterFor(key string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[key]
	if !ok {
		l = rate.NewLimiter(a.rps, a.burst)
		a.limiters[key] = l
	}
	return l
}

// Middleware rejects requests exceeding the per-(route,ip,subject) budget
// with 429. subject identifies the caller beyond IP (an email for magic
// link/OTP starts, a device code for polls); callers with no stronger
// subject pass "" and are limited purely by route+IP.
func (a *AuthRateLimiter) Middleware(route string, subject func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subj := ""
			if subject != nil {
				subj = subject(r)
			}
			key := route + "|" + r.RemoteAddr + "|" + subj
			if !a.limiterFor(key).Allow() {
				w.Header().Set("Retry-After", "60")
				WriteError(w, NewError(http.StatusTooManyRequests, "RATE_LIMIT", "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
