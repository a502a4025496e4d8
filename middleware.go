package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type contextKey string

const userContextKey contextKey = "idhub_user"

func withUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

func userFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey).(*User)
	return u, ok
}

// BearerAuth extracts the Authorization bearer token, resolves it to a user
// and stores the user in the request context. Everything behind it can assume
// an authenticated caller.
func (a *App) BearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeServiceError(w, errUnauthenticated)
			return
		}
		bearer := strings.TrimPrefix(auth, "Bearer ")
		user, err := a.resolveIdentity(r.Context(), bearer)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// loginLimiter tracks a rate limiter per client address to slow down
// credential stuffing against the login endpoint.
type loginLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	perMin   int
}

func newLoginLimiter(perMinute int) *loginLimiter {
	return &loginLimiter{limiters: make(map[string]*rate.Limiter), perMin: perMinute}
}

func (ll *loginLimiter) get(addr string) *rate.Limiter {
	ll.mu.RLock()
	limiter, exists := ll.limiters[addr]
	ll.mu.RUnlock()

	if !exists {
		ll.mu.Lock()
		limiter, exists = ll.limiters[addr]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(ll.perMin)/60, ll.perMin)
			ll.limiters[addr] = limiter
		}
		ll.mu.Unlock()
	}
	return limiter
}

// LoginRateLimit wraps the login handler with a per-address limiter.
func (a *App) LoginRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !a.limiter.get(host).Allow() {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logging middleware logs requests with a per-request id.
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Printf("[%s] %s %s %s %d %v", reqID, r.Method, r.URL.Path, r.RemoteAddr, wrapped.statusCode, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}
