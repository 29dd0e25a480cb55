package server

import (
	"compress/gzip"
	"database/sql"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"millops/internal/auth"
	"millops/internal/logging"
	"millops/internal/response"
)

// GzipResponseWriter wraps http.ResponseWriter to support gzip compression.
type GzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w GzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func (w GzipResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// GzipMiddleware compresses responses when client supports gzip. Websocket
// upgrades and range requests pass through untouched.
func GzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") ||
			r.Header.Get("Range") != "" ||
			strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")

		gz := gzip.NewWriter(w)
		defer gz.Close()

		next.ServeHTTP(GzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	})
}

// CORS lets the listed origins call the API with the session cookie. An
// empty list sends no CORS headers. A "*" entry (rejected by config
// validation) never gets credentials.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	credentials := true
	for _, o := range origins {
		if o == "*" {
			credentials = false
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", logging.RequestIDHeader},
		ExposedHeaders:   []string{logging.RequestIDHeader, "Retry-After"},
		AllowCredentials: credentials,
		MaxAge:           300,
	})
}

// SecurityHeaders adds security headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAuth resolves the session cookie to an identity and attaches it to
// the request context. Every session hit slides the cookie's expiry.
func RequireAuth(db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(auth.SessionCookie)
			if err != nil || cookie.Value == "" {
				response.Err(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			id, expires, err := auth.LookupSession(r.Context(), db, cookie.Value)
			switch {
			case errors.Is(err, auth.ErrNoSession):
				response.Err(w, "Unauthorized", http.StatusUnauthorized)
				return
			case errors.Is(err, auth.ErrSessionExpired):
				auth.ClearSessionCookie(w)
				response.Err(w, "Session expired due to inactivity", http.StatusUnauthorized)
				return
			case err != nil:
				response.Fail(w, r, err)
				return
			}
			if !id.Active {
				response.Err(w, "Account deactivated", http.StatusForbidden)
				return
			}

			auth.SetSessionCookie(w, cookie.Value, expires)
			ctx := auth.WithIdentity(r.Context(), id)
			ctx = logging.WithContext(ctx, logging.FromContext(ctx).With(zap.String("user", id.Username)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRBAC enforces role permissions on /api/v1/ routes. Paths with no
// permission mapping are open to every signed-in user.
func RequireRBAC(pc *auth.PermCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.FromContext(r.Context())
			if !ok {
				response.Err(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			apiPath := strings.TrimPrefix(r.URL.Path, "/api/v1/")
			module, action := auth.MapAPIPathToPermission(apiPath, r.Method)
			if module == "" || action == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !pc.HasPermission(id.Role, module, action) {
				logging.FromContext(r.Context()).Info("permission denied",
					zap.String("role", id.Role), zap.String("module", module), zap.String("action", action))
				response.Err(w, "Permission denied", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter tracks request rates per key.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a new RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
	}
}

// Reset clears all rate limit state.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	rl.requests = make(map[string][]time.Time)
	rl.mu.Unlock()
}

func (rl *RateLimiter) cleanupOldRequests(key string, now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	requests := rl.requests[key]
	valid := requests[:0]
	for _, t := range requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) > 0 {
		rl.requests[key] = valid
	} else {
		delete(rl.requests, key)
	}
}

// CheckRateLimit records a request for key and reports whether it exceeds
// limit within window, how many requests remain and when the window resets.
func (rl *RateLimiter) CheckRateLimit(key string, limit int, window time.Duration) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.cleanupOldRequests(key, now, window)

	requests := rl.requests[key]
	resetTime := now.Add(window)
	if len(requests) > 0 {
		resetTime = requests[0].Add(window)
	}

	if len(requests) >= limit {
		return true, 0, resetTime
	}

	rl.requests[key] = append(requests, now)
	return false, limit - len(requests) - 1, resetTime
}

// LoginAttemptsPerMinute caps login attempts per client regardless of the
// general API limit.
const LoginAttemptsPerMinute = 5

// RateLimitMiddleware limits each client to perMinute API requests, and to
// LoginAttemptsPerMinute on the login endpoint.
func RateLimitMiddleware(rl *RateLimiter, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			limit, key := perMinute, "api:"+ip
			if strings.HasSuffix(r.URL.Path, "/auth/login") {
				limit, key = LoginAttemptsPerMinute, "login:"+ip
			}

			exceeded, remaining, resetTime := rl.CheckRateLimit(key, limit, time.Minute)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if exceeded {
				retry := int(time.Until(resetTime).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				response.Err(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys rate limits on the connection address. Forwarded headers
// only count when middleware.RealIP, mounted for a trusted proxy, has
// already folded them into RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
