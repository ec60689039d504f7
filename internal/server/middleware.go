package server

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/shivaxm/uploadsvc/internal/demo"
	"github.com/shivaxm/uploadsvc/internal/ratelimit"
	"github.com/shivaxm/uploadsvc/internal/store"
)

type contextKey string

const (
	ctxKeyUser   contextKey = "user"
	ctxKeyDemoID contextKey = "demo_id"
)

// clientIP extracts the request's originating address, preferring a
// proxy-forwarded header if present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate resolves the caller's identity from either a bearer
// token or a demo cookie and stores it on the request context. Routes
// that require authentication read it back through Server.actor; this
// middleware never itself rejects a request, since
// some routes (e.g. /auth/login) run unauthenticated.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if u, err := s.authn.Verify(ctx, token); err == nil {
				ctx = context.WithValue(ctx, ctxKeyUser, u)
			}
		} else if cookie, err := r.Cookie(demo.CookieName); err == nil {
			if demoID, verifyErr := s.demo.Verify(cookie.Value); verifyErr == nil {
				ctx = context.WithValue(ctx, ctxKeyDemoID, demoID)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFromContext returns the authenticated user, if any.
func userFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(ctxKeyUser).(*store.User)
	return u, ok
}

func demoIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyDemoID).(string)
	return id, ok
}

// rateLimit applies a fixed-window limiter for scope before invoking
// next, resolving identity from the authenticated user when present and
// falling back to client IP otherwise (spec.md §4.7).
func (s *Server) rateLimit(scope ratelimit.Scope, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := ""
		if u, ok := userFromContext(r.Context()); ok {
			userID = u.ID
		}
		identity := ratelimit.Identity(userID, clientIP(r))

		allowed, err := s.limiter.Allow(scope, identity)
		if err != nil {
			s.logger.WithError(err).Error("rate limiter backend error")
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			if s.metrics != nil {
				s.metrics.RateLimitRejected.WithLabelValues(scope.Name).Inc()
			}
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	}
}
