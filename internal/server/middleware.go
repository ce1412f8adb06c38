package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/repository"
	"github.com/maruel/jcrdb/internal/server/handlers"
	"github.com/maruel/jcrdb/internal/server/ratelimit"
)

// authMiddleware validates the bearer token and opens a session on the
// workspace it is bound to for the duration of the request.
func authMiddleware(repo *repository.Repository, auth *handlers.AuthHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				writeError(ctx, w, errors.Unauthorized("missing bearer token"))
				return
			}
			claims, err := auth.Verify(token)
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			s, err := repo.Open(ctx, claims.Subject, claims.Workspace)
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			defer s.Logout()
			next.ServeHTTP(w, r.WithContext(handlers.WithSession(ctx, s)))
		})
	}
}

// rateLimitMiddleware applies the tier of the request. Authenticated
// requests are keyed by user, the others by client address.
func rateLimitMiddleware(limits *ratelimit.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var tier *ratelimit.Tier
			id := clientIP(r)
			if s, err := handlers.SessionFrom(ctx); err == nil {
				tier = limits.MatchAuth(r.Method)
				if tier != nil && tier.Scope == ratelimit.ScopeUser {
					id = s.UserID()
				}
			} else {
				tier = limits.MatchUnauth(r.Method, r.URL.Path)
			}
			if tier == nil {
				next.ServeHTTP(w, r)
				return
			}
			res := tier.Limiter.Allow(tier.Key(id))
			ratelimit.WriteHeaders(w, res)
			if !res.Allowed {
				slog.WarnContext(ctx, "Rate limited", "tier", tier.Name, "key", id)
				writeError(ctx, w, errors.New(errors.ErrRateLimited, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bodyLimitMiddleware caps the size of request bodies.
func bodyLimitMiddleware(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if n > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// logMiddleware logs every request once it completed.
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		slog.InfoContext(r.Context(), "http", "m", r.Method, "p", r.URL.Path, "s", sw.status, "d", time.Since(start).Round(time.Millisecond), "ip", clientIP(r))
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
