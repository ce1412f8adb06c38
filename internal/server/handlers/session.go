package handlers

import (
	"context"

	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/repository"
)

type sessionKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *repository.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session of an authenticated request.
func SessionFrom(ctx context.Context) (*repository.Session, error) {
	s, ok := ctx.Value(sessionKey{}).(*repository.Session)
	if !ok {
		return nil, errors.Unauthorized("authentication required")
	}
	return s, nil
}

// nodePath turns a wildcard path parameter into an absolute item path.
func nodePath(p string) string {
	return "/" + p
}
