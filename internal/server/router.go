// Package server exposes the content repository over a JSON HTTP API.
package server

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/repository"
	"github.com/maruel/jcrdb/internal/server/handlers"
	"github.com/maruel/jcrdb/internal/server/ratelimit"
)

// Options configures the router.
type Options struct {
	JWTSecret []byte
	// Limits is optional.
	Limits *ratelimit.Config
	// MaxRequestBodyBytes caps request bodies; 0 disables the cap.
	MaxRequestBodyBytes int64
}

// NewRouter creates and configures the HTTP router.
func NewRouter(repo *repository.Repository, o *Options) http.Handler {
	mux := http.NewServeMux()
	limits := o.Limits
	if limits == nil {
		limits = &ratelimit.Config{}
	}
	authHandler := handlers.NewAuthHandler(repo, o.JWTSecret)
	repoHandler := handlers.NewRepositoryHandler(repo)
	nodeHandler := handlers.NewNodeHandler()

	limited := rateLimitMiddleware(limits)
	authn := authMiddleware(repo, authHandler)
	public := func(h http.Handler) http.Handler { return limited(h) }
	protected := func(h http.Handler) http.Handler { return authn(limited(h)) }

	mux.Handle("GET /api/health", Wrap(handlers.Health(repo)))
	mux.Handle("POST /api/auth/login", public(Wrap(authHandler.Login)))
	mux.Handle("GET /api/auth/me", protected(Wrap(authHandler.Me)))

	// Repository.
	mux.Handle("GET /api/descriptors", protected(Wrap(repoHandler.Descriptors)))
	mux.Handle("GET /api/schema", protected(Wrap(repoHandler.Schema)))
	mux.Handle("GET /api/history", protected(Wrap(repoHandler.History)))
	mux.Handle("GET /api/workspaces", protected(Wrap(repoHandler.ListWorkspaces)))
	mux.Handle("POST /api/workspaces", protected(Wrap(repoHandler.CreateWorkspace)))
	mux.Handle("DELETE /api/workspaces/{name}", protected(Wrap(repoHandler.DeleteWorkspace)))
	mux.Handle("GET /api/namespaces", protected(Wrap(repoHandler.ListNamespaces)))
	mux.Handle("PUT /api/namespaces/{prefix}", protected(Wrap(repoHandler.RegisterNamespace)))
	mux.Handle("DELETE /api/namespaces/{prefix}", protected(Wrap(repoHandler.UnregisterNamespace)))
	mux.Handle("GET /api/nodetypes", protected(Wrap(repoHandler.ListNodeTypes)))

	// Items of the session workspace.
	mux.Handle("GET /api/nodes/{path...}", protected(Wrap(nodeHandler.GetNode)))
	mux.Handle("PUT /api/nodes/{path...}", protected(Wrap(nodeHandler.PutNode)))
	mux.Handle("PATCH /api/nodes/{path...}", protected(Wrap(nodeHandler.PatchNode)))
	mux.Handle("DELETE /api/nodes/{path...}", protected(Wrap(nodeHandler.DeleteItem)))
	mux.Handle("POST /api/batch/nodes", protected(Wrap(nodeHandler.GetNodes)))
	mux.Handle("GET /api/identifiers/{id}", protected(Wrap(nodeHandler.GetNodeByIdentifier)))
	mux.Handle("GET /api/properties/{path...}", protected(Wrap(nodeHandler.GetProperty)))
	mux.Handle("PUT /api/properties/{path...}", protected(Wrap(nodeHandler.PutProperty)))
	mux.Handle("DELETE /api/properties/{path...}", protected(Wrap(nodeHandler.DeleteProperty)))
	mux.Handle("GET /api/binary/{path...}", protected(serveBinary(nodeHandler)))
	mux.Handle("PUT /api/binary/{path...}", protected(uploadBinary(nodeHandler)))
	mux.Handle("GET /api/references/{path...}", protected(Wrap(nodeHandler.References)))
	mux.Handle("POST /api/copy", protected(Wrap(nodeHandler.Copy)))
	mux.Handle("POST /api/move", protected(Wrap(nodeHandler.Move)))
	mux.Handle("POST /api/query", protected(Wrap(nodeHandler.Query)))

	return logMiddleware(bodyLimitMiddleware(o.MaxRequestBodyBytes)(mux))
}

// serveBinary streams the payload of a BINARY value. The value index is the
// index query parameter, 0 by default.
func serveBinary(h *handlers.NodeHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		index := 0
		if s := r.URL.Query().Get("index"); s != "" {
			var err error
			if index, err = strconv.Atoi(s); err != nil || index < 0 {
				writeError(ctx, w, errors.BadRequest("invalid index"))
				return
			}
		}
		rc, err := h.OpenBinary(ctx, "/"+r.PathValue("path"), index)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		defer func() { _ = rc.Close() }()
		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err := io.Copy(w, rc); err != nil {
			slog.ErrorContext(ctx, "Failed to stream binary", "err", err)
		}
	})
}

// uploadBinary writes the request body as a single-valued BINARY property.
func uploadBinary(h *handlers.NodeHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		defer func() { _ = r.Body.Close() }()
		if err := h.PutBinary(ctx, "/"+r.PathValue("path"), r.Body, r.ContentLength); err != nil {
			writeError(ctx, w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`+"\n")
	})
}
