package registry

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcr"
)

// Builtin maps the prefixes every repository knows to their URIs.
var Builtin = map[string]string{
	"":      "",
	"jcr":   "http://www.jcp.org/jcr/1.0",
	"nt":    "http://www.jcp.org/jcr/nt/1.0",
	"mix":   "http://www.jcp.org/jcr/mix/1.0",
	"xml":   "http://www.w3.org/XML/1998/namespace",
	"sv":    "http://www.jcp.org/jcr/sv/1.0",
	"jcrdb": jcr.ImplementationURI,
}

// Namespaces is the namespace registry. The merged mapping is cached until
// the next Register or Unregister.
type Namespaces struct {
	store docstore.Store

	mu     sync.Mutex
	cached map[string]string
}

// NewNamespaces returns the registry over store.
func NewNamespaces(store docstore.Store) *Namespaces {
	return &Namespaces{store: store}
}

// All returns every prefix to URI mapping, built-ins included.
func (n *Namespaces) All(ctx context.Context) (map[string]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cached == nil {
		docs, err := n.store.Namespaces(ctx)
		if err != nil {
			return nil, errors.Repository("failed to load namespaces", "", err)
		}
		m := maps.Clone(Builtin)
		for _, d := range docs {
			if _, ok := Builtin[d.Prefix]; ok {
				slog.WarnContext(ctx, "ignoring persisted override of a built-in namespace", "prefix", d.Prefix, "uri", d.URI)
				continue
			}
			m[d.Prefix] = d.URI
		}
		n.cached = m
	}
	return maps.Clone(n.cached), nil
}

// Register maps prefix to uri, replacing a previous user mapping.
func (n *Namespaces) Register(ctx context.Context, prefix, uri string) error {
	if err := checkPrefix(prefix); err != nil {
		return err
	}
	if uri == "" {
		return errors.MissingField("uri")
	}
	for p, u := range Builtin {
		if u == uri && p != "" {
			return errors.Newf(errors.ErrRepository, "namespace %q is reserved for prefix %q", uri, p)
		}
	}
	if err := n.store.PutNamespace(ctx, &docstore.NamespaceDoc{Prefix: prefix, URI: uri}); err != nil {
		return errors.Repository(fmt.Sprintf("failed to register namespace %q", prefix), "", err)
	}
	n.invalidate()
	return nil
}

// Unregister removes the mapping of prefix.
func (n *Namespaces) Unregister(ctx context.Context, prefix string) error {
	if err := checkPrefix(prefix); err != nil {
		return err
	}
	ok, err := n.store.DeleteNamespace(ctx, prefix)
	if err != nil {
		return errors.Repository(fmt.Sprintf("failed to unregister namespace %q", prefix), "", err)
	}
	n.invalidate()
	if !ok {
		return errors.Newf(errors.ErrRepository, "namespace prefix %q is not registered", prefix)
	}
	return nil
}

func (n *Namespaces) invalidate() {
	n.mu.Lock()
	n.cached = nil
	n.mu.Unlock()
}

func checkPrefix(prefix string) error {
	if _, ok := Builtin[prefix]; ok {
		return errors.Newf(errors.ErrRepository, "namespace prefix %q is built in", prefix)
	}
	if strings.HasPrefix(strings.ToLower(prefix), "xml") {
		return errors.Newf(errors.ErrRepository, "namespace prefix %q is reserved", prefix)
	}
	if strings.ContainsAny(prefix, ":/ ") {
		return errors.Newf(errors.ErrRepository, "invalid namespace prefix %q", prefix)
	}
	return nil
}
