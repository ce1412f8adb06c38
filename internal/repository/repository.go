// Package repository is the entry point of the content repository: it owns
// the stores and registries and opens sessions bound to a workspace.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/maruel/jcrdb/internal/blobstore"
	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/journal"
	"github.com/maruel/jcrdb/internal/nodestore"
	"github.com/maruel/jcrdb/internal/nodetype"
	"github.com/maruel/jcrdb/internal/registry"
)

// Descriptor keys read by the repository itself.
const (
	DescriptorTransactions = "option.transactions.supported"
	DescriptorQueryLangs   = "query.languages"
)

// descriptors is the table reported by Descriptors.
var descriptors = map[string]any{
	"identifier.stability":                                      "identifier.stability.indefinite.duration",
	"jcr.repository.name":                                       "jcrdb",
	"jcr.repository.vendor":                                     "jcrdb",
	"jcr.repository.vendor.url":                                 jcr.ImplementationURI,
	"jcr.repository.version":                                    "1.0.0-DEV",
	"jcr.specification.name":                                    "Content Repository for Go",
	"jcr.specification.version":                                 false,
	"level.1.supported":                                         false,
	"level.2.supported":                                         false,
	"node.type.management.autocreated.definitions.supported":    true,
	"node.type.management.inheritance":                          true,
	"node.type.management.multiple.binary.properties.supported": true,
	"node.type.management.multivalued.properties.supported":     true,
	"node.type.management.orderable.child.nodes.supported":      false,
	"node.type.management.overrides.supported":                  false,
	"node.type.management.primary.item.name.supported":          true,
	"node.type.management.property.types":                       true,
	"node.type.management.residual.definitions.supported":       false,
	"node.type.management.same.name.siblings.supported":         false,
	"node.type.management.update.in.use.suported":               false,
	"node.type.management.value.constraints.supported":          false,
	"option.access.control.supported":                           false,
	"option.activities.supported":                               false,
	"option.baselines.supported":                                false,
	"option.journaled.observation.supported":                    false,
	"option.lifecycle.supported":                                false,
	"option.locking.supported":                                  false,
	"option.node.and.property.with.same.name.supported":         false,
	"option.node.type.management.supported":                     true,
	"option.observation.supported":                              false,
	"option.query.sql.supported":                                false,
	"option.retention.supported":                                false,
	"option.shareable.nodes.supported":                          false,
	"option.simple.versioning.supported":                        false,
	DescriptorTransactions:                                      false,
	"option.unfiled.content.supported":                          true,
	"option.update.mixin.node.types.supported":                  true,
	"option.update.primary.node.type.supported":                 true,
	"option.versioning.supported":                               false,
	registry.DescriptorWorkspaceManagement:                      true,
	"option.xml.export.supported":                               false,
	"option.xml.import.supported":                               false,
	"query.full.text.search.supported":                          false,
	"query.joins":                                               false,
	DescriptorQueryLangs:                                        "",
	"query.stored.queries.supported":                            false,
	"query.xpath.doc.order":                                     false,
	"query.xpath.pos.index":                                     false,
	"write.supported":                                           true,
}

// User is an account allowed to log in.
type User struct {
	Name string `yaml:"name" json:"name"`
	// PasswordHash is the bcrypt hash of the password.
	PasswordHash string `yaml:"password_hash" json:"-"`
}

// Credentials are presented at login.
type Credentials struct {
	UserID   string
	Password string
}

// Options configures a Repository.
type Options struct {
	Docs  docstore.Store
	Blobs *blobstore.Store
	// Journal is optional.
	Journal *journal.Journal
	// Users lists the accounts. When empty, any credentials are accepted.
	Users []User
	// DefaultWorkspace is the workspace opened for an empty name. It is
	// created on first login.
	DefaultWorkspace string
	Now              func() time.Time
}

// Repository is a content repository.
type Repository struct {
	docs             docstore.Store
	blobs            *blobstore.Store
	journal          *journal.Journal
	types            *nodetype.Manager
	workspaces       *registry.Workspaces
	namespaces       *registry.Namespaces
	users            map[string]string
	defaultWorkspace string
	now              func() time.Time

	mu sync.Mutex // serializes the lazy creation of the default workspace
}

// New returns a repository over the stores of o.
func New(o *Options) *Repository {
	users := make(map[string]string, len(o.Users))
	for _, u := range o.Users {
		users[u.Name] = u.PasswordHash
	}
	def := o.DefaultWorkspace
	if def == "" {
		def = jcr.DefaultWorkspace
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}
	return &Repository{
		docs:             o.Docs,
		blobs:            o.Blobs,
		journal:          o.Journal,
		types:            nodetype.NewManager(),
		workspaces:       registry.NewWorkspaces(o.Docs, o.Blobs),
		namespaces:       registry.NewNamespaces(o.Docs),
		users:            users,
		defaultWorkspace: def,
		now:              now,
	}
}

// Descriptors returns the repository descriptors.
func (r *Repository) Descriptors() map[string]any {
	return maps.Clone(descriptors)
}

// Descriptor returns the value of one descriptor.
func (r *Repository) Descriptor(key string) (any, bool) {
	v, ok := descriptors[key]
	return v, ok
}

// Namespaces returns the namespace registry.
func (r *Repository) Namespaces() *registry.Namespaces {
	return r.namespaces
}

// NodeTypes returns the node type manager.
func (r *Repository) NodeTypes() *nodetype.Manager {
	return r.types
}

// AccessibleWorkspaceNames returns the names of all workspaces.
func (r *Repository) AccessibleWorkspaceNames(ctx context.Context) ([]string, error) {
	return r.workspaces.Names(ctx)
}

// CreateWorkspace adds an empty workspace. Cloning from source is not
// implemented.
func (r *Repository) CreateWorkspace(ctx context.Context, name, source string) error {
	_, err := r.workspaces.Create(ctx, name, source)
	return err
}

// DeleteWorkspace removes a workspace with all its content.
func (r *Repository) DeleteWorkspace(ctx context.Context, name string) error {
	return r.workspaces.Delete(ctx, name, descriptors)
}

// History returns the last n journal entries, or nothing when the journal is
// disabled.
func (r *Repository) History(ctx context.Context, n int) ([]*journal.Commit, error) {
	if r.journal == nil {
		return nil, nil
	}
	return r.journal.History(ctx, n)
}

// Authenticate checks creds against the configured users.
func (r *Repository) Authenticate(creds Credentials) error {
	if len(r.users) == 0 {
		return nil
	}
	hash, ok := r.users[creds.UserID]
	if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)) != nil {
		return errors.Unauthorized("invalid credentials")
	}
	return nil
}

// Login authenticates creds and opens a session on workspace. An empty name
// selects the default workspace, created when missing.
func (r *Repository) Login(ctx context.Context, creds Credentials, workspace string) (*Session, error) {
	if err := r.Authenticate(creds); err != nil {
		return nil, err
	}
	return r.Open(ctx, creds.UserID, workspace)
}

// Open opens a session for an already authenticated user.
func (r *Repository) Open(ctx context.Context, user, workspace string) (*Session, error) {
	if workspace == "" {
		workspace = r.defaultWorkspace
	}
	id, ok, err := r.workspaces.ID(ctx, workspace)
	if err != nil {
		return nil, err
	}
	if !ok && workspace == r.defaultWorkspace {
		r.mu.Lock()
		if id, ok, err = r.workspaces.ID(ctx, workspace); err == nil && !ok {
			id, err = r.workspaces.Create(ctx, workspace, "")
			ok = err == nil
		}
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, errors.NoSuchWorkspace(workspace)
	}
	if user == "" {
		user = "anonymous"
	}
	slog.DebugContext(ctx, "login", "user", user, "ws", workspace)
	return &Session{
		repo:      r,
		user:      user,
		workspace: workspace,
		nodes: nodestore.New(&nodestore.Options{
			Docs:          r.docs,
			Blobs:         r.blobs,
			Namespaces:    r.namespaces,
			Types:         r.types,
			Workspaces:    r.workspaces,
			Journal:       r.journal,
			WorkspaceID:   id,
			WorkspaceName: workspace,
			UserID:        user,
			Now:           r.now,
		}),
	}, nil
}

// HashPassword returns the bcrypt hash stored in User.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
