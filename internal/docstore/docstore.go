// Package docstore defines the documents persisted by the repository and the
// interface every document store backend implements.
//
// A node is flattened into one NodeDoc addressed by (workspace, path). The
// store has no tree primitive: subtrees are selected by path prefix on whole
// segments, see jcrpath.IsUnderSubtree.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/maruel/ksid"

	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/jcrpath"
)

var (
	// ErrNotFound is returned when no document matches.
	ErrNotFound = errors.New("document not found")
	// ErrExists is returned on an insert colliding with an existing key.
	ErrExists = errors.New("document already exists")
)

// PropertyRecord is one stored property.
type PropertyRecord struct {
	Name  string           `json:"name" jsonschema:"description=Qualified property name"`
	Type  jcr.PropertyType `json:"type" jsonschema:"type=string,description=Property type name"`
	Multi bool             `json:"multi,omitempty"`
	// Value is the per-type scalar shape, or a JSON array of them when Multi.
	Value json.RawMessage `json:"value" jsonschema:"description=Encoded value or array of values"`
}

// Clone returns a deep copy.
func (r *PropertyRecord) Clone() PropertyRecord {
	c := *r
	c.Value = slices.Clone(r.Value)
	return c
}

// NodeDoc is the stored form of a node.
type NodeDoc struct {
	ID          uuid.UUID        `json:"id" jsonschema:"type=string,format=uuid,description=Node identifier"`
	Path        string           `json:"path" jsonschema:"description=Absolute path within the workspace"`
	Parent      string           `json:"parent" jsonschema:"description=Parent path or -1 for the root"`
	WorkspaceID ksid.ID          `json:"w_id" jsonschema:"type=string,description=Owning workspace"`
	Type        string           `json:"type" jsonschema:"description=Primary node type"`
	Props       []PropertyRecord `json:"props"`
}

// Clone returns a deep copy.
func (d *NodeDoc) Clone() *NodeDoc {
	c := *d
	c.Props = make([]PropertyRecord, len(d.Props))
	for i := range d.Props {
		c.Props[i] = d.Props[i].Clone()
	}
	return &c
}

// Validate checks the document invariants that do not depend on other
// documents.
func (d *NodeDoc) Validate() error {
	if d.ID == uuid.Nil {
		return errors.New("node identifier is required")
	}
	if d.WorkspaceID.IsZero() {
		return errors.New("workspace is required")
	}
	if d.Path == "" || d.Path[0] != '/' {
		return fmt.Errorf("invalid path %q", d.Path)
	}
	if want := jcrpath.ParentOrSentinel(d.Path); d.Parent != want {
		return fmt.Errorf("parent of %q is %q, want %q", d.Path, d.Parent, want)
	}
	for i := range d.Props {
		if d.Props[i].Name == "" {
			return fmt.Errorf("property %d has no name", i)
		}
	}
	return nil
}

// Property returns the index of the named property, or -1.
func (d *NodeDoc) Property(name string) int {
	return slices.IndexFunc(d.Props, func(r PropertyRecord) bool { return r.Name == name })
}

// References returns the identifiers held by the REFERENCE or WEAKREFERENCE
// property r, or nil when r is of another type.
func (r *PropertyRecord) References() []string {
	if !r.Type.IsReference() {
		return nil
	}
	if r.Multi {
		var ids []string
		if json.Unmarshal(r.Value, &ids) != nil {
			return nil
		}
		return ids
	}
	var id string
	if json.Unmarshal(r.Value, &id) != nil {
		return nil
	}
	return []string{id}
}

// RefersTo reports whether r is of type typ and holds target.
func (r *PropertyRecord) RefersTo(typ jcr.PropertyType, target string) bool {
	return r.Type == typ && slices.Contains(r.References(), target)
}

// WorkspaceDoc is a workspace record.
type WorkspaceDoc struct {
	ID   ksid.ID `json:"id" jsonschema:"type=string"`
	Name string  `json:"name"`
}

// Clone returns a copy.
func (w *WorkspaceDoc) Clone() *WorkspaceDoc {
	c := *w
	return &c
}

// GetID returns the workspace ID.
func (w *WorkspaceDoc) GetID() ksid.ID {
	return w.ID
}

// Validate checks the record.
func (w *WorkspaceDoc) Validate() error {
	if w.Name == "" {
		return errors.New("workspace name is required")
	}
	return nil
}

// NamespaceDoc is a persisted namespace mapping.
type NamespaceDoc struct {
	ID     ksid.ID `json:"id" jsonschema:"type=string"`
	Prefix string  `json:"prefix"`
	URI    string  `json:"uri"`
}

// Clone returns a copy.
func (n *NamespaceDoc) Clone() *NamespaceDoc {
	c := *n
	return &c
}

// GetID returns the record ID.
func (n *NamespaceDoc) GetID() ksid.ID {
	return n.ID
}

// Validate checks the record.
func (n *NamespaceDoc) Validate() error {
	if n.URI == "" {
		return fmt.Errorf("namespace %q has no URI", n.Prefix)
	}
	return nil
}

// Store is a document store backend.
//
// Every single-document write is atomic. Nothing spanning several documents
// is: callers composing subtree operations can be observed half-applied.
type Store interface {
	// FindNode returns the node at path, or ErrNotFound.
	FindNode(ctx context.Context, ws ksid.ID, path string) (*NodeDoc, error)
	// FindNodeByID returns the node with the identifier, or ErrNotFound.
	FindNodeByID(ctx context.Context, ws ksid.ID, id uuid.UUID) (*NodeDoc, error)
	// Children returns the nodes whose parent is path, in insertion order.
	Children(ctx context.Context, ws ksid.ID, path string) ([]*NodeDoc, error)
	// Subtree returns root and all its descendants, sorted by path so
	// parents precede their children.
	Subtree(ctx context.Context, ws ksid.ID, root string) ([]*NodeDoc, error)
	// InsertNode adds a new node. It returns ErrExists when the path or the
	// identifier is already used in the workspace.
	InsertNode(ctx context.Context, doc *NodeDoc) error
	// UpsertNode inserts doc, or replaces the whole node at the same path.
	UpsertNode(ctx context.Context, doc *NodeDoc) error
	// SaveNode replaces the node with the same identifier. It returns
	// ErrNotFound if there is none and ErrExists if the new path is taken
	// by another node.
	SaveNode(ctx context.Context, doc *NodeDoc) error
	// SetProperty replaces the property with the same name in the node at
	// path. It reports false when the node has no such property.
	SetProperty(ctx context.Context, ws ksid.ID, path string, rec *PropertyRecord) (bool, error)
	// PushProperty appends a property to the node at path, or ErrNotFound.
	PushProperty(ctx context.Context, ws ksid.ID, path string, rec *PropertyRecord) error
	// PullProperty removes the named property of the node at path. It reports
	// false when the node has no such property.
	PullProperty(ctx context.Context, ws ksid.ID, path, name string) (bool, error)
	// DeleteSubtree removes root and all its descendants and returns how many
	// nodes were removed.
	DeleteSubtree(ctx context.Context, ws ksid.ID, root string) (int, error)
	// DeleteWorkspaceNodes removes every node of the workspace.
	DeleteWorkspaceNodes(ctx context.Context, ws ksid.ID) (int, error)
	// FindReferencing returns the nodes holding a property of type typ whose
	// value, or one of its values, is target.
	FindReferencing(ctx context.Context, ws ksid.ID, typ jcr.PropertyType, target string) ([]*NodeDoc, error)

	// FindWorkspace returns the named workspace, or ErrNotFound.
	FindWorkspace(ctx context.Context, name string) (*WorkspaceDoc, error)
	// InsertWorkspace adds a workspace, or ErrExists.
	InsertWorkspace(ctx context.Context, w *WorkspaceDoc) error
	// DeleteWorkspace removes the workspace record, or ErrNotFound.
	DeleteWorkspace(ctx context.Context, id ksid.ID) error
	// Workspaces returns all workspaces in creation order.
	Workspaces(ctx context.Context) ([]*WorkspaceDoc, error)

	// Namespaces returns the persisted namespace mappings.
	Namespaces(ctx context.Context) ([]*NamespaceDoc, error)
	// PutNamespace inserts or replaces the mapping for n.Prefix.
	PutNamespace(ctx context.Context, n *NamespaceDoc) error
	// DeleteNamespace removes the mapping for prefix and reports whether it
	// existed.
	DeleteNamespace(ctx context.Context, prefix string) (bool, error)

	Close() error
}

// IDSetFinder is implemented by stores able to fetch many nodes by
// identifier in one round trip.
type IDSetFinder interface {
	FindNodesByID(ctx context.Context, ws ksid.ID, ids []uuid.UUID) ([]*NodeDoc, error)
}
