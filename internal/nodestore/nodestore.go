// Package nodestore persists content nodes of one workspace into a document
// store.
//
// Each node is one document addressed by its path. Subtree operations (copy,
// move, delete) are composed of single-document writes and are not atomic: a
// failure midway leaves the subtree partially processed.
package nodestore

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maruel/ksid"

	"github.com/maruel/jcrdb/internal/blobstore"
	"github.com/maruel/jcrdb/internal/codec"
	"github.com/maruel/jcrdb/internal/content"
	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/jcrpath"
	"github.com/maruel/jcrdb/internal/journal"
	"github.com/maruel/jcrdb/internal/nodetype"
)

// WorkspaceResolver maps workspace names to identifiers.
type WorkspaceResolver interface {
	ID(ctx context.Context, name string) (ksid.ID, bool, error)
}

// Options configures a Store.
type Options struct {
	Docs       docstore.Store
	Blobs      *blobstore.Store
	Namespaces codec.Namespaces
	Types      *nodetype.Manager
	// Workspaces resolves the source workspace of Copy. It may be nil, in
	// which case only the bound workspace can be a copy source.
	Workspaces WorkspaceResolver
	// Journal is optional.
	Journal *journal.Journal

	WorkspaceID   ksid.ID
	WorkspaceName string
	// UserID is recorded in the autocreated jcr:createdBy and
	// jcr:lastModifiedBy properties.
	UserID string
	Now    func() time.Time
}

// Store reads and writes the nodes of one workspace.
type Store struct {
	docs       docstore.Store
	blobs      *blobstore.Store
	types      *nodetype.Manager
	workspaces WorkspaceResolver
	journal    *journal.Journal
	enc        codec.Encoder
	ws         ksid.ID
	wsName     string
	userID     string
	now        func() time.Time

	mu  sync.Mutex
	ids map[string]uuid.UUID // identifiers assigned during this session, by path
}

// New returns a Store bound to o.WorkspaceID.
func New(o *Options) *Store {
	now := o.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		docs:       o.Docs,
		blobs:      o.Blobs,
		types:      o.Types,
		workspaces: o.Workspaces,
		journal:    o.Journal,
		enc:        codec.Encoder{Namespaces: o.Namespaces, Binaries: o.Blobs.Workspace(o.WorkspaceID), Now: now},
		ws:         o.WorkspaceID,
		wsName:     o.WorkspaceName,
		userID:     o.UserID,
		now:        now,
		ids:        map[string]uuid.UUID{},
	}
}

// WorkspaceName returns the name of the bound workspace.
func (s *Store) WorkspaceName() string {
	return s.wsName
}

// Types returns the node type manager.
func (s *Store) Types() *nodetype.Manager {
	return s.types
}

// Property is a decoded property.
type Property struct {
	Name     string
	Type     jcr.PropertyType
	Multiple bool
	Values   []jcr.Value
}

// Node is a node as read from the store. Children are names only; they are
// fetched on demand.
type Node struct {
	ID          uuid.UUID
	Path        string
	PrimaryType string
	Mixins      []string
	Properties  []Property
	Children    []string
}

// Property returns the named property.
func (n *Node) Property(name string) (*Property, bool) {
	for i := range n.Properties {
		if n.Properties[i].Name == name {
			return &n.Properties[i], true
		}
	}
	return nil, false
}

// Edit returns a persisted in-memory copy of n. Properties changed on it are
// written by StoreNode while the others are kept as stored.
func (n *Node) Edit(types jcr.NodeTypeManager) *content.Node {
	c := content.NewNode(types, n.Path, n.PrimaryType)
	c.SetIdentifier(n.ID.String())
	for _, m := range n.Mixins {
		c.AddMixin(m)
	}
	for _, p := range n.Properties {
		switch p.Name {
		case jcr.PropPrimaryType, jcr.PropMixinTypes, jcr.PropUUID:
			continue
		}
		if p.Multiple {
			c.SetMultiProperty(p.Name, p.Type, p.Values...)
		} else if len(p.Values) == 1 {
			c.SetProperty(p.Name, p.Values[0])
		}
	}
	c.MarkSaved()
	return c
}

// Get returns the node at path.
func (s *Store) Get(ctx context.Context, path string) (*Node, error) {
	if err := jcrpath.Validate(path); err != nil {
		return nil, err
	}
	doc, err := s.docs.FindNode(ctx, s.ws, path)
	if stderrors.Is(err, docstore.ErrNotFound) {
		return nil, errors.NotFound(path)
	}
	if err != nil {
		return nil, errors.Repository("failed to load node", path, err)
	}
	return s.build(ctx, doc)
}

// GetMany returns the nodes found at paths, keyed by path. Missing paths are
// skipped.
func (s *Store) GetMany(ctx context.Context, paths []string) (map[string]*Node, error) {
	out := make(map[string]*Node, len(paths))
	for _, p := range paths {
		n, err := s.Get(ctx, p)
		if errors.Is(err, errors.NotFoundErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[p] = n
	}
	return out, nil
}

// GetByIdentifier returns the node with the identifier id.
func (s *Store) GetByIdentifier(ctx context.Context, id string) (*Node, error) {
	doc, err := s.findByIdentifier(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, doc)
}

// GetManyByIdentifier returns the nodes found for ids, keyed by path. Unknown
// identifiers are skipped.
func (s *Store) GetManyByIdentifier(ctx context.Context, ids []string) (map[string]*Node, error) {
	parsed := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if u, err := uuid.Parse(id); err == nil {
			parsed = append(parsed, u)
		}
	}
	var docs []*docstore.NodeDoc
	if f, ok := s.docs.(docstore.IDSetFinder); ok {
		var err error
		if docs, err = f.FindNodesByID(ctx, s.ws, parsed); err != nil {
			return nil, errors.Repository("failed to load nodes by identifier", "", err)
		}
	} else {
		for _, u := range parsed {
			doc, err := s.docs.FindNodeByID(ctx, s.ws, u)
			if stderrors.Is(err, docstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, errors.Repository(fmt.Sprintf("failed to load node %s", u), "", err)
			}
			docs = append(docs, doc)
		}
	}
	out := make(map[string]*Node, len(docs))
	for _, doc := range docs {
		n, err := s.build(ctx, doc)
		if err != nil {
			return nil, err
		}
		out[doc.Path] = n
	}
	return out, nil
}

// NodePathForIdentifier returns the path of the node with the identifier id.
func (s *Store) NodePathForIdentifier(ctx context.Context, id string) (string, error) {
	doc, err := s.findByIdentifier(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.Path, nil
}

func (s *Store) findByIdentifier(ctx context.Context, id string) (*docstore.NodeDoc, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.Newf(errors.ErrNotFound, "no node with identifier %q", id)
	}
	doc, err := s.docs.FindNodeByID(ctx, s.ws, u)
	if stderrors.Is(err, docstore.ErrNotFound) {
		return nil, errors.Newf(errors.ErrNotFound, "no node with identifier %q", id)
	}
	if err != nil {
		return nil, errors.Repository(fmt.Sprintf("failed to load node %s", id), "", err)
	}
	return doc, nil
}

// build decodes doc and lists its children.
func (s *Store) build(ctx context.Context, doc *docstore.NodeDoc) (*Node, error) {
	n := &Node{
		ID:          doc.ID,
		Path:        doc.Path,
		PrimaryType: doc.Type,
		Properties: []Property{{
			Name:   jcr.PropPrimaryType,
			Type:   jcr.Name,
			Values: []jcr.Value{jcr.NameValue(doc.Type)},
		}},
	}
	for i := range doc.Props {
		rec := &doc.Props[i]
		values, err := codec.Decode(rec)
		if err != nil {
			return nil, errors.Repository("failed to decode property", jcrpath.Join(doc.Path, rec.Name), err)
		}
		if rec.Name == jcr.PropMixinTypes {
			for _, v := range values {
				n.Mixins = append(n.Mixins, v.String())
			}
		}
		n.Properties = append(n.Properties, Property{Name: rec.Name, Type: rec.Type, Multiple: rec.Multi, Values: values})
	}
	if s.types != nil && jcr.IsReferenceable(s.types, doc.Type, n.Mixins) {
		n.Properties = append(n.Properties, Property{
			Name:   jcr.PropUUID,
			Type:   jcr.String,
			Values: []jcr.Value{jcr.StringValue(doc.ID.String())},
		})
	}
	children, err := s.docs.Children(ctx, s.ws, doc.Path)
	if err != nil {
		return nil, errors.Repository("failed to list children", doc.Path, err)
	}
	for _, c := range children {
		n.Children = append(n.Children, jcrpath.Name(c.Path))
	}
	s.remember(doc.Path, doc.ID)
	return n, nil
}

// StoreNode writes node as one document, replacing any document at its path.
//
// The node is validated against its types first; the autocreated properties
// it lacks are generated and written along. Unchanged properties are not
// encoded again: their stored records are carried over. When recurse is set,
// the new children of node are stored too.
func (s *Store) StoreNode(ctx context.Context, node jcr.Node, recurse bool) error {
	path := node.Path()
	if err := jcrpath.Validate(path); err != nil {
		return err
	}
	if err := s.storeNode(ctx, node); err != nil {
		if errors.CodeOf(err) == errors.ErrRepository {
			return err
		}
		return errors.Repository(fmt.Sprintf("failed to store node %s", path), path, err)
	}
	if !recurse {
		return nil
	}
	for _, c := range node.Children() {
		if c.IsNew() {
			if err := s.StoreNode(ctx, c, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) storeNode(ctx context.Context, node jcr.Node) error {
	path := node.Path()
	prev, err := s.docs.FindNode(ctx, s.ws, path)
	if stderrors.Is(err, docstore.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return errors.Repository("failed to load node", path, err)
	}
	if path != jcrpath.Root && prev == nil {
		parent := jcrpath.Parent(path)
		if _, err := s.docs.FindNode(ctx, s.ws, parent); stderrors.Is(err, docstore.ErrNotFound) {
			return errors.PathNotFound(fmt.Sprintf("parent of %s does not exist", path), parent)
		} else if err != nil {
			return errors.Repository("failed to load parent node", parent, err)
		}
	}
	autos, err := s.types.Validate(node, nodetype.Context{UserID: s.userID, Now: s.now()})
	if err != nil {
		return err
	}
	id, err := s.identifier(node, prev)
	if err != nil {
		return err
	}

	props := node.Properties()
	if _, ok := node.Property(jcr.PropMixinTypes); !ok && len(node.MixinTypes()) != 0 {
		values := make([]jcr.Value, len(node.MixinTypes()))
		for i, m := range node.MixinTypes() {
			values[i] = jcr.NameValue(m)
		}
		props = append(props, &generated{node: node, name: jcr.PropMixinTypes, typ: jcr.Name, multi: true, values: values})
	}
	for _, a := range autos {
		if a.Name == jcr.PropUUID {
			continue
		}
		props = append(props, &generated{node: node, name: a.Name, typ: a.Type, multi: a.Multiple, values: a.Values})
	}

	recs := make([]docstore.PropertyRecord, 0, len(props))
	written := 0
	for _, p := range props {
		if p.Type() == jcr.Binary && (p.IsNew() || p.IsModified()) && hasPayload(p) {
			if _, err := s.blobs.DeleteProperty(ctx, s.ws, p.Path()); err != nil {
				return errors.Repository("failed to drop previous binary", p.Path(), err)
			}
		}
		rec, skip, err := s.enc.Encode(ctx, p)
		if err != nil {
			return err
		}
		if skip {
			if prev != nil {
				if i := prev.Property(p.Name()); i >= 0 {
					recs = append(recs, prev.Props[i].Clone())
				}
			}
			continue
		}
		recs = append(recs, *rec)
		written++
	}

	doc := &docstore.NodeDoc{
		ID:          id,
		Path:        path,
		Parent:      jcrpath.ParentOrSentinel(path),
		WorkspaceID: s.ws,
		Type:        node.PrimaryType(),
		Props:       recs,
	}
	if doc.Type == "" {
		doc.Type = jcr.TypeUnstructured
	}
	if err := s.docs.UpsertNode(ctx, doc); err != nil {
		return errors.Repository(fmt.Sprintf("failed to write node %s", path), path, err)
	}
	if prev != nil {
		s.dropStaleBinaries(ctx, prev, doc)
	}
	s.remember(path, id)
	s.record("store", path)
	slog.DebugContext(ctx, "node stored", "ws", s.wsName, "path", path, "written", written, "props", len(recs))

	if c, ok := node.(*content.Node); ok {
		c.SetIdentifier(id.String())
		for _, a := range autos {
			switch {
			case a.Name == jcr.PropUUID:
			case a.Multiple:
				c.SetMultiProperty(a.Name, a.Type, a.Values...)
			default:
				c.SetProperty(a.Name, a.Values[0])
			}
		}
	}
	return nil
}

// identifier picks the identifier of node: the one assigned earlier in this
// session, the explicit one, the stored one, or a fresh one.
func (s *Store) identifier(node jcr.Node, prev *docstore.NodeDoc) (uuid.UUID, error) {
	s.mu.Lock()
	id, ok := s.ids[node.Path()]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	explicit := node.Identifier()
	if explicit == "" {
		if p, ok := node.Property(jcr.PropUUID); ok && len(p.Values()) == 1 {
			explicit = p.Values()[0].String()
		}
	}
	if explicit != "" {
		id, err := uuid.Parse(explicit)
		if err != nil {
			return uuid.Nil, errors.ValueFormat(jcrpath.Join(node.Path(), jcr.PropUUID), fmt.Sprintf("invalid identifier %q", explicit))
		}
		return id, nil
	}
	if prev != nil {
		return prev.ID, nil
	}
	return uuid.New(), nil
}

// dropStaleBinaries removes the payloads of BINARY properties the node no
// longer holds as BINARY.
func (s *Store) dropStaleBinaries(ctx context.Context, prev, doc *docstore.NodeDoc) {
	for _, r := range prev.Props {
		if r.Type != jcr.Binary {
			continue
		}
		if j := doc.Property(r.Name); j >= 0 && doc.Props[j].Type == jcr.Binary {
			continue
		}
		p := jcrpath.Join(doc.Path, r.Name)
		if _, err := s.blobs.DeleteProperty(ctx, s.ws, p); err != nil {
			slog.WarnContext(ctx, "failed to drop stale binary", "path", p, "err", err)
		}
	}
}

func hasPayload(p jcr.Property) bool {
	for _, v := range p.Values() {
		if b, ok := v.(jcr.BinaryValue); ok && b.Reader != nil {
			return true
		}
	}
	return false
}

// StoreProperty writes a single property into its node document.
func (s *Store) StoreProperty(ctx context.Context, prop jcr.Property) error {
	path := prop.Path()
	if err := jcrpath.Validate(path); err != nil {
		return err
	}
	if prop.Type() == jcr.Binary && hasPayload(prop) {
		if _, err := s.blobs.DeleteProperty(ctx, s.ws, path); err != nil {
			return errors.Repository("failed to drop previous binary", path, err)
		}
	}
	rec, skip, err := s.enc.Encode(ctx, prop)
	if err != nil || skip {
		return err
	}
	parent := jcrpath.Parent(path)
	found, err := s.docs.SetProperty(ctx, s.ws, parent, rec)
	if err != nil {
		return errors.Repository("failed to write property", path, err)
	}
	if !found {
		err = s.docs.PushProperty(ctx, s.ws, parent, rec)
		if stderrors.Is(err, docstore.ErrNotFound) {
			return errors.PathNotFound(fmt.Sprintf("node %s does not exist", parent), parent)
		}
		if err != nil {
			return errors.Repository("failed to add property", path, err)
		}
	}
	s.record("set", path)
	return nil
}

// DeleteProperty removes the property at path.
func (s *Store) DeleteProperty(ctx context.Context, path string) error {
	if err := jcrpath.Validate(path); err != nil {
		return err
	}
	ok, err := s.docs.PullProperty(ctx, s.ws, jcrpath.Parent(path), jcrpath.Name(path))
	if err != nil {
		return errors.Repository("failed to remove property", path, err)
	}
	if !ok {
		return errors.Newf(errors.ErrNotFound, "property %s not found", path).WithPath(path)
	}
	if _, err := s.blobs.DeleteProperty(ctx, s.ws, path); err != nil {
		return errors.Repository("failed to drop binary", path, err)
	}
	s.record("remove", path)
	return nil
}

// Delete removes the node at path with its whole subtree, or the property at
// path when there is no such node.
//
// The deletion is refused while any node holds a REFERENCE to a node of the
// subtree. The root node cannot be deleted.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := jcrpath.Validate(path); err != nil {
		return err
	}
	if path == jcrpath.Root {
		return errors.Newf(errors.ErrRepository, "cannot delete the root node").WithPath(path)
	}
	if _, err := s.docs.FindNode(ctx, s.ws, path); stderrors.Is(err, docstore.ErrNotFound) {
		return s.DeleteProperty(ctx, path)
	} else if err != nil {
		return errors.Repository("failed to load node", path, err)
	}
	subtree, err := s.docs.Subtree(ctx, s.ws, path)
	if err != nil {
		return errors.Repository("failed to list subtree", path, err)
	}
	var referrers []string
	for _, d := range subtree {
		docs, err := s.docs.FindReferencing(ctx, s.ws, jcr.Reference, d.ID.String())
		if err != nil {
			return errors.Repository("failed to look up references", d.Path, err)
		}
		for _, r := range docs {
			referrers = append(referrers, referringProperties(r, jcr.Reference, d.ID.String(), "")...)
		}
	}
	if len(referrers) != 0 {
		return errors.ReferentialIntegrity(path, referrers)
	}
	n, err := s.docs.DeleteSubtree(ctx, s.ws, path)
	if err != nil {
		return errors.Repository("failed to delete subtree", path, err)
	}
	if _, err := s.blobs.DeleteSubtree(ctx, s.ws, path); err != nil {
		return errors.Repository("failed to drop binaries", path, err)
	}
	s.forget(path)
	s.record("delete", path)
	slog.InfoContext(ctx, "subtree deleted", "ws", s.wsName, "path", path, "nodes", n)
	return nil
}

// Copy duplicates the subtree at src, read from srcWorkspace or the bound
// workspace when empty, to dst in the bound workspace. Every copied node gets
// a fresh identifier; binary payloads are shared.
func (s *Store) Copy(ctx context.Context, src, dst, srcWorkspace string) error {
	srcWS := s.ws
	if srcWorkspace != "" && srcWorkspace != s.wsName {
		if s.workspaces == nil {
			return errors.NoSuchWorkspace(srcWorkspace)
		}
		id, ok, err := s.workspaces.ID(ctx, srcWorkspace)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NoSuchWorkspace(srcWorkspace)
		}
		srcWS = id
	}
	if err := s.checkTransfer(ctx, srcWS, src, dst); err != nil {
		return err
	}
	docs, err := s.docs.Subtree(ctx, srcWS, src)
	if err != nil {
		return errors.Repository("failed to list subtree", src, err)
	}
	for _, d := range docs {
		c := d.Clone()
		c.ID = uuid.New()
		c.Path = jcrpath.Rebase(d.Path, src, dst)
		c.Parent = jcrpath.ParentOrSentinel(c.Path)
		c.WorkspaceID = s.ws
		if err := s.docs.InsertNode(ctx, c); err != nil {
			return errors.Repository(fmt.Sprintf("failed to copy %s", d.Path), c.Path, err)
		}
	}
	if _, err := s.blobs.CopySubtree(ctx, srcWS, src, s.ws, dst); err != nil {
		return errors.Repository("failed to copy binaries", dst, err)
	}
	s.record("copy", src+" -> "+dst)
	slog.InfoContext(ctx, "subtree copied", "ws", s.wsName, "src", src, "dst", dst, "nodes", len(docs))
	return nil
}

// Move relocates the subtree at src to dst. Identifiers are preserved.
func (s *Store) Move(ctx context.Context, src, dst string) error {
	if err := s.checkTransfer(ctx, s.ws, src, dst); err != nil {
		return err
	}
	if src == jcrpath.Root || jcrpath.IsUnderSubtree(dst, src) {
		return errors.Newf(errors.ErrRepository, "cannot move %s into itself", src).WithPath(dst)
	}
	docs, err := s.docs.Subtree(ctx, s.ws, src)
	if err != nil {
		return errors.Repository("failed to list subtree", src, err)
	}
	for _, d := range docs {
		d.Path = jcrpath.Rebase(d.Path, src, dst)
		d.Parent = jcrpath.ParentOrSentinel(d.Path)
		if err := s.docs.SaveNode(ctx, d); err != nil {
			return errors.Repository("failed to move node", d.Path, err)
		}
	}
	if _, err := s.blobs.MoveSubtree(ctx, s.ws, src, dst); err != nil {
		return errors.Repository("failed to move binaries", dst, err)
	}
	s.rebase(src, dst)
	s.record("move", src+" -> "+dst)
	slog.InfoContext(ctx, "subtree moved", "ws", s.wsName, "src", src, "dst", dst, "nodes", len(docs))
	return nil
}

// checkTransfer verifies the preconditions shared by Copy and Move.
func (s *Store) checkTransfer(ctx context.Context, srcWS ksid.ID, src, dst string) error {
	if err := jcrpath.Validate(src); err != nil {
		return err
	}
	if err := jcrpath.Validate(dst); err != nil {
		return err
	}
	if jcrpath.HasIndexSuffix(dst) {
		return errors.New(errors.ErrRepository, "invalid destination path").WithPath(dst)
	}
	exists := func(ws ksid.ID, p string) (bool, error) {
		_, err := s.docs.FindNode(ctx, ws, p)
		if stderrors.Is(err, docstore.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, errors.Repository("failed to load node", p, err)
		}
		return true, nil
	}
	if ok, err := exists(srcWS, src); err != nil {
		return err
	} else if !ok {
		return errors.PathNotFound(fmt.Sprintf("source path %s not found", src), src)
	}
	if ok, err := exists(s.ws, dst); err != nil {
		return err
	} else if ok {
		return errors.ItemExists(dst)
	}
	parent := jcrpath.Parent(dst)
	if ok, err := exists(s.ws, parent); err != nil {
		return err
	} else if !ok {
		return errors.PathNotFound(fmt.Sprintf("parent of the destination path %s has to exist", dst), parent)
	}
	return nil
}

// BinaryStream returns the payload of value index of the BINARY property at
// path.
func (s *Store) BinaryStream(ctx context.Context, path string, index int) (io.ReadCloser, error) {
	if err := jcrpath.Validate(path); err != nil {
		return nil, err
	}
	r, err := s.blobs.Open(ctx, blobstore.Key{WorkspaceID: s.ws, Path: path, Index: index})
	if stderrors.Is(err, blobstore.ErrNotFound) {
		return nil, errors.NotFound(path)
	}
	if err != nil {
		return nil, errors.Repository("failed to open binary", path, err)
	}
	return r, nil
}

// FindReferences returns the paths of the properties referencing the node at
// path, optionally restricted to properties called name. weak selects
// WEAKREFERENCE properties instead of REFERENCE ones.
func (s *Store) FindReferences(ctx context.Context, path, name string, weak bool) ([]string, error) {
	if err := jcrpath.Validate(path); err != nil {
		return nil, err
	}
	doc, err := s.docs.FindNode(ctx, s.ws, path)
	if stderrors.Is(err, docstore.ErrNotFound) {
		return nil, errors.NotFound(path)
	}
	if err != nil {
		return nil, errors.Repository("failed to load node", path, err)
	}
	typ := jcr.Reference
	if weak {
		typ = jcr.WeakReference
	}
	target := doc.ID.String()
	docs, err := s.docs.FindReferencing(ctx, s.ws, typ, target)
	if err != nil {
		return nil, errors.Repository("failed to look up references", path, err)
	}
	var out []string
	for _, d := range docs {
		out = append(out, referringProperties(d, typ, target, name)...)
	}
	return out, nil
}

func referringProperties(d *docstore.NodeDoc, typ jcr.PropertyType, target, name string) []string {
	var out []string
	for i := range d.Props {
		r := &d.Props[i]
		if (name == "" || r.Name == name) && r.RefersTo(typ, target) {
			out = append(out, jcrpath.Join(d.Path, r.Name))
		}
	}
	return out
}

// PrepareSave starts a save cycle.
func (s *Store) PrepareSave(context.Context) error {
	if s.journal != nil {
		s.journal.Begin()
	}
	return nil
}

// RollbackSave ends a failed save cycle. Documents already written stay.
func (s *Store) RollbackSave(ctx context.Context) error {
	if s.journal != nil {
		s.journal.Discard()
		slog.WarnContext(ctx, "save rolled back; written documents are kept", "ws", s.wsName)
	}
	return nil
}

// FinishSave ends a successful save cycle.
func (s *Store) FinishSave(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	if err := s.journal.Commit(ctx, journal.Author{Name: s.userID}); err != nil {
		return errors.Repository("failed to record history", "", err)
	}
	return nil
}

func (s *Store) record(op, path string) {
	if s.journal != nil {
		s.journal.Record(op, s.wsName+":"+path)
	}
}

func (s *Store) remember(path string, id uuid.UUID) {
	s.mu.Lock()
	s.ids[path] = id
	s.mu.Unlock()
}

func (s *Store) forget(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.ids {
		if jcrpath.IsUnderSubtree(p, root) {
			delete(s.ids, p)
		}
	}
}

func (s *Store) rebase(src, dst string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := map[string]uuid.UUID{}
	for p, id := range s.ids {
		if jcrpath.IsUnderSubtree(p, src) {
			moved[jcrpath.Rebase(p, src, dst)] = id
			delete(s.ids, p)
		}
	}
	for p, id := range moved {
		s.ids[p] = id
	}
}

// generated is a property produced while storing a node: its mixin list or
// an autocreated value.
type generated struct {
	node   jcr.Node
	name   string
	typ    jcr.PropertyType
	multi  bool
	values []jcr.Value
}

func (g *generated) Name() string           { return g.name }
func (g *generated) Path() string           { return jcrpath.Join(g.node.Path(), g.name) }
func (g *generated) Type() jcr.PropertyType { return g.typ }
func (g *generated) IsMultiple() bool       { return g.multi }
func (g *generated) Values() []jcr.Value    { return g.values }
func (g *generated) IsNew() bool            { return true }
func (g *generated) IsModified() bool       { return false }
func (g *generated) Node() jcr.Node         { return g.node }
