// Package jsonlstore implements docstore.Store on top of jsonldb tables.
//
// Every table is fully cached in memory with secondary indexes; writes are
// serialized by a store-wide mutex so uniqueness checks and the following
// write see the same state.
package jsonlstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/maruel/ksid"

	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/jcrpath"
	"github.com/maruel/jcrdb/internal/jsonldb"
)

// nodeRow is the jsonldb row wrapping a node document. The row ID orders
// nodes by insertion, which is the child order.
type nodeRow struct {
	RowID ksid.ID `json:"_id" jsonschema:"type=string"`
	docstore.NodeDoc
}

func (r *nodeRow) Clone() *nodeRow {
	return &nodeRow{RowID: r.RowID, NodeDoc: *r.NodeDoc.Clone()}
}

func (r *nodeRow) GetID() ksid.ID {
	return r.RowID
}

func (r *nodeRow) Validate() error {
	return r.NodeDoc.Validate()
}

type pathKey struct {
	ws   ksid.ID
	path string
}

type idKey struct {
	ws ksid.ID
	id uuid.UUID
}

// Store is a docstore.Store persisted as JSONL files in a directory.
type Store struct {
	mu sync.Mutex // serializes writes

	nodes    *jsonldb.Table[*nodeRow]
	byPath   *jsonldb.UniqueIndex[pathKey, *nodeRow]
	byID     *jsonldb.UniqueIndex[idKey, *nodeRow]
	byParent *jsonldb.Index[pathKey, *nodeRow]
	byWS     *jsonldb.Index[ksid.ID, *nodeRow]

	workspaces *jsonldb.Table[*docstore.WorkspaceDoc]
	wsByName   *jsonldb.UniqueIndex[string, *docstore.WorkspaceDoc]

	namespaces *jsonldb.Table[*docstore.NamespaceDoc]
	nsByPrefix *jsonldb.UniqueIndex[string, *docstore.NamespaceDoc]
}

// Open loads or creates the tables in dir.
func Open(dir string) (*Store, error) {
	nodes, err := jsonldb.NewTable[*nodeRow](filepath.Join(dir, "nodes.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open nodes table: %w", err)
	}
	workspaces, err := jsonldb.NewTable[*docstore.WorkspaceDoc](filepath.Join(dir, "workspaces.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open workspaces table: %w", err)
	}
	namespaces, err := jsonldb.NewTable[*docstore.NamespaceDoc](filepath.Join(dir, "namespaces.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open namespaces table: %w", err)
	}
	return &Store{
		nodes:      nodes,
		byPath:     jsonldb.NewUniqueIndex(nodes, func(r *nodeRow) pathKey { return pathKey{r.WorkspaceID, r.Path} }),
		byID:       jsonldb.NewUniqueIndex(nodes, func(r *nodeRow) idKey { return idKey{r.WorkspaceID, r.ID} }),
		byParent:   jsonldb.NewIndex(nodes, func(r *nodeRow) pathKey { return pathKey{r.WorkspaceID, r.Parent} }),
		byWS:       jsonldb.NewIndex(nodes, func(r *nodeRow) ksid.ID { return r.WorkspaceID }),
		workspaces: workspaces,
		wsByName:   jsonldb.NewUniqueIndex(workspaces, func(w *docstore.WorkspaceDoc) string { return w.Name }),
		namespaces: namespaces,
		nsByPrefix: jsonldb.NewUniqueIndex(namespaces, func(n *docstore.NamespaceDoc) string { return n.Prefix }),
	}, nil
}

// Close implements docstore.Store. Tables are written through; nothing to flush.
func (s *Store) Close() error {
	return nil
}

// FindNode implements docstore.Store.
func (s *Store) FindNode(ctx context.Context, ws ksid.ID, path string) (*docstore.NodeDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r := s.byPath.Get(pathKey{ws, path}); r != nil {
		return &r.NodeDoc, nil
	}
	return nil, docstore.ErrNotFound
}

// FindNodeByID implements docstore.Store.
func (s *Store) FindNodeByID(ctx context.Context, ws ksid.ID, id uuid.UUID) (*docstore.NodeDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r := s.byID.Get(idKey{ws, id}); r != nil {
		return &r.NodeDoc, nil
	}
	return nil, docstore.ErrNotFound
}

// Children implements docstore.Store.
func (s *Store) Children(ctx context.Context, ws ksid.ID, path string) ([]*docstore.NodeDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*docstore.NodeDoc
	for r := range s.byParent.Iter(pathKey{ws, path}) {
		out = append(out, &r.NodeDoc)
	}
	return out, nil
}

// Subtree implements docstore.Store.
func (s *Store) Subtree(ctx context.Context, ws ksid.ID, root string) ([]*docstore.NodeDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*docstore.NodeDoc
	for r := range s.byWS.Iter(ws) {
		if jcrpath.IsUnderSubtree(r.Path, root) {
			out = append(out, &r.NodeDoc)
		}
	}
	slices.SortFunc(out, func(a, b *docstore.NodeDoc) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// InsertNode implements docstore.Store.
func (s *Store) InsertNode(ctx context.Context, doc *docstore.NodeDoc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPath.ID(pathKey{doc.WorkspaceID, doc.Path}); ok {
		return fmt.Errorf("%w: %s", docstore.ErrExists, doc.Path)
	}
	if _, ok := s.byID.ID(idKey{doc.WorkspaceID, doc.ID}); ok {
		return fmt.Errorf("%w: identifier %s", docstore.ErrExists, doc.ID)
	}
	return s.nodes.Append(&nodeRow{RowID: ksid.NewID(), NodeDoc: *doc.Clone()})
}

// UpsertNode implements docstore.Store.
func (s *Store) UpsertNode(ctx context.Context, doc *docstore.NodeDoc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rowID, exists := s.byPath.ID(pathKey{doc.WorkspaceID, doc.Path})
	if other, ok := s.byID.ID(idKey{doc.WorkspaceID, doc.ID}); ok && (!exists || other != rowID) {
		return fmt.Errorf("%w: identifier %s", docstore.ErrExists, doc.ID)
	}
	if !exists {
		return s.nodes.Append(&nodeRow{RowID: ksid.NewID(), NodeDoc: *doc.Clone()})
	}
	_, err := s.nodes.Update(&nodeRow{RowID: rowID, NodeDoc: *doc.Clone()})
	return err
}

// SaveNode implements docstore.Store.
func (s *Store) SaveNode(ctx context.Context, doc *docstore.NodeDoc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rowID, ok := s.byID.ID(idKey{doc.WorkspaceID, doc.ID})
	if !ok {
		return fmt.Errorf("%w: identifier %s", docstore.ErrNotFound, doc.ID)
	}
	if other, ok := s.byPath.ID(pathKey{doc.WorkspaceID, doc.Path}); ok && other != rowID {
		return fmt.Errorf("%w: %s", docstore.ErrExists, doc.Path)
	}
	_, err := s.nodes.Update(&nodeRow{RowID: rowID, NodeDoc: *doc.Clone()})
	return err
}

// SetProperty implements docstore.Store.
func (s *Store) SetProperty(ctx context.Context, ws ksid.ID, path string, rec *docstore.PropertyRecord) (bool, error) {
	return s.modifyNode(ctx, ws, path, func(d *docstore.NodeDoc) bool {
		i := d.Property(rec.Name)
		if i < 0 {
			return false
		}
		d.Props[i] = rec.Clone()
		return true
	})
}

// PushProperty implements docstore.Store.
func (s *Store) PushProperty(ctx context.Context, ws ksid.ID, path string, rec *docstore.PropertyRecord) error {
	found, err := s.modifyNode(ctx, ws, path, func(d *docstore.NodeDoc) bool {
		d.Props = append(d.Props, rec.Clone())
		return true
	})
	if err == nil && !found {
		err = fmt.Errorf("%w: %s", docstore.ErrNotFound, path)
	}
	return err
}

// PullProperty implements docstore.Store.
func (s *Store) PullProperty(ctx context.Context, ws ksid.ID, path, name string) (bool, error) {
	return s.modifyNode(ctx, ws, path, func(d *docstore.NodeDoc) bool {
		i := d.Property(name)
		if i < 0 {
			return false
		}
		d.Props = slices.Delete(d.Props, i, i+1)
		return true
	})
}

var errUnchanged = errors.New("unchanged")

// modifyNode applies fn to the node at path. It reports false when the node
// does not exist or fn left it unchanged.
func (s *Store) modifyNode(ctx context.Context, ws ksid.ID, path string, fn func(*docstore.NodeDoc) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rowID, ok := s.byPath.ID(pathKey{ws, path})
	if !ok {
		return false, nil
	}
	_, err := s.nodes.Modify(rowID, func(r *nodeRow) error {
		if !fn(&r.NodeDoc) {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	return err == nil, err
}

// DeleteSubtree implements docstore.Store.
func (s *Store) DeleteSubtree(ctx context.Context, ws ksid.ID, root string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes.DeleteFunc(func(r *nodeRow) bool {
		return r.WorkspaceID == ws && jcrpath.IsUnderSubtree(r.Path, root)
	})
}

// DeleteWorkspaceNodes implements docstore.Store.
func (s *Store) DeleteWorkspaceNodes(ctx context.Context, ws ksid.ID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes.DeleteFunc(func(r *nodeRow) bool { return r.WorkspaceID == ws })
}

// FindReferencing implements docstore.Store. It scans the workspace.
func (s *Store) FindReferencing(ctx context.Context, ws ksid.ID, typ jcr.PropertyType, target string) ([]*docstore.NodeDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*docstore.NodeDoc
	for r := range s.byWS.Iter(ws) {
		for i := range r.Props {
			if r.Props[i].RefersTo(typ, target) {
				out = append(out, &r.NodeDoc)
				break
			}
		}
	}
	return out, nil
}

// FindWorkspace implements docstore.Store.
func (s *Store) FindWorkspace(ctx context.Context, name string) (*docstore.WorkspaceDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w := s.wsByName.Get(name); w != nil {
		return w, nil
	}
	return nil, docstore.ErrNotFound
}

// InsertWorkspace implements docstore.Store.
func (s *Store) InsertWorkspace(ctx context.Context, w *docstore.WorkspaceDoc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wsByName.ID(w.Name); ok {
		return fmt.Errorf("%w: workspace %s", docstore.ErrExists, w.Name)
	}
	c := w.Clone()
	if c.ID.IsZero() {
		c.ID = ksid.NewID()
	}
	return s.workspaces.Append(c)
}

// DeleteWorkspace implements docstore.Store.
func (s *Store) DeleteWorkspace(ctx context.Context, id ksid.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.workspaces.Delete(id)
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("%w: workspace %s", docstore.ErrNotFound, id)
	}
	return nil
}

// Workspaces implements docstore.Store.
func (s *Store) Workspaces(ctx context.Context) ([]*docstore.WorkspaceDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Collect(s.workspaces.All()), nil
}

// Namespaces implements docstore.Store.
func (s *Store) Namespaces(ctx context.Context) ([]*docstore.NamespaceDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Collect(s.namespaces.All()), nil
}

// PutNamespace implements docstore.Store.
func (s *Store) PutNamespace(ctx context.Context, n *docstore.NamespaceDoc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.nsByPrefix.ID(n.Prefix); ok {
		_, err := s.namespaces.Modify(id, func(row *docstore.NamespaceDoc) error {
			row.URI = n.URI
			return nil
		})
		return err
	}
	c := n.Clone()
	if c.ID.IsZero() {
		c.ID = ksid.NewID()
	}
	return s.namespaces.Append(c)
}

// DeleteNamespace implements docstore.Store.
func (s *Store) DeleteNamespace(ctx context.Context, prefix string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.nsByPrefix.ID(prefix)
	if !ok {
		return false, nil
	}
	n, err := s.namespaces.Delete(id)
	return n != nil, err
}

var _ docstore.Store = (*Store)(nil)
