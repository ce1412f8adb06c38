// Package blobstore stores the payloads of BINARY property values.
//
// A payload is addressed by the workspace, the property path and the value
// index. The bytes live in the content-addressed blob directory of a jsonldb
// table, so copies of a subtree share their payloads until one side is
// overwritten.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/maruel/ksid"

	"github.com/maruel/jcrdb/internal/jcrpath"
	"github.com/maruel/jcrdb/internal/jsonldb"
)

// ErrNotFound is returned when no payload is stored under a key.
var ErrNotFound = errors.New("binary not found")

// Key addresses one payload.
type Key struct {
	WorkspaceID ksid.ID
	Path        string
	Index       int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s[%d]", k.WorkspaceID, k.Path, k.Index)
}

type blobRow struct {
	ID          ksid.ID      `json:"id" jsonschema:"type=string"`
	WorkspaceID ksid.ID      `json:"w_id" jsonschema:"type=string"`
	Path        string       `json:"path"`
	Index       int          `json:"idx"`
	Data        jsonldb.Blob `json:"data"`
}

func (r *blobRow) Clone() *blobRow {
	c := *r
	c.Data = r.Data.Clone()
	return &c
}

func (r *blobRow) Blobs() []*jsonldb.Blob {
	return []*jsonldb.Blob{&r.Data}
}

func (r *blobRow) GetID() ksid.ID {
	return r.ID
}

func (r *blobRow) Validate() error {
	if r.WorkspaceID.IsZero() {
		return errors.New("workspace is required")
	}
	if r.Path == "" || r.Index < 0 {
		return fmt.Errorf("invalid key %s[%d]", r.Path, r.Index)
	}
	return r.Data.Validate()
}

func (r *blobRow) key() Key {
	return Key{r.WorkspaceID, r.Path, r.Index}
}

// Store is the binary payload store.
type Store struct {
	mu    sync.Mutex // serializes writes
	table *jsonldb.Table[*blobRow]
	byKey *jsonldb.UniqueIndex[Key, *blobRow]
	byWS  *jsonldb.Index[ksid.ID, *blobRow]
}

// Open loads or creates the payload store in dir.
func Open(dir string, compression jsonldb.Compression) (*Store, error) {
	table, err := jsonldb.NewTable[*blobRow](filepath.Join(dir, "binaries.jsonl"), jsonldb.WithCompression(compression))
	if err != nil {
		return nil, fmt.Errorf("failed to open binaries table: %w", err)
	}
	return &Store{
		table: table,
		byKey: jsonldb.NewUniqueIndex(table, (*blobRow).key),
		byWS:  jsonldb.NewIndex(table, func(r *blobRow) ksid.ID { return r.WorkspaceID }),
	}, nil
}

// Put stores the payload read from r under key, replacing any previous one,
// and returns its length.
func (s *Store) Put(ctx context.Context, key Key, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// Held across the write so a concurrent GC cannot collect the new file
	// before its row exists.
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.table.NewBlob()
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		return 0, errors.Join(fmt.Errorf("failed to write %s: %w", key, err), w.Abort())
	}
	blob, err := w.Close()
	if err != nil {
		return 0, err
	}
	if err := s.putLocked(key, blob); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) putLocked(key Key, blob jsonldb.Blob) error {
	if id, ok := s.byKey.ID(key); ok {
		_, err := s.table.Modify(id, func(r *blobRow) error {
			r.Data = blob
			return nil
		})
		return err
	}
	return s.table.Append(&blobRow{ID: ksid.NewID(), WorkspaceID: key.WorkspaceID, Path: key.Path, Index: key.Index, Data: blob})
}

// Open returns the payload stored under key.
func (s *Store) Open(ctx context.Context, key Key) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := s.byKey.Get(key)
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return r.Data.Reader()
}

// Length returns the length of the payload stored under key.
func (s *Store) Length(key Key) (int64, bool) {
	r := s.byKey.Get(key)
	if r == nil {
		return 0, false
	}
	return r.Data.Size, true
}

// under returns the rows of ws whose property path lies below root.
func (s *Store) under(ws ksid.ID, root string) []*blobRow {
	var out []*blobRow
	for r := range s.byWS.Iter(ws) {
		if jcrpath.IsUnderSubtree(r.Path, root) {
			out = append(out, r)
		}
	}
	return out
}

// CopySubtree makes every payload under src in srcWS also available under the
// rebased path below dst in dstWS. Payloads are shared, not duplicated.
func (s *Store) CopySubtree(ctx context.Context, srcWS ksid.ID, src string, dstWS ksid.ID, dst string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.under(srcWS, src)
	for _, r := range rows {
		key := Key{dstWS, jcrpath.Rebase(r.Path, src, dst), r.Index}
		if err := s.putLocked(key, r.Data); err != nil {
			return 0, fmt.Errorf("failed to copy %s: %w", r.key(), err)
		}
	}
	return len(rows), nil
}

// MoveSubtree re-keys every payload under src to the rebased path below dst.
func (s *Store) MoveSubtree(ctx context.Context, ws ksid.ID, src, dst string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.under(ws, src)
	for _, r := range rows {
		if _, err := s.table.Modify(r.ID, func(row *blobRow) error {
			row.Path = jcrpath.Rebase(row.Path, src, dst)
			return nil
		}); err != nil {
			return 0, fmt.Errorf("failed to move %s: %w", r.key(), err)
		}
	}
	return len(rows), nil
}

// DeleteSubtree drops every payload under root and collects the files no
// longer referenced.
func (s *Store) DeleteSubtree(ctx context.Context, ws ksid.ID, root string) (int, error) {
	return s.deleteFunc(ctx, func(r *blobRow) bool {
		return r.WorkspaceID == ws && jcrpath.IsUnderSubtree(r.Path, root)
	})
}

// DeleteProperty drops every value of the property at path.
func (s *Store) DeleteProperty(ctx context.Context, ws ksid.ID, path string) (int, error) {
	return s.deleteFunc(ctx, func(r *blobRow) bool {
		return r.WorkspaceID == ws && r.Path == path
	})
}

// DeleteWorkspace drops every payload of the workspace.
func (s *Store) DeleteWorkspace(ctx context.Context, ws ksid.ID) (int, error) {
	return s.deleteFunc(ctx, func(r *blobRow) bool { return r.WorkspaceID == ws })
}

func (s *Store) deleteFunc(ctx context.Context, match func(*blobRow) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.table.DeleteFunc(match)
	if err != nil || n == 0 {
		return n, err
	}
	if err := s.table.GC(); err != nil {
		// The rows are gone; leftover files are collected by the next pass.
		slog.WarnContext(ctx, "blob gc failed", "err", err)
	}
	return n, nil
}

// Workspace returns the sink writing payloads of workspace ws.
func (s *Store) Workspace(ws ksid.ID) *Workspace {
	return &Workspace{store: s, id: ws}
}

// Workspace binds a Store to one workspace.
type Workspace struct {
	store *Store
	id    ksid.ID
}

// PutBinary implements codec.BinarySink.
func (w *Workspace) PutBinary(ctx context.Context, propertyPath string, index int, r io.Reader) (int64, error) {
	return w.store.Put(ctx, Key{w.id, propertyPath, index}, r)
}

// GC removes payload files no longer referenced by any key.
func (s *Store) GC() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.GC()
}
