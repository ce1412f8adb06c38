// Implements the generic JSONL table.

package jsonldb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/maruel/ksid"
)

var (
	errZeroID      = errors.New("row ID is zero")
	errDuplicateID = errors.New("row ID already exists")
	errIDChanged   = errors.New("row ID cannot be changed")
)

// ErrNotFound is returned by [Table.Modify] and [Table.Update] when no row
// has the requested ID.
var ErrNotFound = errors.New("row not found")

// Cloner is implemented by types that can clone themselves.
type Cloner[T any] interface {
	Clone() T
}

// Row is the constraint on types stored in a [Table].
type Row[T any] interface {
	Cloner[T]
	// GetID returns the primary key of the row. It must be non-zero.
	GetID() ksid.ID
	// Validate reports whether the row is well-formed. It is called before
	// every write.
	Validate() error
}

// TableObserver is notified of every mutation after it has been persisted.
//
// Callbacks run with the table write lock held; they must not call back into
// the table.
type TableObserver[T any] interface {
	OnAppend(row T)
	OnUpdate(prev, curr T)
	OnDelete(row T)
}

// Option configures a [Table].
type Option func(*options)

type options struct {
	compression Compression
}

// WithCompression selects the compression applied to new blobs.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// Table handles storage and in-memory caching for a single table in JSONL format.
type Table[T Row[T]] struct {
	path  string
	blobs *blobDir

	mu        sync.RWMutex
	columns   []column
	rows      []T
	byID      map[ksid.ID]int
	observers []TableObserver[T]
}

// NewTable creates a new Table and loads all data from the file.
func NewTable[T Row[T]](path string, opts ...Option) (*Table[T], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	columns, err := schemaFromType[T]()
	if err != nil {
		return nil, err
	}
	table := &Table[T]{
		path:    path,
		blobs:   &blobDir{root: strings.TrimSuffix(path, filepath.Ext(path)) + blobDirSuffix, compression: o.compression},
		columns: columns,
		byID:    map[ksid.ID]int{},
	}
	if err := table.load(); err != nil {
		return nil, err
	}
	return table, nil
}

func (t *Table[T]) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.rows = []T{}
			return t.saveLocked()
		}
		return fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var rows []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			var h schemaHeader
			if err := json.Unmarshal(line, &h); err != nil {
				return fmt.Errorf("failed to unmarshal schema header in %s: %w", t.path, err)
			}
			if err := h.Validate(); err != nil {
				return fmt.Errorf("invalid schema header in %s: %w", t.path, err)
			}
			continue
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row in %s: %w", t.path, err)
		}
		if err := row.Validate(); err != nil {
			return fmt.Errorf("invalid row %s in %s: %w", row.GetID(), t.path, err)
		}
		t.attachBlobs(row)
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}

	if !slices.IsSortedFunc(rows, compareRows[T]) {
		slices.SortFunc(rows, compareRows[T])
	}
	for i, row := range rows {
		if _, ok := t.byID[row.GetID()]; ok {
			return fmt.Errorf("duplicate row %s in %s", row.GetID(), t.path)
		}
		t.byID[row.GetID()] = i
	}
	t.rows = rows
	return nil
}

func compareRows[T Row[T]](a, b T) int {
	ai, bi := a.GetID(), b.GetID()
	switch {
	case ai < bi:
		return -1
	case ai > bi:
		return 1
	}
	return 0
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Get returns a clone of the row with the given ID, or the zero value.
func (t *Table[T]) Get(id ksid.ID) T {
	row, _ := t.Lookup(id)
	return row
}

// Lookup returns a clone of the row with the given ID.
func (t *Table[T]) Lookup(id ksid.ID) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i, ok := t.byID[id]; ok {
		return t.rows[i].Clone(), true
	}
	var zero T
	return zero, false
}

// Last returns a clone of the last row, or the zero value if empty.
func (t *Table[T]) Last() T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.rows) == 0 {
		var zero T
		return zero
	}
	return t.rows[len(t.rows)-1].Clone()
}

// Iter returns an iterator over clones of rows with an ID greater than
// startID, in ID order. Use 0 to iterate over all rows.
//
// The read lock is held for the duration of the iteration.
func (t *Table[T]) Iter(startID ksid.ID) iter.Seq[T] {
	return func(yield func(T) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		start, _ := slices.BinarySearchFunc(t.rows, startID+1, func(r T, id ksid.ID) int {
			switch g := r.GetID(); {
			case g < id:
				return -1
			case g > id:
				return 1
			}
			return 0
		})
		for _, row := range t.rows[start:] {
			if !yield(row.Clone()) {
				return
			}
		}
	}
}

// All returns an iterator over clones of all rows.
func (t *Table[T]) All() iter.Seq[T] {
	return t.Iter(0)
}

// AddObserver registers o and replays every existing row to its OnAppend.
func (t *Table[T]) AddObserver(o TableObserver[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range t.rows {
		o.OnAppend(row.Clone())
	}
	t.observers = append(t.observers, o)
}

// Append adds a new row to the table and persists it.
func (t *Table[T]) Append(row T) error {
	if row.GetID().IsZero() {
		return errZeroID
	}
	if err := row.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[row.GetID()]; ok {
		return fmt.Errorf("%w: %s", errDuplicateID, row.GetID())
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open table file for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}

	row = row.Clone()
	t.attachBlobs(row)
	if n := len(t.rows); n > 0 && t.rows[n-1].GetID() > row.GetID() {
		// Out of order insert; keep the in-memory slice sorted.
		i, _ := slices.BinarySearchFunc(t.rows, row, compareRows[T])
		t.rows = slices.Insert(t.rows, i, row)
		t.reindexLocked()
	} else {
		t.byID[row.GetID()] = len(t.rows)
		t.rows = append(t.rows, row)
	}
	for _, o := range t.observers {
		o.OnAppend(row.Clone())
	}
	return nil
}

// Modify applies fn to a clone of the row with the given ID and persists the
// result. The write lock is held for the whole read-modify-write.
//
// Returns [ErrNotFound] when the row does not exist.
func (t *Table[T]) Modify(id ksid.ID, fn func(row T) error) (T, error) {
	var zero T
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.byID[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := t.rows[i]
	curr := prev.Clone()
	if err := fn(curr); err != nil {
		return zero, err
	}
	if curr.GetID() != id {
		return zero, errIDChanged
	}
	if err := curr.Validate(); err != nil {
		return zero, err
	}
	t.attachBlobs(curr)
	t.rows[i] = curr
	if err := t.saveLocked(); err != nil {
		t.rows[i] = prev
		return zero, err
	}
	for _, o := range t.observers {
		o.OnUpdate(prev.Clone(), curr.Clone())
	}
	return curr.Clone(), nil
}

// Update replaces the row with the same ID. It returns the previous row, or
// the zero value and [ErrNotFound] if there was none.
func (t *Table[T]) Update(row T) (T, error) {
	var zero T
	if err := row.Validate(); err != nil {
		return zero, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.byID[row.GetID()]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, row.GetID())
	}
	prev := t.rows[i]
	row = row.Clone()
	t.attachBlobs(row)
	t.rows[i] = row
	if err := t.saveLocked(); err != nil {
		t.rows[i] = prev
		return zero, err
	}
	for _, o := range t.observers {
		o.OnUpdate(prev.Clone(), row.Clone())
	}
	return prev.Clone(), nil
}

// Delete removes the row with the given ID. It returns the deleted row, or
// the zero value if no row matched.
func (t *Table[T]) Delete(id ksid.ID) (T, error) {
	var zero T
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.byID[id]
	if !ok {
		return zero, nil
	}
	row := t.rows[i]
	prevRows := t.rows
	t.rows = slices.Delete(slices.Clone(t.rows), i, i+1)
	if err := t.saveLocked(); err != nil {
		t.rows = prevRows
		return zero, err
	}
	t.reindexLocked()
	for _, o := range t.observers {
		o.OnDelete(row.Clone())
	}
	return row, nil
}

// DeleteFunc removes every row for which match returns true, in a single
// file rewrite. It returns the number of rows removed.
func (t *Table[T]) DeleteFunc(match func(row T) bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var kept, deleted []T
	for _, row := range t.rows {
		if match(row) {
			deleted = append(deleted, row)
		} else {
			kept = append(kept, row)
		}
	}
	if len(deleted) == 0 {
		return 0, nil
	}
	prevRows := t.rows
	t.rows = kept
	if err := t.saveLocked(); err != nil {
		t.rows = prevRows
		return 0, err
	}
	t.reindexLocked()
	for _, row := range deleted {
		for _, o := range t.observers {
			o.OnDelete(row.Clone())
		}
	}
	return len(deleted), nil
}

// NewBlob returns a writer for a new blob stored alongside the table.
func (t *Table[T]) NewBlob() (*BlobWriter, error) {
	return t.blobs.create()
}

// GC removes the blob files no row references.
//
// The table write lock is held during the sweep; blobs written but not yet
// attached to a row are lost.
func (t *Table[T]) GC() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	live := map[string]bool{}
	for _, row := range t.rows {
		if h, ok := any(row).(BlobHolder); ok {
			for _, b := range h.Blobs() {
				if !b.IsZero() {
					live[b.SHA256] = true
				}
			}
		}
	}
	return t.blobs.sweep(live)
}

func (t *Table[T]) attachBlobs(row T) {
	if h, ok := any(row).(BlobHolder); ok {
		for _, b := range h.Blobs() {
			b.dir = t.blobs
		}
	}
}

func (t *Table[T]) reindexLocked() {
	clear(t.byID)
	for i, row := range t.rows {
		t.byID[row.GetID()] = i
	}
}

// saveLocked rewrites the whole file through a temporary file and a rename.
func (t *Table[T]) saveLocked() error {
	var buf bytes.Buffer
	data, err := json.Marshal(&schemaHeader{Version: currentVersion, Columns: t.columns})
	if err != nil {
		return fmt.Errorf("failed to marshal schema header: %w", err)
	}
	buf.Write(data)
	buf.WriteByte('\n')
	for _, row := range t.rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write table file: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return errors.Join(fmt.Errorf("failed to replace table file: %w", err), os.Remove(tmp))
	}
	return nil
}
