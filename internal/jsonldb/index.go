// Secondary indexes kept in sync with a table through TableObserver.

package jsonldb

import (
	"iter"
	"slices"
	"sync"

	"github.com/maruel/ksid"
)

// UniqueIndex maps a key to the one row holding it.
//
// Existing rows are indexed on creation. When two rows share a key the last
// one written wins, so callers enforce uniqueness before writing.
type UniqueIndex[K comparable, T Row[T]] struct {
	table *Table[T]
	key   func(T) K

	mu  sync.RWMutex
	ids map[K]ksid.ID
}

// NewUniqueIndex indexes table by key.
func NewUniqueIndex[K comparable, T Row[T]](table *Table[T], key func(T) K) *UniqueIndex[K, T] {
	x := &UniqueIndex[K, T]{table: table, key: key, ids: map[K]ksid.ID{}}
	table.AddObserver(x)
	return x
}

// ID returns the ID of the row holding k.
func (x *UniqueIndex[K, T]) ID(k K) (ksid.ID, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.ids[k]
	return id, ok
}

// Get returns a clone of the row holding k, or the zero value.
func (x *UniqueIndex[K, T]) Get(k K) T {
	if id, ok := x.ID(k); ok {
		return x.table.Get(id)
	}
	var zero T
	return zero
}

// OnAppend implements [TableObserver].
func (x *UniqueIndex[K, T]) OnAppend(row T) {
	x.mu.Lock()
	x.ids[x.key(row)] = row.GetID()
	x.mu.Unlock()
}

// OnUpdate implements [TableObserver].
func (x *UniqueIndex[K, T]) OnUpdate(prev, curr T) {
	x.mu.Lock()
	x.dropLocked(x.key(prev), prev.GetID())
	x.ids[x.key(curr)] = curr.GetID()
	x.mu.Unlock()
}

// OnDelete implements [TableObserver].
func (x *UniqueIndex[K, T]) OnDelete(row T) {
	x.mu.Lock()
	x.dropLocked(x.key(row), row.GetID())
	x.mu.Unlock()
}

func (x *UniqueIndex[K, T]) dropLocked(k K, id ksid.ID) {
	if x.ids[k] == id {
		delete(x.ids, k)
	}
}

// Index maps a key to every row holding it. Each key keeps its row IDs
// sorted, so iteration follows table order.
type Index[K comparable, T Row[T]] struct {
	table *Table[T]
	key   func(T) K

	mu  sync.RWMutex
	ids map[K][]ksid.ID
}

// NewIndex indexes table by key.
func NewIndex[K comparable, T Row[T]](table *Table[T], key func(T) K) *Index[K, T] {
	x := &Index[K, T]{table: table, key: key, ids: map[K][]ksid.ID{}}
	table.AddObserver(x)
	return x
}

// Iter yields clones of the rows holding k in ID order. Rows deleted while
// iterating are skipped.
func (x *Index[K, T]) Iter(k K) iter.Seq[T] {
	return func(yield func(T) bool) {
		x.mu.RLock()
		ids := slices.Clone(x.ids[k])
		x.mu.RUnlock()
		for _, id := range ids {
			if row, ok := x.table.Lookup(id); ok && !yield(row) {
				return
			}
		}
	}
}

// Count returns the number of rows holding k.
func (x *Index[K, T]) Count(k K) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids[k])
}

// OnAppend implements [TableObserver].
func (x *Index[K, T]) OnAppend(row T) {
	x.mu.Lock()
	x.addLocked(x.key(row), row.GetID())
	x.mu.Unlock()
}

// OnUpdate implements [TableObserver].
func (x *Index[K, T]) OnUpdate(prev, curr T) {
	if k := x.key(curr); k != x.key(prev) {
		x.mu.Lock()
		x.dropLocked(x.key(prev), prev.GetID())
		x.addLocked(k, curr.GetID())
		x.mu.Unlock()
	}
}

// OnDelete implements [TableObserver].
func (x *Index[K, T]) OnDelete(row T) {
	x.mu.Lock()
	x.dropLocked(x.key(row), row.GetID())
	x.mu.Unlock()
}

func (x *Index[K, T]) addLocked(k K, id ksid.ID) {
	s := x.ids[k]
	if i, found := slices.BinarySearch(s, id); !found {
		x.ids[k] = slices.Insert(s, i, id)
	}
}

func (x *Index[K, T]) dropLocked(k K, id ksid.ID) {
	s := x.ids[k]
	i, found := slices.BinarySearch(s, id)
	if !found {
		return
	}
	if s = slices.Delete(s, i, i+1); len(s) == 0 {
		delete(x.ids, k)
	} else {
		x.ids[k] = s
	}
}
