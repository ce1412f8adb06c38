package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/maruel/ksid"

	"github.com/maruel/jcrdb/internal/jsonldb"
)

func setupStore(t *testing.T, c jsonldb.Compression) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), c)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func read(t *testing.T, s *Store, key Key) string {
	t.Helper()
	rc, err := s.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", key, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	ws := ksid.NewID()
	for _, c := range []jsonldb.Compression{jsonldb.CompressionNone, jsonldb.CompressionLZ4, jsonldb.CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			s := setupStore(t, c)
			key := Key{ws, "/a/data", 0}
			n, err := s.Put(ctx, key, strings.NewReader("hello world"))
			if err != nil {
				t.Fatal(err)
			}
			if n != 11 {
				t.Errorf("Put() = %d, want 11", n)
			}
			if got := read(t, s, key); got != "hello world" {
				t.Errorf("Open() = %q", got)
			}
			if l, ok := s.Length(key); !ok || l != 11 {
				t.Errorf("Length() = %d, %v", l, ok)
			}
			if _, err := s.Put(ctx, key, strings.NewReader("bye")); err != nil {
				t.Fatal(err)
			}
			if got := read(t, s, key); got != "bye" {
				t.Errorf("Open() after overwrite = %q", got)
			}
		})
	}

	t.Run("missing", func(t *testing.T) {
		s := setupStore(t, jsonldb.CompressionNone)
		if _, err := s.Open(ctx, Key{ws, "/nope", 0}); !errors.Is(err, ErrNotFound) {
			t.Errorf("Open() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSubtree(t *testing.T) {
	ctx := context.Background()
	ws := ksid.NewID()
	other := ksid.NewID()
	seed := func(t *testing.T) *Store {
		s := setupStore(t, jsonldb.CompressionZstd)
		for _, k := range []Key{{ws, "/a/data", 0}, {ws, "/a/data", 1}, {ws, "/a/b/data", 0}, {ws, "/ab/data", 0}} {
			if _, err := s.Workspace(k.WorkspaceID).PutBinary(ctx, k.Path, k.Index, strings.NewReader(k.String())); err != nil {
				t.Fatal(err)
			}
		}
		return s
	}

	t.Run("copy", func(t *testing.T) {
		s := seed(t)
		n, err := s.CopySubtree(ctx, ws, "/a", other, "/x")
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Errorf("CopySubtree() = %d, want 3", n)
		}
		if got, want := read(t, s, Key{other, "/x/b/data", 0}), (Key{ws, "/a/b/data", 0}).String(); got != want {
			t.Errorf("copied payload = %q, want %q", got, want)
		}
		if _, ok := s.Length(Key{other, "/xb/data", 0}); ok {
			t.Error("sibling /ab was copied")
		}
		// Overwriting the copy leaves the source alone.
		if _, err := s.Put(ctx, Key{other, "/x/data", 0}, strings.NewReader("changed")); err != nil {
			t.Fatal(err)
		}
		if got, want := read(t, s, Key{ws, "/a/data", 0}), (Key{ws, "/a/data", 0}).String(); got != want {
			t.Errorf("source payload = %q, want %q", got, want)
		}
	})

	t.Run("move", func(t *testing.T) {
		s := seed(t)
		n, err := s.MoveSubtree(ctx, ws, "/a", "/m")
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Errorf("MoveSubtree() = %d, want 3", n)
		}
		if _, ok := s.Length(Key{ws, "/a/data", 1}); ok {
			t.Error("source key still present")
		}
		if got, want := read(t, s, Key{ws, "/m/data", 1}), (Key{ws, "/a/data", 1}).String(); got != want {
			t.Errorf("moved payload = %q, want %q", got, want)
		}
		if _, ok := s.Length(Key{ws, "/ab/data", 0}); !ok {
			t.Error("sibling /ab was moved")
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := seed(t)
		if _, err := s.CopySubtree(ctx, ws, "/a", other, "/a"); err != nil {
			t.Fatal(err)
		}
		n, err := s.DeleteSubtree(ctx, ws, "/a")
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Errorf("DeleteSubtree() = %d, want 3", n)
		}
		// Shared payloads survive the collection.
		if got, want := read(t, s, Key{other, "/a/b/data", 0}), (Key{ws, "/a/b/data", 0}).String(); got != want {
			t.Errorf("shared payload = %q, want %q", got, want)
		}
		if n, err := s.DeleteProperty(ctx, other, "/a/data"); err != nil || n != 2 {
			t.Errorf("DeleteProperty() = %d, %v, want 2", n, err)
		}
		if n, err := s.DeleteWorkspace(ctx, other); err != nil || n != 1 {
			t.Errorf("DeleteWorkspace() = %d, %v, want 1", n, err)
		}
		if err := s.GC(); err != nil {
			t.Errorf("GC() error = %v", err)
		}
	})
}
