// Package storetest is the conformance suite shared by the docstore backends.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/maruel/ksid"

	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/jcrpath"
)

// Node returns a node document at path with a fresh identifier.
func Node(ws ksid.ID, path string, props ...docstore.PropertyRecord) *docstore.NodeDoc {
	return &docstore.NodeDoc{
		ID:          uuid.New(),
		Path:        path,
		Parent:      jcrpath.ParentOrSentinel(path),
		WorkspaceID: ws,
		Type:        jcr.TypeUnstructured,
		Props:       props,
	}
}

// Prop returns a single-valued property record.
func Prop(name string, typ jcr.PropertyType, v any) docstore.PropertyRecord {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return docstore.PropertyRecord{Name: name, Type: typ, Value: b}
}

// MultiProp returns a multi-valued property record.
func MultiProp(name string, typ jcr.PropertyType, v ...any) docstore.PropertyRecord {
	r := Prop(name, typ, v)
	r.Multi = true
	return r
}

func mustInsert(t *testing.T, s docstore.Store, docs ...*docstore.NodeDoc) {
	t.Helper()
	for _, d := range docs {
		if err := s.InsertNode(context.Background(), d); err != nil {
			t.Fatalf("InsertNode(%s) = %v", d.Path, err)
		}
	}
}

func paths(docs []*docstore.NodeDoc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Path
	}
	return out
}

// Run runs the conformance suite. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) docstore.Store) {
	ctx := context.Background()
	ws := ksid.NewID()
	other := ksid.NewID()

	t.Run("Nodes", func(t *testing.T) {
		t.Run("insert and find", func(t *testing.T) {
			s := open(t)
			root := Node(ws, "/")
			a := Node(ws, "/a", Prop("title", jcr.String, "hello"))
			mustInsert(t, s, root, a)

			got, err := s.FindNode(ctx, ws, "/a")
			if err != nil {
				t.Fatalf("FindNode() error = %v", err)
			}
			if got.ID != a.ID || got.Parent != "/" || len(got.Props) != 1 || got.Props[0].Name != "title" {
				t.Errorf("FindNode() = %+v, want %+v", got, a)
			}
			if got, err := s.FindNodeByID(ctx, ws, root.ID); err != nil || got.Path != "/" || got.Parent != jcrpath.NoParent {
				t.Errorf("FindNodeByID(root) = %+v, %v", got, err)
			}
			if _, err := s.FindNode(ctx, other, "/a"); !errors.Is(err, docstore.ErrNotFound) {
				t.Errorf("FindNode(other workspace) error = %v, want ErrNotFound", err)
			}
			if _, err := s.FindNodeByID(ctx, ws, uuid.New()); !errors.Is(err, docstore.ErrNotFound) {
				t.Errorf("FindNodeByID(unknown) error = %v, want ErrNotFound", err)
			}
		})
		t.Run("insert collisions", func(t *testing.T) {
			s := open(t)
			a := Node(ws, "/a")
			mustInsert(t, s, a)
			if err := s.InsertNode(ctx, Node(ws, "/a")); !errors.Is(err, docstore.ErrExists) {
				t.Errorf("InsertNode(same path) error = %v, want ErrExists", err)
			}
			dup := Node(ws, "/b")
			dup.ID = a.ID
			if err := s.InsertNode(ctx, dup); !errors.Is(err, docstore.ErrExists) {
				t.Errorf("InsertNode(same id) error = %v, want ErrExists", err)
			}
			// Workspaces are disjoint key spaces.
			if err := s.InsertNode(ctx, Node(other, "/a")); err != nil {
				t.Errorf("InsertNode(other workspace) error = %v", err)
			}
		})
		t.Run("upsert replaces whole document", func(t *testing.T) {
			s := open(t)
			a := Node(ws, "/a", Prop("x", jcr.Long, 1), Prop("y", jcr.Long, 2))
			if err := s.UpsertNode(ctx, a); err != nil {
				t.Fatal(err)
			}
			b := a.Clone()
			b.Props = []docstore.PropertyRecord{Prop("z", jcr.Long, 3)}
			if err := s.UpsertNode(ctx, b); err != nil {
				t.Fatal(err)
			}
			got, err := s.FindNode(ctx, ws, "/a")
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Props) != 1 || got.Props[0].Name != "z" {
				t.Errorf("Props = %+v, want only z", got.Props)
			}
		})
		t.Run("save by identifier", func(t *testing.T) {
			s := open(t)
			mustInsert(t, s, Node(ws, "/"), Node(ws, "/a"), Node(ws, "/b"))
			a, err := s.FindNode(ctx, ws, "/a")
			if err != nil {
				t.Fatal(err)
			}
			a.Path, a.Parent = "/c", "/"
			if err := s.SaveNode(ctx, a); err != nil {
				t.Fatalf("SaveNode() error = %v", err)
			}
			if _, err := s.FindNode(ctx, ws, "/a"); !errors.Is(err, docstore.ErrNotFound) {
				t.Errorf("FindNode(/a) after move error = %v, want ErrNotFound", err)
			}
			if got, err := s.FindNode(ctx, ws, "/c"); err != nil || got.ID != a.ID {
				t.Errorf("FindNode(/c) = %+v, %v, want ID %s", got, err, a.ID)
			}
			a.Path = "/b"
			if err := s.SaveNode(ctx, a); !errors.Is(err, docstore.ErrExists) {
				t.Errorf("SaveNode(onto /b) error = %v, want ErrExists", err)
			}
			if err := s.SaveNode(ctx, Node(ws, "/d")); !errors.Is(err, docstore.ErrNotFound) {
				t.Errorf("SaveNode(unknown) error = %v, want ErrNotFound", err)
			}
		})
		t.Run("children in insertion order", func(t *testing.T) {
			s := open(t)
			mustInsert(t, s, Node(ws, "/"), Node(ws, "/z"), Node(ws, "/a"), Node(ws, "/a/b"), Node(ws, "/m"))
			got, err := s.Children(ctx, ws, "/")
			if err != nil {
				t.Fatal(err)
			}
			if want := []string{"/z", "/a", "/m"}; !slices.Equal(paths(got), want) {
				t.Errorf("Children(/) = %v, want %v", paths(got), want)
			}
		})
		t.Run("subtree is segment aware", func(t *testing.T) {
			s := open(t)
			mustInsert(t, s, Node(ws, "/"), Node(ws, "/a"), Node(ws, "/ab"), Node(ws, "/a/b"), Node(ws, "/a/b/c"), Node(ws, "/A"), Node(ws, "/a%"))
			got, err := s.Subtree(ctx, ws, "/a")
			if err != nil {
				t.Fatal(err)
			}
			if want := []string{"/a", "/a/b", "/a/b/c"}; !slices.Equal(paths(got), want) {
				t.Errorf("Subtree(/a) = %v, want %v", paths(got), want)
			}
			all, err := s.Subtree(ctx, ws, "/")
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 7 {
				t.Errorf("Subtree(/) returned %d nodes, want 7", len(all))
			}
		})
		t.Run("delete subtree", func(t *testing.T) {
			s := open(t)
			mustInsert(t, s, Node(ws, "/"), Node(ws, "/a"), Node(ws, "/ab"), Node(ws, "/a/b"), Node(other, "/a"))
			n, err := s.DeleteSubtree(ctx, ws, "/a")
			if err != nil {
				t.Fatal(err)
			}
			if n != 2 {
				t.Errorf("DeleteSubtree() = %d, want 2", n)
			}
			for _, p := range []string{"/", "/ab"} {
				if _, err := s.FindNode(ctx, ws, p); err != nil {
					t.Errorf("FindNode(%s) error = %v", p, err)
				}
			}
			if _, err := s.FindNode(ctx, other, "/a"); err != nil {
				t.Errorf("other workspace affected: %v", err)
			}
			n, err = s.DeleteWorkspaceNodes(ctx, ws)
			if err != nil || n != 2 {
				t.Errorf("DeleteWorkspaceNodes() = %d, %v, want 2", n, err)
			}
		})
	})

	t.Run("Properties", func(t *testing.T) {
		s := open(t)
		mustInsert(t, s, Node(ws, "/a", Prop("x", jcr.Long, 1)))
		found, err := s.SetProperty(ctx, ws, "/a", &docstore.PropertyRecord{Name: "x", Type: jcr.Long, Value: json.RawMessage("2")})
		if err != nil || !found {
			t.Fatalf("SetProperty(x) = %v, %v, want true", found, err)
		}
		found, err = s.SetProperty(ctx, ws, "/a", &docstore.PropertyRecord{Name: "y", Type: jcr.Long, Value: json.RawMessage("3")})
		if err != nil || found {
			t.Fatalf("SetProperty(y) = %v, %v, want false", found, err)
		}
		if err := s.PushProperty(ctx, ws, "/a", &docstore.PropertyRecord{Name: "y", Type: jcr.Long, Value: json.RawMessage("3")}); err != nil {
			t.Fatal(err)
		}
		if err := s.PushProperty(ctx, ws, "/missing", &docstore.PropertyRecord{Name: "y", Type: jcr.Long, Value: json.RawMessage("3")}); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("PushProperty(missing) error = %v, want ErrNotFound", err)
		}
		got, err := s.FindNode(ctx, ws, "/a")
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Props) != 2 || string(got.Props[0].Value) != "2" || got.Props[1].Name != "y" {
			t.Errorf("Props = %+v", got.Props)
		}
		if ok, err := s.PullProperty(ctx, ws, "/a", "x"); err != nil || !ok {
			t.Errorf("PullProperty(x) = %v, %v, want true", ok, err)
		}
		if ok, err := s.PullProperty(ctx, ws, "/a", "x"); err != nil || ok {
			t.Errorf("PullProperty(x) again = %v, %v, want false", ok, err)
		}
	})

	t.Run("References", func(t *testing.T) {
		s := open(t)
		target := uuid.NewString()
		mustInsert(t, s,
			Node(ws, "/strong", Prop("ref", jcr.Reference, target)),
			Node(ws, "/multi", MultiProp("refs", jcr.Reference, uuid.NewString(), target)),
			Node(ws, "/weak", Prop("ref", jcr.WeakReference, target)),
			Node(ws, "/string", Prop("ref", jcr.String, target)),
			Node(other, "/strong", Prop("ref", jcr.Reference, target)),
		)
		got, err := s.FindReferencing(ctx, ws, jcr.Reference, target)
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"/strong", "/multi"}; !slices.Equal(paths(got), want) {
			t.Errorf("FindReferencing(Reference) = %v, want %v", paths(got), want)
		}
		got, err = s.FindReferencing(ctx, ws, jcr.WeakReference, target)
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"/weak"}; !slices.Equal(paths(got), want) {
			t.Errorf("FindReferencing(WeakReference) = %v, want %v", paths(got), want)
		}
		// References follow property updates.
		if _, err := s.PullProperty(ctx, ws, "/strong", "ref"); err != nil {
			t.Fatal(err)
		}
		got, err = s.FindReferencing(ctx, ws, jcr.Reference, target)
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"/multi"}; !slices.Equal(paths(got), want) {
			t.Errorf("FindReferencing() after pull = %v, want %v", paths(got), want)
		}
	})

	t.Run("Workspaces", func(t *testing.T) {
		s := open(t)
		for _, name := range []string{"default", "test"} {
			if err := s.InsertWorkspace(ctx, &docstore.WorkspaceDoc{ID: ksid.NewID(), Name: name}); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.InsertWorkspace(ctx, &docstore.WorkspaceDoc{ID: ksid.NewID(), Name: "test"}); !errors.Is(err, docstore.ErrExists) {
			t.Errorf("InsertWorkspace(dup) error = %v, want ErrExists", err)
		}
		all, err := s.Workspaces(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 || all[0].Name != "default" || all[1].Name != "test" {
			t.Errorf("Workspaces() = %+v", all)
		}
		w, err := s.FindWorkspace(ctx, "test")
		if err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteWorkspace(ctx, w.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := s.FindWorkspace(ctx, "test"); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("FindWorkspace(deleted) error = %v, want ErrNotFound", err)
		}
		if err := s.DeleteWorkspace(ctx, w.ID); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("DeleteWorkspace(deleted) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("Namespaces", func(t *testing.T) {
		s := open(t)
		if err := s.PutNamespace(ctx, &docstore.NamespaceDoc{Prefix: "app", URI: "urn:app:1"}); err != nil {
			t.Fatal(err)
		}
		if err := s.PutNamespace(ctx, &docstore.NamespaceDoc{Prefix: "app", URI: "urn:app:2"}); err != nil {
			t.Fatal(err)
		}
		all, err := s.Namespaces(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 1 || all[0].URI != "urn:app:2" {
			t.Errorf("Namespaces() = %+v, want one app -> urn:app:2", all)
		}
		if ok, err := s.DeleteNamespace(ctx, "app"); err != nil || !ok {
			t.Errorf("DeleteNamespace(app) = %v, %v", ok, err)
		}
		if ok, err := s.DeleteNamespace(ctx, "app"); err != nil || ok {
			t.Errorf("DeleteNamespace(app) again = %v, %v", ok, err)
		}
	})
}
