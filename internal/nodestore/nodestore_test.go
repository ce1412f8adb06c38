package nodestore

import (
	"context"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maruel/jcrdb/internal/blobstore"
	"github.com/maruel/jcrdb/internal/content"
	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/docstore/jsonlstore"
	"github.com/maruel/jcrdb/internal/docstore/sqlstore"
	"github.com/maruel/jcrdb/internal/docstore/storetest"
	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/journal"
	"github.com/maruel/jcrdb/internal/jsonldb"
	"github.com/maruel/jcrdb/internal/nodetype"
	"github.com/maruel/jcrdb/internal/registry"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	dir        string
	docs       docstore.Store
	blobs      *blobstore.Store
	workspaces *registry.Workspaces
	namespaces *registry.Namespaces
	types      *nodetype.Manager
}

// backends lists the document stores the node store is exercised against.
var backends = []struct {
	name string
	open func(t *testing.T, dir string) docstore.Store
}{
	{"jsonl", func(t *testing.T, dir string) docstore.Store {
		s, err := jsonlstore.Open(filepath.Join(dir, "docs"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
	{"sqlite", func(t *testing.T, dir string) docstore.Store {
		s, err := sqlstore.Open(filepath.Join(dir, "jcr.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
}

type fixtureFunc func(t *testing.T) *fixture

// eachBackend runs fn once per entry of backends.
func eachBackend(t *testing.T, fn func(t *testing.T, newFixture fixtureFunc)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, func(t *testing.T) *fixture {
				t.Helper()
				dir := t.TempDir()
				return setupFixture(t, dir, b.open(t, dir))
			})
		})
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	return setupFixture(t, dir, backends[0].open(t, dir))
}

func setupFixture(t *testing.T, dir string, docs docstore.Store) *fixture {
	t.Helper()
	blobs, err := blobstore.Open(filepath.Join(dir, "blobs"), jsonldb.CompressionNone)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		dir:        dir,
		docs:       docs,
		blobs:      blobs,
		workspaces: registry.NewWorkspaces(docs, blobs),
		namespaces: registry.NewNamespaces(docs),
		types:      nodetype.NewManager(),
	}
}

// open creates the workspace name if needed and returns a Store bound to it.
func (f *fixture) open(t *testing.T, name string, j *journal.Journal) *Store {
	t.Helper()
	ctx := context.Background()
	id, ok, err := f.workspaces.ID(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		if id, err = f.workspaces.Create(ctx, name, ""); err != nil {
			t.Fatal(err)
		}
	}
	return New(&Options{
		Docs:          f.docs,
		Blobs:         f.blobs,
		Namespaces:    f.namespaces,
		Types:         f.types,
		Workspaces:    f.workspaces,
		Journal:       j,
		WorkspaceID:   id,
		WorkspaceName: name,
		UserID:        "alice",
		Now:           func() time.Time { return testNow },
	})
}

func (f *fixture) node(path, primaryType string) *content.Node {
	return content.NewNode(f.types, path, primaryType)
}

func mustStore(t *testing.T, s *Store, n jcr.Node) {
	t.Helper()
	if err := s.StoreNode(context.Background(), n, true); err != nil {
		t.Fatalf("StoreNode(%s) = %v", n.Path(), err)
	}
}

func mustGet(t *testing.T, s *Store, path string) *Node {
	t.Helper()
	n, err := s.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("Get(%s) = %v", path, err)
	}
	return n
}

func value(t *testing.T, n *Node, name string) jcr.Value {
	t.Helper()
	p, ok := n.Property(name)
	if !ok || len(p.Values) != 1 {
		t.Fatalf("%s: property %s = %+v", n.Path, name, p)
	}
	return p.Values[0]
}

func readBinary(t *testing.T, s *Store, path string, index int) string {
	t.Helper()
	rc, err := s.BinaryStream(context.Background(), path, index)
	if err != nil {
		t.Fatalf("BinaryStream(%s, %d) = %v", path, index, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestRoot(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, jcr.DefaultWorkspace, nil)
	root := mustGet(t, s, "/")
	if root.PrimaryType != jcr.TypeUnstructured {
		t.Errorf("PrimaryType = %q", root.PrimaryType)
	}
	if len(root.Properties) != 1 || root.Properties[0].Name != jcr.PropPrimaryType {
		t.Errorf("Properties = %+v, want only jcr:primaryType", root.Properties)
	}
	if len(root.Children) != 0 {
		t.Errorf("Children = %v", root.Children)
	}
}

func TestStoreNode(t *testing.T) {
	eachBackend(t, testStoreNode)
}

func testStoreNode(t *testing.T, newFixture fixtureFunc) {
	ctx := context.Background()

	t.Run("values", func(t *testing.T) {
		f := newFixture(t)
		s := f.open(t, "default", nil)
		n := f.node("/a", jcr.TypeUnstructured)
		n.SetProperty("title", jcr.StringValue("hello"))
		n.SetProperty("count", jcr.LongValue(42))
		n.SetProperty("when", jcr.DateValue(time.Date(2011, 7, 4, 13, 30, 0, 0, time.UTC)))
		n.SetMultiProperty("flags", jcr.Boolean, jcr.BooleanValue(true), jcr.BooleanValue(false))
		n.SetProperty("data", jcr.BinaryValue{Reader: strings.NewReader("payload")})
		n.AddChild("b", jcr.TypeUnstructured).AddChild("c", jcr.TypeUnstructured)
		mustStore(t, s, n)

		if _, err := uuid.Parse(n.Identifier()); err != nil {
			t.Errorf("Identifier() = %q after store", n.Identifier())
		}
		got := mustGet(t, s, "/a")
		if got.ID.String() != n.Identifier() {
			t.Errorf("ID = %s, want %s", got.ID, n.Identifier())
		}
		if v := value(t, got, "title"); v != jcr.StringValue("hello") {
			t.Errorf("title = %v", v)
		}
		if v := value(t, got, "count"); v != jcr.LongValue(42) {
			t.Errorf("count = %v", v)
		}
		if v := value(t, got, "when").(jcr.DateValue); !v.Time().Equal(time.Date(2011, 7, 4, 13, 30, 0, 0, time.UTC)) {
			t.Errorf("when = %v", v)
		}
		if p, _ := got.Property("flags"); p == nil || !p.Multiple || !slices.Equal(p.Values, []jcr.Value{jcr.BooleanValue(true), jcr.BooleanValue(false)}) {
			t.Errorf("flags = %+v", p)
		}
		if v := value(t, got, "data").(jcr.BinaryValue); v.Length != 7 {
			t.Errorf("data length = %d", v.Length)
		}
		if b := readBinary(t, s, "/a/data", 0); b != "payload" {
			t.Errorf("binary = %q", b)
		}
		if !slices.Equal(got.Children, []string{"b"}) {
			t.Errorf("Children = %v", got.Children)
		}
		mustGet(t, s, "/a/b/c")
		if root := mustGet(t, s, "/"); !slices.Equal(root.Children, []string{"a"}) {
			t.Errorf("root Children = %v", root.Children)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t)
		s := f.open(t, "default", nil)
		n := f.node("/a", jcr.TypeUnstructured)
		n.SetProperty("title", jcr.StringValue("hello"))
		mustStore(t, s, n)
		n.MarkSaved()
		first := mustGet(t, s, "/a")

		// Rewrite the stored record behind the node's back: a store of the
		// unmodified node must not encode its properties again.
		ws, _, _ := f.workspaces.ID(ctx, "default")
		rec := storetest.Prop("title", jcr.String, "changed")
		if ok, err := f.docs.SetProperty(ctx, ws, "/a", &rec); err != nil || !ok {
			t.Fatalf("SetProperty() = %v, %v", ok, err)
		}
		mustStore(t, s, n)
		second := mustGet(t, s, "/a")
		if second.ID != first.ID {
			t.Errorf("ID changed from %s to %s", first.ID, second.ID)
		}
		if v := value(t, second, "title"); v != jcr.StringValue("changed") {
			t.Errorf("title = %v, want the stored record untouched", v)
		}

		// A fresh session keeps the stored identifier.
		s2 := f.open(t, "default", nil)
		again := f.node("/a", jcr.TypeUnstructured)
		again.SetProperty("other", jcr.StringValue("x"))
		mustStore(t, s2, again)
		third := mustGet(t, s2, "/a")
		if third.ID != first.ID {
			t.Errorf("ID changed across sessions: %s != %s", third.ID, first.ID)
		}
		if _, ok := third.Property("title"); ok {
			t.Error("title survived a replacing store")
		}
	})

	t.Run("edit", func(t *testing.T) {
		f := newFixture(t)
		s := f.open(t, "default", nil)
		n := f.node("/a", jcr.TypeUnstructured)
		n.SetProperty("title", jcr.StringValue("hello"))
		n.SetProperty("body", jcr.StringValue("text"))
		mustStore(t, s, n)

		e := mustGet(t, s, "/a").Edit(f.types)
		e.SetProperty("title", jcr.StringValue("bye"))
		mustStore(t, f.open(t, "default", nil), e)
		got := mustGet(t, s, "/a")
		if v := value(t, got, "title"); v != jcr.StringValue("bye") {
			t.Errorf("title = %v", v)
		}
		if v := value(t, got, "body"); v != jcr.StringValue("text") {
			t.Errorf("body = %v", v)
		}
	})

	t.Run("binary replaced by a string", func(t *testing.T) {
		f := newFixture(t)
		s := f.open(t, "default", nil)
		n := f.node("/a", jcr.TypeUnstructured)
		n.SetProperty("data", jcr.BinaryValue{Reader: strings.NewReader("payload")})
		mustStore(t, s, n)

		e := mustGet(t, s, "/a").Edit(f.types)
		e.SetProperty("data", jcr.StringValue("text"))
		mustStore(t, s, e)
		if v := value(t, mustGet(t, s, "/a"), "data"); v != jcr.StringValue("text") {
			t.Errorf("data = %v", v)
		}
		if _, err := s.BinaryStream(ctx, "/a/data", 0); !errors.Is(err, errors.NotFoundErr) {
			t.Errorf("BinaryStream() after overwrite = %v, want not found", err)
		}
	})

	t.Run("autocreated", func(t *testing.T) {
		f := newFixture(t)
		s := f.open(t, "default", nil)
		n := f.node("/a", jcr.TypeUnstructured)
		n.AddMixin(jcr.MixCreated)
		n.AddMixin(jcr.MixReferenceable)
		mustStore(t, s, n)
		got := mustGet(t, s, "/a")
		if v := value(t, got, jcr.PropCreatedBy); v != jcr.StringValue("alice") {
			t.Errorf("jcr:createdBy = %v", v)
		}
		if v := value(t, got, jcr.PropCreated).(jcr.DateValue); !v.Time().Equal(testNow) {
			t.Errorf("jcr:created = %v", v)
		}
		if v := value(t, got, jcr.PropUUID); v != jcr.StringValue(got.ID.String()) {
			t.Errorf("jcr:uuid = %v, want %s", v, got.ID)
		}
		if !slices.Equal(got.Mixins, []string{jcr.MixCreated, jcr.MixReferenceable}) {
			t.Errorf("Mixins = %v", got.Mixins)
		}
		if _, ok := n.Property(jcr.PropCreated); !ok {
			t.Error("autocreated property not applied to the stored node")
		}
	})

	t.Run("explicit identifier", func(t *testing.T) {
		f := newFixture(t)
		s := f.open(t, "default", nil)
		n := f.node("/a", jcr.TypeUnstructured)
		n.SetIdentifier("0b2a4cf2-8dc0-4b5d-a7a1-cbc0c8b0e6f1")
		mustStore(t, s, n)
		if got := mustGet(t, s, "/a"); got.ID.String() != "0b2a4cf2-8dc0-4b5d-a7a1-cbc0c8b0e6f1" {
			t.Errorf("ID = %s", got.ID)
		}
		bad := f.node("/b", jcr.TypeUnstructured)
		bad.SetIdentifier("nope")
		if err := s.StoreNode(ctx, bad, false); !errors.Is(err, errors.ValueFormatErr) {
			t.Errorf("StoreNode(bad id) = %v", err)
		}
	})

	t.Run("errors", func(t *testing.T) {
		f := newFixture(t)
		s := f.open(t, "default", nil)
		err := s.StoreNode(ctx, f.node("/missing/child", jcr.TypeUnstructured), false)
		if !errors.Is(err, errors.PathNotFoundErr) || errors.CodeOf(err) != errors.ErrRepository {
			t.Errorf("StoreNode(orphan) = %v", err)
		}
		n := f.node("/a", jcr.TypeUnstructured)
		n.SetProperty("link", jcr.ReferenceValue(uuid.NewString()))
		if err := s.StoreNode(ctx, n, false); !errors.Is(err, errors.ValueFormatErr) {
			t.Errorf("StoreNode(reference on non-referenceable) = %v", err)
		}
		n = f.node("/p", jcr.TypeUnstructured)
		n.SetProperty("bad", jcr.PathValue("a//b"))
		err = s.StoreNode(ctx, n, false)
		if !errors.Is(err, errors.ValueFormatErr) {
			t.Errorf("StoreNode(bad path value) = %v", err)
		}
		var e *errors.Error
		if !errors.As(err, &e) || e.Path() != "/p" {
			t.Errorf("error path = %v", err)
		}
		if err := s.StoreNode(ctx, f.node("/a//b", jcr.TypeUnstructured), false); errors.CodeOf(err) != errors.ErrRepository {
			t.Errorf("StoreNode(invalid path) = %v", err)
		}
		if err := s.StoreNode(ctx, f.node("/f", jcr.TypeFile), false); errors.CodeOf(err) != errors.ErrRepository {
			t.Errorf("StoreNode(nt:file without content) = %v", err)
		}
		if _, err := s.Get(ctx, "/f"); !errors.Is(err, errors.NotFoundErr) {
			t.Errorf("Get() after failed store = %v", err)
		}
	})
}

func TestIdentifiers(t *testing.T) {
	eachBackend(t, testIdentifiers)
}

func testIdentifiers(t *testing.T, newFixture fixtureFunc) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.open(t, "default", nil)
	var ids []string
	for _, p := range []string{"/a", "/b"} {
		n := f.node(p, jcr.TypeUnstructured)
		n.AddMixin(jcr.MixReferenceable)
		mustStore(t, s, n)
		ids = append(ids, n.Identifier())
	}
	n, err := s.GetByIdentifier(ctx, ids[1])
	if err != nil || n.Path != "/b" {
		t.Errorf("GetByIdentifier() = %+v, %v", n, err)
	}
	if p, err := s.NodePathForIdentifier(ctx, ids[0]); err != nil || p != "/a" {
		t.Errorf("NodePathForIdentifier() = %q, %v", p, err)
	}
	if _, err := s.NodePathForIdentifier(ctx, uuid.NewString()); !errors.Is(err, errors.NotFoundErr) {
		t.Errorf("NodePathForIdentifier(unknown) = %v", err)
	}
	if _, err := s.GetByIdentifier(ctx, "garbage"); !errors.Is(err, errors.NotFoundErr) {
		t.Errorf("GetByIdentifier(garbage) = %v", err)
	}
	many, err := s.GetManyByIdentifier(ctx, append(ids, uuid.NewString(), "garbage"))
	if err != nil {
		t.Fatal(err)
	}
	if len(many) != 2 || many["/a"] == nil || many["/b"] == nil {
		t.Errorf("GetManyByIdentifier() = %v", many)
	}
	byPath, err := s.GetMany(ctx, []string{"/a", "/missing", "/b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byPath) != 2 {
		t.Errorf("GetMany() = %v", byPath)
	}
}

func TestProperties(t *testing.T) {
	eachBackend(t, testProperties)
}

func testProperties(t *testing.T, newFixture fixtureFunc) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.open(t, "default", nil)
	n := f.node("/a", jcr.TypeUnstructured)
	n.SetProperty("title", jcr.StringValue("hello"))
	mustStore(t, s, n)
	n.MarkSaved()

	p := n.SetProperty("title", jcr.StringValue("bye"))
	if err := s.StoreProperty(ctx, p); err != nil {
		t.Fatal(err)
	}
	p = n.SetProperty("extra", jcr.DoubleValue(1.5))
	if err := s.StoreProperty(ctx, p); err != nil {
		t.Fatal(err)
	}
	got := mustGet(t, s, "/a")
	if v := value(t, got, "title"); v != jcr.StringValue("bye") {
		t.Errorf("title = %v", v)
	}
	if v := value(t, got, "extra"); v != jcr.DoubleValue(1.5) {
		t.Errorf("extra = %v", v)
	}

	if err := s.DeleteProperty(ctx, "/a/extra"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteProperty(ctx, "/a/extra"); !errors.Is(err, errors.NotFoundErr) {
		t.Errorf("DeleteProperty(missing) = %v", err)
	}
	// Delete falls back to the property at path.
	if err := s.Delete(ctx, "/a/title"); err != nil {
		t.Fatal(err)
	}
	if _, ok := mustGet(t, s, "/a").Property("title"); ok {
		t.Error("title survived Delete")
	}
	if err := s.Delete(ctx, "/a/nothing"); !errors.Is(err, errors.NotFoundErr) {
		t.Errorf("Delete(missing) = %v", err)
	}

	orphan := content.NewNode(f.types, "/missing", jcr.TypeUnstructured)
	if err := s.StoreProperty(ctx, orphan.SetProperty("x", jcr.StringValue("y"))); !errors.Is(err, errors.PathNotFoundErr) {
		t.Errorf("StoreProperty(orphan) = %v", err)
	}
}

func TestDelete(t *testing.T) {
	eachBackend(t, testDelete)
}

func testDelete(t *testing.T, newFixture fixtureFunc) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.open(t, "default", nil)
	referenceable := func(path string) *content.Node {
		n := f.node(path, jcr.TypeUnstructured)
		n.AddMixin(jcr.MixReferenceable)
		return n
	}
	target := referenceable("/target")
	target.AddChild("child", jcr.TypeUnstructured).SetProperty("data", jcr.BinaryValue{Reader: strings.NewReader("x")})
	mustStore(t, s, target)
	id := jcr.ReferenceValue(target.Identifier())

	strong := referenceable("/strong")
	strong.SetMultiProperty("links", jcr.Reference, jcr.ReferenceValue(uuid.NewString()), id)
	mustStore(t, s, strong)
	weak := referenceable("/weak")
	weak.SetProperty("link", jcr.WeakReferenceValue(target.Identifier()))
	mustStore(t, s, weak)

	refs, err := s.FindReferences(ctx, "/target", "", false)
	if err != nil || !slices.Equal(refs, []string{"/strong/links"}) {
		t.Errorf("FindReferences(strong) = %v, %v", refs, err)
	}
	refs, err = s.FindReferences(ctx, "/target", "", true)
	if err != nil || !slices.Equal(refs, []string{"/weak/link"}) {
		t.Errorf("FindReferences(weak) = %v, %v", refs, err)
	}
	if refs, err = s.FindReferences(ctx, "/target", "other", false); err != nil || len(refs) != 0 {
		t.Errorf("FindReferences(name filter) = %v, %v", refs, err)
	}
	if _, err := s.FindReferences(ctx, "/missing", "", false); !errors.Is(err, errors.NotFoundErr) {
		t.Errorf("FindReferences(missing) = %v", err)
	}

	err = s.Delete(ctx, "/target")
	if !errors.Is(err, errors.ReferentialIntegrityErr) {
		t.Fatalf("Delete(referenced) = %v", err)
	}
	mustGet(t, s, "/target/child")

	if err := s.Delete(ctx, "/strong"); err != nil {
		t.Fatal(err)
	}
	// The remaining weak reference does not block.
	if err := s.Delete(ctx, "/target"); err != nil {
		t.Fatalf("Delete(weakly referenced) = %v", err)
	}
	for _, p := range []string{"/target", "/target/child"} {
		if _, err := s.Get(ctx, p); !errors.Is(err, errors.NotFoundErr) {
			t.Errorf("Get(%s) after delete = %v", p, err)
		}
	}
	if _, err := s.BinaryStream(ctx, "/target/child/data", 0); !errors.Is(err, errors.NotFoundErr) {
		t.Errorf("BinaryStream() after delete = %v", err)
	}

	t.Run("references within the subtree", func(t *testing.T) {
		p := f.node("/p", jcr.TypeUnstructured)
		inner := p.AddChild("t", jcr.TypeUnstructured)
		inner.AddMixin(jcr.MixReferenceable)
		mustStore(t, s, p)
		r := referenceable("/p/r")
		r.SetProperty("link", jcr.ReferenceValue(inner.Identifier()))
		mustStore(t, s, r)
		if err := s.Delete(ctx, "/p/t"); !errors.Is(err, errors.ReferentialIntegrityErr) {
			t.Errorf("Delete(/p/t) = %v", err)
		}
		if err := s.Delete(ctx, "/p"); !errors.Is(err, errors.ReferentialIntegrityErr) {
			t.Errorf("Delete(/p) = %v, want referential integrity error", err)
		}
		mustGet(t, s, "/p/t")
	})

	t.Run("self reference from a child", func(t *testing.T) {
		x := referenceable("/x")
		x.AddChild("c", jcr.TypeUnstructured).SetProperty("link", jcr.ReferenceValue(x.Identifier()))
		mustStore(t, s, x)
		refs, err := s.FindReferences(ctx, "/x", "", false)
		if err != nil || !slices.Equal(refs, []string{"/x/c/link"}) {
			t.Errorf("FindReferences(/x) = %v, %v", refs, err)
		}
		if err := s.Delete(ctx, "/x"); !errors.Is(err, errors.ReferentialIntegrityErr) {
			t.Errorf("Delete(/x) = %v, want referential integrity error", err)
		}
		mustGet(t, s, "/x/c")
	})

	t.Run("root", func(t *testing.T) {
		mustStore(t, s, f.node("/a", jcr.TypeUnstructured))
		if err := s.Delete(ctx, "/"); err == nil || errors.CodeOf(err) != errors.ErrRepository {
			t.Errorf("Delete(/) = %v, want repository error", err)
		}
		mustGet(t, s, "/")
		mustGet(t, s, "/a")
		mustStore(t, s, f.node("/b", jcr.TypeUnstructured))
		mustGet(t, s, "/b")
	})
}

func TestCopy(t *testing.T) {
	eachBackend(t, testCopy)
}

func testCopy(t *testing.T, newFixture fixtureFunc) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.open(t, "default", nil)
	a := f.node("/a", jcr.TypeUnstructured)
	a.SetProperty("title", jcr.StringValue("src"))
	a.AddChild("b", jcr.TypeUnstructured).SetProperty("data", jcr.BinaryValue{Reader: strings.NewReader("blob")})
	mustStore(t, s, a)
	mustStore(t, s, f.node("/ab", jcr.TypeUnstructured))

	if err := s.Copy(ctx, "/a", "/c", ""); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"/a", "/a/b"} {
		src := mustGet(t, s, p)
		dst := mustGet(t, s, "/c"+strings.TrimPrefix(p, "/a"))
		if src.ID == dst.ID {
			t.Errorf("%s: copy kept identifier %s", p, src.ID)
		}
		if len(src.Properties) != len(dst.Properties) {
			t.Errorf("%s: properties %v != %v", p, src.Properties, dst.Properties)
		}
	}
	if _, err := s.Get(ctx, "/c/ab"); err == nil {
		t.Error("sibling /ab was copied as part of /a")
	}
	if b := readBinary(t, s, "/c/b/data", 0); b != "blob" {
		t.Errorf("copied binary = %q", b)
	}
	if b := readBinary(t, s, "/a/b/data", 0); b != "blob" {
		t.Errorf("source binary = %q", b)
	}

	tests := []struct {
		name, src, dst, ws string
		want               *errors.Error
	}{
		{"index suffix", "/a", "/x[2]", "", errors.RepositoryErr},
		{"missing source", "/nope", "/x", "", errors.PathNotFoundErr},
		{"destination exists", "/a", "/ab", "", errors.ItemExistsErr},
		{"missing parent", "/a", "/nope/x", "", errors.PathNotFoundErr},
		{"unknown workspace", "/a", "/x", "nope", errors.NoSuchWorkspaceErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Copy(ctx, tt.src, tt.dst, tt.ws); !errors.Is(err, tt.want) {
				t.Errorf("Copy(%s, %s, %q) = %v, want %v", tt.src, tt.dst, tt.ws, err, tt.want.Code())
			}
		})
	}

	t.Run("from another workspace", func(t *testing.T) {
		other := f.open(t, "other", nil)
		if err := other.Copy(ctx, "/a", "/imported", "default"); err != nil {
			t.Fatal(err)
		}
		if v := value(t, mustGet(t, other, "/imported"), "title"); v != jcr.StringValue("src") {
			t.Errorf("title = %v", v)
		}
		if b := readBinary(t, other, "/imported/b/data", 0); b != "blob" {
			t.Errorf("binary = %q", b)
		}
		if _, err := other.Get(ctx, "/a"); !errors.Is(err, errors.NotFoundErr) {
			t.Errorf("Get(/a) in other workspace = %v", err)
		}
	})
}

func TestMove(t *testing.T) {
	eachBackend(t, testMove)
}

func testMove(t *testing.T, newFixture fixtureFunc) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.open(t, "default", nil)
	a := f.node("/a", jcr.TypeUnstructured)
	a.AddChild("b", jcr.TypeUnstructured).SetProperty("data", jcr.BinaryValue{Reader: strings.NewReader("blob")})
	mustStore(t, s, a)
	mustStore(t, s, f.node("/ab", jcr.TypeUnstructured))
	mustStore(t, s, f.node("/dst", jcr.TypeUnstructured))
	before := map[string]uuid.UUID{"/a": mustGet(t, s, "/a").ID, "/a/b": mustGet(t, s, "/a/b").ID}

	if err := s.Move(ctx, "/a", "/dst/a"); err != nil {
		t.Fatal(err)
	}
	for p, id := range before {
		if _, err := s.Get(ctx, p); !errors.Is(err, errors.NotFoundErr) {
			t.Errorf("Get(%s) after move = %v", p, err)
		}
		if got := mustGet(t, s, "/dst"+p); got.ID != id {
			t.Errorf("%s: ID = %s, want %s", p, got.ID, id)
		}
	}
	mustGet(t, s, "/ab")
	if b := readBinary(t, s, "/dst/a/b/data", 0); b != "blob" {
		t.Errorf("moved binary = %q", b)
	}
	if root := mustGet(t, s, "/"); slices.Contains(root.Children, "a") {
		t.Errorf("root Children = %v", root.Children)
	}
	if dst := mustGet(t, s, "/dst"); !slices.Equal(dst.Children, []string{"a"}) {
		t.Errorf("/dst Children = %v", dst.Children)
	}
	// The session remembers the identifier at the new path.
	n := f.node("/dst/a", jcr.TypeUnstructured)
	n.SetProperty("x", jcr.StringValue("y"))
	mustStore(t, s, n)
	if got := mustGet(t, s, "/dst/a"); got.ID != before["/a"] {
		t.Errorf("ID after restore = %s", got.ID)
	}

	if err := s.Move(ctx, "/dst", "/dst/a/inside"); errors.CodeOf(err) != errors.ErrRepository {
		t.Errorf("Move(into itself) = %v", err)
	}
	if err := s.Move(ctx, "/nope", "/x"); !errors.Is(err, errors.PathNotFoundErr) {
		t.Errorf("Move(missing) = %v", err)
	}
	if err := s.Move(ctx, "/ab", "/dst"); !errors.Is(err, errors.ItemExistsErr) {
		t.Errorf("Move(existing destination) = %v", err)
	}
}

func TestNotImplemented(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.open(t, "default", nil)
	n := f.node("/a", jcr.TypeUnstructured)
	_, queryErr := s.Query(ctx, "JCR-SQL2", "SELECT * FROM [nt:base]")
	_, propErr := s.GetProperty(ctx, "/a/b")
	for i, err := range []error{
		s.ReorderChildren(ctx, "/", nil),
		s.UpdateNode(ctx, n, "other"),
		s.MoveNodes(ctx, []MoveOp{{"/a", "/b"}}),
		s.DeleteNodes(ctx, []string{"/a"}),
		s.DeleteProperties(ctx, []string{"/a/b"}),
		s.StoreNodes(ctx, []jcr.Node{n}),
		s.UpdateProperties(ctx, n),
		s.CloneFrom(ctx, "other", "/a", "/a", false),
		queryErr,
		s.RegisterNodeTypes(ctx, nil, false),
		propErr,
		s.MoveNodeImmediately(ctx, "/a", "/b"),
		s.DeleteNodeImmediately(ctx, "/a"),
		s.DeletePropertyImmediately(ctx, "/a/b"),
	} {
		if !errors.Is(err, errors.NotImplementedErr) {
			t.Errorf("operation %d = %v, want not implemented", i, err)
		}
	}
}

func TestSaveCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	j, err := journal.Open(f.dir, journal.Author{Name: "jcrdb", Email: "jcrdb@localhost"})
	if err != nil {
		t.Fatal(err)
	}
	s := f.open(t, "default", j)

	if err := s.PrepareSave(ctx); err != nil {
		t.Fatal(err)
	}
	mustStore(t, s, f.node("/a", jcr.TypeUnstructured))
	if err := s.FinishSave(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.PrepareSave(ctx); err != nil {
		t.Fatal(err)
	}
	mustStore(t, s, f.node("/b", jcr.TypeUnstructured))
	if err := s.RollbackSave(ctx); err != nil {
		t.Fatal(err)
	}

	history, err := j.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("History() = %d commits, want 1", len(history))
	}
	if c := history[0]; c.Author != "alice" || !strings.Contains(c.Body, "store default:/a") {
		t.Errorf("commit = %+v", c)
	}
}
