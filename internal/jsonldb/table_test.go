package jsonldb

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/maruel/ksid"
)

// testRow is a simple row type for testing.
type testRow struct {
	ID    ksid.ID `json:"id" jsonschema:"description=Row identifier"`
	Name  string  `json:"name"`
	Group string  `json:"group,omitempty"`
	Data  Blob    `json:"data,omitzero"`
}

func (r *testRow) Clone() *testRow {
	c := *r
	return &c
}

func (r *testRow) Blobs() []*Blob {
	return []*Blob{&r.Data}
}

func (r *testRow) GetID() ksid.ID {
	return r.ID
}

func (r *testRow) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// setupTable creates a table in the test's temp directory.
func setupTable(t *testing.T, opts ...Option) (*Table[*testRow], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.jsonl")
	table, err := NewTable[*testRow](path, opts...)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	return table, path
}

func TestTable(t *testing.T) {
	t.Run("Append", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			table, _ := setupTable(t)
			tests := []struct {
				name    string
				row     *testRow
				wantLen int
			}{
				{"first", &testRow{ID: 1, Name: "One"}, 1},
				{"second", &testRow{ID: 2, Name: "Two"}, 2},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					if err := table.Append(tt.row); err != nil {
						t.Fatalf("Append() error = %v", err)
					}
					if got := table.Len(); got != tt.wantLen {
						t.Errorf("Len() = %d, want %d", got, tt.wantLen)
					}
				})
			}
		})
		t.Run("invalid", func(t *testing.T) {
			table, _ := setupTable(t)
			if err := table.Append(&testRow{ID: 1, Name: "One"}); err != nil {
				t.Fatal(err)
			}
			tests := []struct {
				name string
				row  *testRow
			}{
				{"zero id", &testRow{Name: "x"}},
				{"duplicate id", &testRow{ID: 1, Name: "x"}},
				{"validation", &testRow{ID: 2}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					if err := table.Append(tt.row); err == nil {
						t.Error("Append() error = nil, want error")
					}
				})
			}
			if got := table.Len(); got != 1 {
				t.Errorf("Len() = %d, want 1", got)
			}
		})
		t.Run("keeps order", func(t *testing.T) {
			table, _ := setupTable(t)
			for _, id := range []ksid.ID{3, 1, 2} {
				if err := table.Append(&testRow{ID: id, Name: "n"}); err != nil {
					t.Fatal(err)
				}
			}
			var got []ksid.ID
			for r := range table.All() {
				got = append(got, r.ID)
			}
			if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
				t.Errorf("All() = %v, want [1 2 3]", got)
			}
			if r := table.Get(2); r == nil || r.ID != 2 {
				t.Errorf("Get(2) = %+v", r)
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		table, _ := setupTable(t)
		if err := table.Append(&testRow{ID: 1, Name: "One"}); err != nil {
			t.Fatal(err)
		}
		got := table.Get(1)
		if got == nil || got.Name != "One" {
			t.Fatalf("Get(1) = %+v, want Name=One", got)
		}
		got.Name = "mutated"
		if again := table.Get(1); again.Name != "One" {
			t.Error("Get() returned reference instead of clone")
		}
		if got := table.Get(42); got != nil {
			t.Errorf("Get(42) = %+v, want nil", got)
		}
	})

	t.Run("Modify", func(t *testing.T) {
		table, path := setupTable(t)
		if err := table.Append(&testRow{ID: 1, Name: "One"}); err != nil {
			t.Fatal(err)
		}
		got, err := table.Modify(1, func(r *testRow) error {
			r.Name = "Uno"
			return nil
		})
		if err != nil {
			t.Fatalf("Modify() error = %v", err)
		}
		if got.Name != "Uno" {
			t.Errorf("Modify() = %+v, want Name=Uno", got)
		}
		if _, err := table.Modify(1, func(r *testRow) error {
			r.ID = 7
			return nil
		}); !errors.Is(err, errIDChanged) {
			t.Errorf("Modify(change id) error = %v, want %v", err, errIDChanged)
		}
		if _, err := table.Modify(1, func(r *testRow) error {
			r.Name = ""
			return nil
		}); err == nil {
			t.Error("Modify(invalid) error = nil, want error")
		}
		if _, err := table.Modify(99, func(*testRow) error { return nil }); !errors.Is(err, ErrNotFound) {
			t.Errorf("Modify(99) error = %v, want %v", err, ErrNotFound)
		}
		reloaded, err := NewTable[*testRow](path)
		if err != nil {
			t.Fatal(err)
		}
		if r := reloaded.Get(1); r == nil || r.Name != "Uno" {
			t.Errorf("Get(1) after reload = %+v, want Name=Uno", r)
		}
	})

	t.Run("Update", func(t *testing.T) {
		table, _ := setupTable(t)
		if err := table.Append(&testRow{ID: 1, Name: "One"}); err != nil {
			t.Fatal(err)
		}
		prev, err := table.Update(&testRow{ID: 1, Name: "Updated"})
		if err != nil {
			t.Fatal(err)
		}
		if prev.Name != "One" {
			t.Errorf("Update() prev = %+v, want Name=One", prev)
		}
		if got := table.Get(1); got.Name != "Updated" {
			t.Errorf("Get() after Update = %+v, want Name=Updated", got)
		}
		if _, err := table.Update(&testRow{ID: 5, Name: "x"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("Update(missing) error = %v, want %v", err, ErrNotFound)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		table, path := setupTable(t)
		for i := ksid.ID(1); i <= 3; i++ {
			if err := table.Append(&testRow{ID: i, Name: "n"}); err != nil {
				t.Fatal(err)
			}
		}
		deleted, err := table.Delete(2)
		if err != nil {
			t.Fatalf("Delete error: %v", err)
		}
		if deleted == nil || deleted.ID != 2 {
			t.Errorf("Delete(2) = %+v, want ID=2", deleted)
		}
		if deleted, err := table.Delete(999); err != nil || deleted != nil {
			t.Errorf("Delete(999) = %+v, %v, want nil, nil", deleted, err)
		}
		if table.Get(3) == nil {
			t.Error("Get(3) failed after deleting a previous row")
		}
		reloaded, err := NewTable[*testRow](path)
		if err != nil {
			t.Fatal(err)
		}
		if reloaded.Get(2) != nil {
			t.Error("Deleted row still present after reload")
		}
		if got := reloaded.Len(); got != 2 {
			t.Errorf("Len() after reload = %d, want 2", got)
		}
	})

	t.Run("DeleteFunc", func(t *testing.T) {
		table, _ := setupTable(t)
		for i := ksid.ID(1); i <= 4; i++ {
			group := "odd"
			if i%2 == 0 {
				group = "even"
			}
			if err := table.Append(&testRow{ID: i, Name: "n", Group: group}); err != nil {
				t.Fatal(err)
			}
		}
		n, err := table.DeleteFunc(func(r *testRow) bool { return r.Group == "even" })
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("DeleteFunc() = %d, want 2", n)
		}
		if got := table.Len(); got != 2 {
			t.Errorf("Len() = %d, want 2", got)
		}
		if table.Get(1) == nil || table.Get(3) == nil {
			t.Error("odd rows were removed")
		}
	})

	t.Run("Iter", func(t *testing.T) {
		table, _ := setupTable(t)
		for i := ksid.ID(1); i <= 5; i++ {
			if err := table.Append(&testRow{ID: i, Name: "n"}); err != nil {
				t.Fatal(err)
			}
		}
		var got []ksid.ID
		for r := range table.Iter(3) {
			got = append(got, r.ID)
		}
		if len(got) != 2 || got[0] != 4 || got[1] != 5 {
			t.Errorf("Iter(3) = %v, want [4 5]", got)
		}
		if last := table.Last(); last == nil || last.ID != 5 {
			t.Errorf("Last() = %+v, want ID=5", last)
		}
	})

	t.Run("schema header", func(t *testing.T) {
		_, path := setupTable(t)
		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		s := bufio.NewScanner(f)
		if !s.Scan() {
			t.Fatal("empty table file")
		}
		var h schemaHeader
		if err := json.Unmarshal(s.Bytes(), &h); err != nil {
			t.Fatal(err)
		}
		if h.Version != currentVersion {
			t.Errorf("Version = %q, want %q", h.Version, currentVersion)
		}
		cols := map[string]column{}
		for _, c := range h.Columns {
			cols[c.Name] = c
		}
		if c := cols["data"]; c.Type != columnTypeBlobRef {
			t.Errorf("data column type = %q, want %q", c.Type, columnTypeBlobRef)
		}
		if c := cols["id"]; c.Description != "Row identifier" {
			t.Errorf("id column description = %q", c.Description)
		}
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.jsonl")
		if err := os.WriteFile(path, []byte("{\"version\":\"1.0\",\"columns\":[]}\n{not json\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewTable[*testRow](path); err == nil {
			t.Error("NewTable() error = nil, want error")
		}
	})
}

type countingObserver struct {
	appended, updated, deleted int
}

func (o *countingObserver) OnAppend(*testRow)      { o.appended++ }
func (o *countingObserver) OnUpdate(_, _ *testRow) { o.updated++ }
func (o *countingObserver) OnDelete(*testRow)      { o.deleted++ }

func TestTableObserver(t *testing.T) {
	table, _ := setupTable(t)
	if err := table.Append(&testRow{ID: 1, Name: "One"}); err != nil {
		t.Fatal(err)
	}
	o := &countingObserver{}
	table.AddObserver(o)
	if o.appended != 1 {
		t.Errorf("replayed appends = %d, want 1", o.appended)
	}
	if err := table.Append(&testRow{ID: 2, Name: "Two"}); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Modify(2, func(r *testRow) error { r.Name = "Deux"; return nil }); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Delete(1); err != nil {
		t.Fatal(err)
	}
	if o.appended != 2 || o.updated != 1 || o.deleted != 1 {
		t.Errorf("observer = %+v, want {2 1 1}", *o)
	}
}
