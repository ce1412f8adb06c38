package journal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJournal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := Open(dir, Author{Name: "jcrdb", Email: "jcrdb@localhost"})
	if err != nil {
		t.Fatal(err)
	}
	if h, err := j.History(ctx, 10); err != nil || len(h) != 0 {
		t.Fatalf("History() on empty repo = %v, %v", h, err)
	}

	j.Begin()
	j.Record("store", "/a")
	j.Record("delete", "/b")
	if err := os.WriteFile(filepath.Join(dir, "nodes.jsonl"), []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := j.Commit(ctx, Author{Name: "alice", Email: "alice@example.com"}); err != nil {
		t.Fatal(err)
	}
	h, err := j.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 1 {
		t.Fatalf("History() returned %d commits, want 1", len(h))
	}
	if h[0].Author != "alice" || h[0].Message != "save: 2 operation(s)" || !strings.Contains(h[0].Body, "delete /b") {
		t.Errorf("commit = %+v", h[0])
	}

	// A clean tree produces no commit.
	j.Record("store", "/a")
	if err := j.Commit(ctx, Author{}); err != nil {
		t.Fatal(err)
	}
	if h, _ := j.History(ctx, 10); len(h) != 1 {
		t.Errorf("History() returned %d commits after a no-op save, want 1", len(h))
	}

	// Discarded batches do not leak into the next commit.
	j.Record("store", "/discarded")
	j.Discard()
	if err := os.WriteFile(filepath.Join(dir, "nodes.jsonl"), []byte("{}\n{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := j.Commit(ctx, Author{}); err != nil {
		t.Fatal(err)
	}
	h, err = j.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 2 || h[0].Author != "jcrdb" || strings.Contains(h[0].Body, "discarded") {
		t.Errorf("latest commit = %+v", h[0])
	}

	// Reopening keeps the history.
	j2, err := Open(dir, Author{Name: "jcrdb", Email: "jcrdb@localhost"})
	if err != nil {
		t.Fatal(err)
	}
	if h, _ := j2.History(ctx, 1); len(h) != 1 {
		t.Errorf("History(1) after reopen = %v", h)
	}
}
