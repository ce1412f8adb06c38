package repository

import (
	"cmp"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/maruel/jcrdb/internal/codec"
	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcrpath"
	"github.com/maruel/jcrdb/internal/journal"
)

// ReadFixture decodes a JSON array of stored node documents. Fields other
// than the path, the type and the properties may be omitted.
func ReadFixture(r io.Reader) ([]*docstore.NodeDoc, error) {
	var docs []*docstore.NodeDoc
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	if err := d.Decode(&docs); err != nil {
		return nil, errors.BadRequest("invalid fixture").Wrap(err)
	}
	return docs, nil
}

// Import writes docs into workspace as they are, bypassing node type
// validation. The workspace is created when missing; with reset, an existing
// one is emptied first. Documents are written parents first and replace the
// nodes at their path; a missing identifier is minted.
func (r *Repository) Import(ctx context.Context, workspace string, docs []*docstore.NodeDoc, reset bool, author string) (int, error) {
	if workspace == "" {
		workspace = r.defaultWorkspace
	}
	id, ok, err := r.workspaces.ID(ctx, workspace)
	if err != nil {
		return 0, err
	}
	if ok && reset {
		if err := r.DeleteWorkspace(ctx, workspace); err != nil {
			return 0, err
		}
		ok = false
	}
	if !ok {
		if id, err = r.workspaces.Create(ctx, workspace, ""); err != nil {
			return 0, err
		}
	}
	sorted := slices.Clone(docs)
	slices.SortStableFunc(sorted, func(a, b *docstore.NodeDoc) int {
		return cmp.Compare(jcrpath.Depth(a.Path), jcrpath.Depth(b.Path))
	})
	if r.journal != nil {
		r.journal.Begin()
	}
	n := 0
	for _, doc := range sorted {
		if err := jcrpath.Validate(doc.Path); err != nil {
			return n, err
		}
		for i := range doc.Props {
			if _, err := codec.Decode(&doc.Props[i]); err != nil {
				return n, errors.ValueFormat(jcrpath.Join(doc.Path, doc.Props[i].Name), err.Error())
			}
		}
		c := doc.Clone()
		c.WorkspaceID = id
		c.Parent = jcrpath.ParentOrSentinel(c.Path)
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.Path != jcrpath.Root {
			if _, err := r.docs.FindNode(ctx, id, c.Parent); stderrors.Is(err, docstore.ErrNotFound) {
				return n, errors.PathNotFound(fmt.Sprintf("parent of %s is not in the fixture", c.Path), c.Parent)
			} else if err != nil {
				return n, errors.Repository("failed to load parent node", c.Parent, err)
			}
		}
		if err := c.Validate(); err != nil {
			return n, errors.Repository("invalid fixture document", c.Path, err)
		}
		if err := r.docs.UpsertNode(ctx, c); err != nil {
			return n, errors.Repository("failed to import node", c.Path, err)
		}
		if r.journal != nil {
			r.journal.Record("import", workspace+":"+c.Path)
		}
		n++
	}
	if r.journal != nil {
		if err := r.journal.Commit(ctx, journal.Author{Name: author}); err != nil {
			return n, errors.Repository("failed to record import", "", err)
		}
	}
	slog.InfoContext(ctx, "fixture imported", "ws", workspace, "nodes", n)
	return n, nil
}
