// Package registry manages the workspace and namespace records.
package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/maruel/ksid"

	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/jcrpath"
)

// DescriptorWorkspaceManagement is the descriptor gating workspace deletion.
const DescriptorWorkspaceManagement = "option.workspace.management.supported"

// BlobDropper removes the binary payloads of a workspace.
type BlobDropper interface {
	DeleteWorkspace(ctx context.Context, ws ksid.ID) (int, error)
}

// Workspaces is the workspace registry.
type Workspaces struct {
	store docstore.Store
	blobs BlobDropper
}

// NewWorkspaces returns the registry over store. blobs may be nil.
func NewWorkspaces(store docstore.Store, blobs BlobDropper) *Workspaces {
	return &Workspaces{store: store, blobs: blobs}
}

// ID returns the identifier of the named workspace.
func (w *Workspaces) ID(ctx context.Context, name string) (ksid.ID, bool, error) {
	doc, err := w.store.FindWorkspace(ctx, name)
	if stderrors.Is(err, docstore.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Repository(fmt.Sprintf("failed to look up workspace %q", name), "", err)
	}
	return doc.ID, true, nil
}

// Create adds a workspace with an empty nt:unstructured root node.
//
// Cloning from a source workspace is not implemented.
func (w *Workspaces) Create(ctx context.Context, name, source string) (ksid.ID, error) {
	if source != "" {
		return 0, errors.NotImplemented("creating a workspace from a source workspace")
	}
	if name == "" {
		return 0, errors.MissingField("name")
	}
	if _, ok, err := w.ID(ctx, name); err != nil {
		return 0, err
	} else if ok {
		return 0, errors.Newf(errors.ErrRepository, "workspace %q already exists", name)
	}
	doc := &docstore.WorkspaceDoc{ID: ksid.NewID(), Name: name}
	if err := w.store.InsertWorkspace(ctx, doc); err != nil {
		if stderrors.Is(err, docstore.ErrExists) {
			return 0, errors.Newf(errors.ErrRepository, "workspace %q already exists", name)
		}
		return 0, errors.Repository(fmt.Sprintf("failed to create workspace %q", name), "", err)
	}
	root := &docstore.NodeDoc{
		ID:          uuid.New(),
		Path:        jcrpath.Root,
		Parent:      jcrpath.NoParent,
		WorkspaceID: doc.ID,
		Type:        jcr.TypeUnstructured,
		Props:       []docstore.PropertyRecord{},
	}
	if err := w.store.InsertNode(ctx, root); err != nil {
		return 0, errors.Repository(fmt.Sprintf("failed to create the root node of workspace %q", name), jcrpath.Root, err)
	}
	slog.InfoContext(ctx, "workspace created", "ws", name, "id", doc.ID)
	return doc.ID, nil
}

// Delete removes the named workspace with all its nodes. descriptors gate the
// operation through DescriptorWorkspaceManagement.
func (w *Workspaces) Delete(ctx context.Context, name string, descriptors map[string]any) error {
	if supported, _ := descriptors[DescriptorWorkspaceManagement].(bool); !supported {
		return errors.UnsupportedOperation("workspace deletion")
	}
	doc, err := w.store.FindWorkspace(ctx, name)
	if stderrors.Is(err, docstore.ErrNotFound) {
		return errors.Newf(errors.ErrRepository, "workspace %q cannot be deleted as it does not exist", name)
	}
	if err != nil {
		return errors.Repository(fmt.Sprintf("failed to look up workspace %q", name), "", err)
	}
	n, err := w.store.DeleteWorkspaceNodes(ctx, doc.ID)
	if err != nil {
		return errors.Repository(fmt.Sprintf("could not delete nodes in workspace %q", name), "", err)
	}
	if w.blobs != nil {
		if _, err := w.blobs.DeleteWorkspace(ctx, doc.ID); err != nil {
			return errors.Repository(fmt.Sprintf("could not delete binaries in workspace %q", name), "", err)
		}
	}
	if err := w.store.DeleteWorkspace(ctx, doc.ID); err != nil {
		return errors.Repository(fmt.Sprintf("could not delete already empty workspace %q", name), "", err)
	}
	slog.InfoContext(ctx, "workspace deleted", "ws", name, "nodes", n)
	return nil
}

// Names returns the workspace names in creation order.
func (w *Workspaces) Names(ctx context.Context) ([]string, error) {
	docs, err := w.store.Workspaces(ctx)
	if err != nil {
		return nil, errors.Repository("failed to list workspaces", "", err)
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Name
	}
	return out, nil
}
