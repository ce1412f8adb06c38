package handlers

import (
	"context"
	"encoding/json"

	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/journal"
	"github.com/maruel/jcrdb/internal/jsonldb"
	"github.com/maruel/jcrdb/internal/repository"
)

// RepositoryHandler serves the repository wide resources: descriptors,
// workspaces, namespaces, node types and history.
type RepositoryHandler struct {
	repo *repository.Repository
}

// NewRepositoryHandler creates a new repository handler.
func NewRepositoryHandler(repo *repository.Repository) *RepositoryHandler {
	return &RepositoryHandler{repo: repo}
}

// Empty is a request without parameters.
type Empty struct{}

// OK is the response of operations without a result.
type OK struct {
	OK bool `json:"ok"`
}

// Descriptors returns the repository descriptor table.
func (h *RepositoryHandler) Descriptors(ctx context.Context, _ Empty) (*map[string]any, error) {
	d := h.repo.Descriptors()
	return &d, nil
}

// WorkspacesResponse lists workspace names.
type WorkspacesResponse struct {
	Workspaces []string `json:"workspaces"`
}

// ListWorkspaces returns the workspace names.
func (h *RepositoryHandler) ListWorkspaces(ctx context.Context, _ Empty) (*WorkspacesResponse, error) {
	names, err := h.repo.AccessibleWorkspaceNames(ctx)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return &WorkspacesResponse{Workspaces: names}, nil
}

// CreateWorkspaceRequest creates a workspace.
type CreateWorkspaceRequest struct {
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
}

// CreateWorkspace adds a workspace.
func (h *RepositoryHandler) CreateWorkspace(ctx context.Context, req CreateWorkspaceRequest) (*OK, error) {
	if req.Name == "" {
		return nil, errors.MissingField("name")
	}
	if err := h.repo.CreateWorkspace(ctx, req.Name, req.Source); err != nil {
		return nil, err
	}
	return &OK{OK: true}, nil
}

// DeleteWorkspaceRequest deletes a workspace.
type DeleteWorkspaceRequest struct {
	Name string `path:"name"`
}

// DeleteWorkspace removes a workspace and its content.
func (h *RepositoryHandler) DeleteWorkspace(ctx context.Context, req DeleteWorkspaceRequest) (*OK, error) {
	if s, err := SessionFrom(ctx); err == nil && s.WorkspaceName() == req.Name {
		return nil, errors.BadRequest("cannot delete the workspace of the current session")
	}
	if err := h.repo.DeleteWorkspace(ctx, req.Name); err != nil {
		return nil, err
	}
	return &OK{OK: true}, nil
}

// NamespacesResponse maps prefixes to URIs.
type NamespacesResponse struct {
	Namespaces map[string]string `json:"namespaces"`
}

// ListNamespaces returns all namespace mappings, built-in ones included.
func (h *RepositoryHandler) ListNamespaces(ctx context.Context, _ Empty) (*NamespacesResponse, error) {
	all, err := h.repo.Namespaces().All(ctx)
	if err != nil {
		return nil, err
	}
	return &NamespacesResponse{Namespaces: all}, nil
}

// RegisterNamespaceRequest maps a prefix.
type RegisterNamespaceRequest struct {
	Prefix string `path:"prefix" json:"-"`
	URI    string `json:"uri"`
}

// RegisterNamespace maps a prefix to a URI.
func (h *RepositoryHandler) RegisterNamespace(ctx context.Context, req RegisterNamespaceRequest) (*OK, error) {
	if err := h.repo.Namespaces().Register(ctx, req.Prefix, req.URI); err != nil {
		return nil, err
	}
	return &OK{OK: true}, nil
}

// UnregisterNamespaceRequest unmaps a prefix.
type UnregisterNamespaceRequest struct {
	Prefix string `path:"prefix"`
}

// UnregisterNamespace removes a prefix mapping.
func (h *RepositoryHandler) UnregisterNamespace(ctx context.Context, req UnregisterNamespaceRequest) (*OK, error) {
	if err := h.repo.Namespaces().Unregister(ctx, req.Prefix); err != nil {
		return nil, err
	}
	return &OK{OK: true}, nil
}

// PropertyDefinition is the wire form of jcr.PropertyDefinition.
type PropertyDefinition struct {
	Name        string           `json:"name"`
	Type        jcr.PropertyType `json:"type"`
	Multiple    bool             `json:"multiple,omitempty"`
	Mandatory   bool             `json:"mandatory,omitempty"`
	AutoCreated bool             `json:"autocreated,omitempty"`
	Protected   bool             `json:"protected,omitempty"`
}

// NodeType is the wire form of jcr.NodeType.
type NodeType struct {
	Name       string               `json:"name"`
	Mixin      bool                 `json:"mixin,omitempty"`
	Supertypes []string             `json:"supertypes,omitempty"`
	Properties []PropertyDefinition `json:"properties,omitempty"`
	Children   []string             `json:"children,omitempty"`
}

// NodeTypesResponse lists node types.
type NodeTypesResponse struct {
	NodeTypes []NodeType `json:"node_types"`
}

// ListNodeTypes returns the registered node types, sorted by name.
func (h *RepositoryHandler) ListNodeTypes(ctx context.Context, _ Empty) (*NodeTypesResponse, error) {
	m := h.repo.NodeTypes()
	names := m.Names()
	out := &NodeTypesResponse{NodeTypes: make([]NodeType, 0, len(names))}
	for _, name := range names {
		nt, ok := m.NodeType(name)
		if !ok {
			continue
		}
		w := NodeType{Name: nt.Name, Mixin: nt.IsMixin, Supertypes: nt.Supertypes}
		for _, d := range nt.Properties {
			w.Properties = append(w.Properties, PropertyDefinition{
				Name:        d.Name,
				Type:        d.RequiredType,
				Multiple:    d.Multiple,
				Mandatory:   d.Mandatory,
				AutoCreated: d.AutoCreated,
				Protected:   d.Protected,
			})
		}
		for _, c := range nt.Children {
			w.Children = append(w.Children, c.Name)
		}
		out.NodeTypes = append(out.NodeTypes, w)
	}
	return out, nil
}

// HistoryRequest reads the journal.
type HistoryRequest struct {
	Limit int `query:"limit"`
}

// HistoryResponse lists save cycles, newest first.
type HistoryResponse struct {
	Commits []*journal.Commit `json:"commits"`
}

// History returns the last save cycles. Limit defaults to 50.
func (h *RepositoryHandler) History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error) {
	n := req.Limit
	if n <= 0 {
		n = 50
	}
	commits, err := h.repo.History(ctx, n)
	if err != nil {
		return nil, err
	}
	if commits == nil {
		commits = []*journal.Commit{}
	}
	return &HistoryResponse{Commits: commits}, nil
}

// Schema returns the JSON schema of a stored node document.
func (h *RepositoryHandler) Schema(ctx context.Context, _ Empty) (*json.RawMessage, error) {
	raw, err := jsonldb.SchemaJSON[docstore.NodeDoc]()
	if err != nil {
		return nil, errors.Repository("failed to generate schema", "", err)
	}
	return &raw, nil
}
