package handlers

import (
	"context"
	"io"

	"github.com/maruel/jcrdb/internal/content"
	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/jcrpath"
	"github.com/maruel/jcrdb/internal/nodestore"
)

// NodeHandler serves the items of the session workspace.
type NodeHandler struct{}

// NewNodeHandler creates a new node handler.
func NewNodeHandler() *NodeHandler {
	return &NodeHandler{}
}

// store returns the node store of the request session.
func store(ctx context.Context) (*nodestore.Store, error) {
	s, err := SessionFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.Nodes()
}

// save runs fn in a save cycle of the request session.
func save(ctx context.Context, fn func(*nodestore.Store) error) error {
	s, err := SessionFrom(ctx)
	if err != nil {
		return err
	}
	return s.Save(ctx, fn)
}

// PathRequest addresses one item.
type PathRequest struct {
	Path string `path:"path"`
}

// GetNode returns the node at Path.
func (h *NodeHandler) GetNode(ctx context.Context, req PathRequest) (*Node, error) {
	nodes, err := store(ctx)
	if err != nil {
		return nil, err
	}
	n, err := nodes.Get(ctx, nodePath(req.Path))
	if err != nil {
		return nil, err
	}
	return newNode(n)
}

// IdentifierRequest addresses a node by identifier.
type IdentifierRequest struct {
	ID string `path:"id"`
}

// GetNodeByIdentifier returns the node with identifier ID.
func (h *NodeHandler) GetNodeByIdentifier(ctx context.Context, req IdentifierRequest) (*Node, error) {
	nodes, err := store(ctx)
	if err != nil {
		return nil, err
	}
	n, err := nodes.GetByIdentifier(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return newNode(n)
}

// NodesRequest fetches several nodes at once, by path or identifier.
type NodesRequest struct {
	Paths       []string `json:"paths,omitempty"`
	Identifiers []string `json:"identifiers,omitempty"`
}

// NodesResponse maps each found path to its node. Missing items are omitted.
type NodesResponse struct {
	Nodes map[string]*Node `json:"nodes"`
}

// GetNodes returns the nodes at Paths and with Identifiers.
func (h *NodeHandler) GetNodes(ctx context.Context, req NodesRequest) (*NodesResponse, error) {
	nodes, err := store(ctx)
	if err != nil {
		return nil, err
	}
	found, err := nodes.GetMany(ctx, req.Paths)
	if err != nil {
		return nil, err
	}
	if len(req.Identifiers) != 0 {
		byID, err := nodes.GetManyByIdentifier(ctx, req.Identifiers)
		if err != nil {
			return nil, err
		}
		for p, n := range byID {
			found[p] = n
		}
	}
	out := &NodesResponse{Nodes: make(map[string]*Node, len(found))}
	for p, n := range found {
		if out.Nodes[p], err = newNode(n); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NodeInput describes a node to write.
type NodeInput struct {
	// Name is only used for children.
	Name        string      `json:"name,omitempty"`
	PrimaryType string      `json:"primary_type"`
	Mixins      []string    `json:"mixins,omitempty"`
	Identifier  string      `json:"identifier,omitempty"`
	Properties  []Property  `json:"properties,omitempty"`
	Children    []NodeInput `json:"children,omitempty"`
}

// PutNodeRequest writes the node at Path, replacing any node there.
type PutNodeRequest struct {
	Path string `path:"path" json:"-"`
	NodeInput
}

// PutNode stores a node and its children in one save cycle.
func (h *NodeHandler) PutNode(ctx context.Context, req PutNodeRequest) (*Node, error) {
	p := nodePath(req.Path)
	var out *nodestore.Node
	err := save(ctx, func(nodes *nodestore.Store) error {
		n := content.NewNode(nodes.Types(), p, req.PrimaryType)
		if err := fill(n, &req.NodeInput); err != nil {
			return err
		}
		if err := nodes.StoreNode(ctx, n, true); err != nil {
			return err
		}
		var err error
		out, err = nodes.Get(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newNode(out)
}

func fill(n *content.Node, in *NodeInput) error {
	if in.PrimaryType == "" {
		return errors.MissingField("primary_type").WithPath(n.Path())
	}
	if in.Identifier != "" {
		n.SetIdentifier(in.Identifier)
	}
	for _, m := range in.Mixins {
		n.AddMixin(m)
	}
	for i := range in.Properties {
		if _, err := setProperty(n, &in.Properties[i]); err != nil {
			return err
		}
	}
	for i := range in.Children {
		c := &in.Children[i]
		if c.Name == "" {
			return errors.MissingField("name").WithPath(n.Path())
		}
		if err := fill(n.AddChild(c.Name, c.PrimaryType), c); err != nil {
			return err
		}
	}
	return nil
}

func setProperty(n *content.Node, p *Property) (*content.Property, error) {
	if p.Name == "" {
		return nil, errors.MissingField("name").WithPath(n.Path())
	}
	values, err := p.values(jcrpath.Join(n.Path(), p.Name))
	if err != nil {
		return nil, err
	}
	if p.Multiple {
		return n.SetMultiProperty(p.Name, p.Type, values...), nil
	}
	return n.SetProperty(p.Name, values[0]), nil
}

// PatchNodeRequest edits the node at Path in place.
type PatchNodeRequest struct {
	Path      string     `path:"path" json:"-"`
	Set       []Property `json:"set,omitempty"`
	Remove    []string   `json:"remove,omitempty"`
	AddMixins []string   `json:"add_mixins,omitempty"`
}

// PatchNode sets and removes properties and adds mixins. Properties not named
// keep their stored values.
func (h *NodeHandler) PatchNode(ctx context.Context, req PatchNodeRequest) (*Node, error) {
	p := nodePath(req.Path)
	var out *nodestore.Node
	err := save(ctx, func(nodes *nodestore.Store) error {
		cur, err := nodes.Get(ctx, p)
		if err != nil {
			return err
		}
		n := cur.Edit(nodes.Types())
		for _, m := range req.AddMixins {
			n.AddMixin(m)
		}
		for i := range req.Set {
			if _, err := setProperty(n, &req.Set[i]); err != nil {
				return err
			}
		}
		if err := nodes.StoreNode(ctx, n, false); err != nil {
			return err
		}
		for _, name := range req.Remove {
			if err := nodes.DeleteProperty(ctx, jcrpath.Join(p, name)); err != nil {
				return err
			}
		}
		out, err = nodes.Get(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newNode(out)
}

// DeleteItem removes the node, or the property, at Path.
func (h *NodeHandler) DeleteItem(ctx context.Context, req PathRequest) (*OK, error) {
	err := save(ctx, func(nodes *nodestore.Store) error {
		return nodes.Delete(ctx, nodePath(req.Path))
	})
	if err != nil {
		return nil, err
	}
	return &OK{OK: true}, nil
}

// GetProperty returns the property at Path.
func (h *NodeHandler) GetProperty(ctx context.Context, req PathRequest) (*Property, error) {
	nodes, err := store(ctx)
	if err != nil {
		return nil, err
	}
	p := nodePath(req.Path)
	if p == "/" {
		return nil, errors.NotFound(p)
	}
	n, err := nodes.Get(ctx, jcrpath.Parent(p))
	if err != nil {
		if errors.Is(err, errors.NotFoundErr) {
			return nil, errors.NotFound(p)
		}
		return nil, err
	}
	prop, ok := n.Property(jcrpath.Name(p))
	if !ok {
		return nil, errors.NotFound(p)
	}
	return newProperty(prop)
}

// PutPropertyRequest writes the property at Path.
type PutPropertyRequest struct {
	Path     string `path:"path" json:"-"`
	Property        // Name is taken from Path.
}

// PutProperty writes one property of an existing node.
func (h *NodeHandler) PutProperty(ctx context.Context, req PutPropertyRequest) (*Property, error) {
	p := nodePath(req.Path)
	req.Property.Name = jcrpath.Name(p)
	err := save(ctx, func(nodes *nodestore.Store) error {
		cur, err := nodes.Get(ctx, jcrpath.Parent(p))
		if err != nil {
			if errors.Is(err, errors.NotFoundErr) {
				return errors.PathNotFound("parent node does not exist", p)
			}
			return err
		}
		prop, err := setProperty(cur.Edit(nodes.Types()), &req.Property)
		if err != nil {
			return err
		}
		return nodes.StoreProperty(ctx, prop)
	})
	if err != nil {
		return nil, err
	}
	return h.GetProperty(ctx, PathRequest{Path: req.Path})
}

// DeleteProperty removes the property at Path.
func (h *NodeHandler) DeleteProperty(ctx context.Context, req PathRequest) (*OK, error) {
	err := save(ctx, func(nodes *nodestore.Store) error {
		return nodes.DeleteProperty(ctx, nodePath(req.Path))
	})
	if err != nil {
		return nil, err
	}
	return &OK{OK: true}, nil
}

// TransferRequest copies or moves a subtree.
type TransferRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
	// SrcWorkspace is the workspace to copy from; empty is the session one.
	SrcWorkspace string `json:"src_workspace,omitempty"`
}

// Copy duplicates the subtree at Src to Dst with fresh identifiers.
func (h *NodeHandler) Copy(ctx context.Context, req TransferRequest) (*OK, error) {
	err := save(ctx, func(nodes *nodestore.Store) error {
		return nodes.Copy(ctx, req.Src, req.Dst, req.SrcWorkspace)
	})
	if err != nil {
		return nil, err
	}
	return &OK{OK: true}, nil
}

// Move relocates the subtree at Src to Dst.
func (h *NodeHandler) Move(ctx context.Context, req TransferRequest) (*OK, error) {
	if req.SrcWorkspace != "" {
		return nil, errors.BadRequest("move is limited to the session workspace")
	}
	err := save(ctx, func(nodes *nodestore.Store) error {
		return nodes.Move(ctx, req.Src, req.Dst)
	})
	if err != nil {
		return nil, err
	}
	return &OK{OK: true}, nil
}

// ReferencesRequest looks up the properties referring to a node.
type ReferencesRequest struct {
	Path string `path:"path"`
	Name string `query:"name"`
	Weak bool   `query:"weak"`
}

// ReferencesResponse lists property paths.
type ReferencesResponse struct {
	References []string `json:"references"`
}

// References returns the REFERENCE, or with Weak the WEAKREFERENCE,
// properties pointing at the node at Path.
func (h *NodeHandler) References(ctx context.Context, req ReferencesRequest) (*ReferencesResponse, error) {
	nodes, err := store(ctx)
	if err != nil {
		return nil, err
	}
	refs, err := nodes.FindReferences(ctx, nodePath(req.Path), req.Name, req.Weak)
	if err != nil {
		return nil, err
	}
	if refs == nil {
		refs = []string{}
	}
	return &ReferencesResponse{References: refs}, nil
}

// QueryRequest runs a query.
type QueryRequest struct {
	Language  string `json:"language"`
	Statement string `json:"statement"`
}

// QueryResponse lists matching node paths.
type QueryResponse struct {
	Paths []string `json:"paths"`
}

// Query runs a query statement.
func (h *NodeHandler) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	nodes, err := store(ctx)
	if err != nil {
		return nil, err
	}
	paths, err := nodes.Query(ctx, req.Language, req.Statement)
	if err != nil {
		return nil, err
	}
	return &QueryResponse{Paths: paths}, nil
}

// OpenBinary returns the payload of value index of the BINARY property at
// path.
func (h *NodeHandler) OpenBinary(ctx context.Context, path string, index int) (io.ReadCloser, error) {
	nodes, err := store(ctx)
	if err != nil {
		return nil, err
	}
	return nodes.BinaryStream(ctx, path, index)
}

// PutBinary writes a single-valued BINARY property at path from r.
func (h *NodeHandler) PutBinary(ctx context.Context, path string, r io.Reader, length int64) error {
	return save(ctx, func(nodes *nodestore.Store) error {
		cur, err := nodes.Get(ctx, jcrpath.Parent(path))
		if err != nil {
			if errors.Is(err, errors.NotFoundErr) {
				return errors.PathNotFound("parent node does not exist", path)
			}
			return err
		}
		n := cur.Edit(nodes.Types())
		prop := n.SetProperty(jcrpath.Name(path), jcr.BinaryValue{Reader: r, Length: length})
		return nodes.StoreProperty(ctx, prop)
	})
}
