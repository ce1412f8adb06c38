package nodestore

import (
	"context"

	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcr"
)

// MoveOp is one step of a batched move.
type MoveOp struct {
	Src, Dst string
}

// ReorderChildren is not implemented.
func (s *Store) ReorderChildren(ctx context.Context, path string, order []string) error {
	return errors.NotImplemented("reordering child nodes")
}

// UpdateNode is not implemented.
func (s *Store) UpdateNode(ctx context.Context, node jcr.Node, srcWorkspace string) error {
	return errors.NotImplemented("updating a node from another workspace")
}

// MoveNodes is not implemented.
func (s *Store) MoveNodes(ctx context.Context, ops []MoveOp) error {
	return errors.NotImplemented("batched moves")
}

// DeleteNodes is not implemented.
func (s *Store) DeleteNodes(ctx context.Context, paths []string) error {
	return errors.NotImplemented("batched node deletion")
}

// DeleteProperties is not implemented.
func (s *Store) DeleteProperties(ctx context.Context, paths []string) error {
	return errors.NotImplemented("batched property deletion")
}

// StoreNodes is not implemented.
func (s *Store) StoreNodes(ctx context.Context, nodes []jcr.Node) error {
	return errors.NotImplemented("batched node storage")
}

// UpdateProperties is not implemented.
func (s *Store) UpdateProperties(ctx context.Context, node jcr.Node) error {
	return errors.NotImplemented("batched property updates")
}

// CloneFrom is not implemented.
func (s *Store) CloneFrom(ctx context.Context, srcWorkspace, src, dst string, removeExisting bool) error {
	return errors.NotImplemented("cloning from another workspace")
}

// Query is not implemented.
func (s *Store) Query(ctx context.Context, language, statement string) ([]string, error) {
	return nil, errors.NotImplemented("queries")
}

// RegisterNodeTypes is not implemented.
func (s *Store) RegisterNodeTypes(ctx context.Context, types []*jcr.NodeType, allowUpdate bool) error {
	return errors.NotImplemented("node type registration")
}

// GetProperty is not implemented; properties are read with their node.
func (s *Store) GetProperty(ctx context.Context, path string) (*Property, error) {
	return nil, errors.NotImplemented("reading a single property")
}

// MoveNodeImmediately is not implemented.
func (s *Store) MoveNodeImmediately(ctx context.Context, src, dst string) error {
	return errors.NotImplemented("immediate moves")
}

// DeleteNodeImmediately is not implemented.
func (s *Store) DeleteNodeImmediately(ctx context.Context, path string) error {
	return errors.NotImplemented("immediate node deletion")
}

// DeletePropertyImmediately is not implemented.
func (s *Store) DeletePropertyImmediately(ctx context.Context, path string) error {
	return errors.NotImplemented("immediate property deletion")
}
