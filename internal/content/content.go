// Package content is an in-memory implementation of jcr.Node and
// jcr.Property with dirty tracking, used to hand changes to the node store.
package content

import (
	"slices"

	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/jcrpath"
)

// Node is a mutable in-memory node.
type Node struct {
	types    jcr.NodeTypeManager
	path     string
	id       string
	primary  string
	mixins   []string
	props    []*Property
	children []*Node
	isNew    bool
	modified bool
}

// NewNode returns a new, unsaved node. types may be nil, in which case
// IsNodeType only matches the declared type names.
func NewNode(types jcr.NodeTypeManager, path, primaryType string) *Node {
	return &Node{types: types, path: path, primary: primaryType, isNew: true}
}

// Path implements jcr.Node.
func (n *Node) Path() string { return n.path }

// Identifier implements jcr.Node.
func (n *Node) Identifier() string { return n.id }

// PrimaryType implements jcr.Node.
func (n *Node) PrimaryType() string { return n.primary }

// MixinTypes implements jcr.Node.
func (n *Node) MixinTypes() []string { return n.mixins }

// IsNew implements jcr.Node.
func (n *Node) IsNew() bool { return n.isNew }

// IsModified implements jcr.Node.
func (n *Node) IsModified() bool { return n.modified }

// SetIdentifier assigns the node identifier.
func (n *Node) SetIdentifier(id string) {
	n.id = id
}

// AddMixin adds a mixin type.
func (n *Node) AddMixin(name string) {
	if !slices.Contains(n.mixins, name) {
		n.mixins = append(n.mixins, name)
		n.modified = true
	}
}

// IsNodeType implements jcr.Node.
func (n *Node) IsNodeType(name string) bool {
	for _, t := range append([]string{n.primary}, n.mixins...) {
		if t == name || (n.types != nil && n.types.IsNodeType(t, name)) {
			return true
		}
	}
	return false
}

// Properties implements jcr.Node.
func (n *Node) Properties() []jcr.Property {
	out := make([]jcr.Property, len(n.props))
	for i, p := range n.props {
		out[i] = p
	}
	return out
}

// Property implements jcr.Node.
func (n *Node) Property(name string) (jcr.Property, bool) {
	if p := n.prop(name); p != nil {
		return p, true
	}
	return nil, false
}

func (n *Node) prop(name string) *Property {
	for _, p := range n.props {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Children implements jcr.Node.
func (n *Node) Children() []jcr.Node {
	out := make([]jcr.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// SetProperty sets a single-valued property, creating it if needed.
func (n *Node) SetProperty(name string, v jcr.Value) *Property {
	return n.set(name, v.Type(), false, []jcr.Value{v})
}

// SetMultiProperty sets a multi-valued property of type typ.
func (n *Node) SetMultiProperty(name string, typ jcr.PropertyType, values ...jcr.Value) *Property {
	return n.set(name, typ, true, values)
}

func (n *Node) set(name string, typ jcr.PropertyType, multi bool, values []jcr.Value) *Property {
	n.modified = true
	if p := n.prop(name); p != nil {
		p.typ, p.multi, p.values, p.modified = typ, multi, values, true
		return p
	}
	p := &Property{node: n, name: name, typ: typ, multi: multi, values: values, isNew: true}
	n.props = append(n.props, p)
	return p
}

// AddChild appends a new child node.
func (n *Node) AddChild(name, primaryType string) *Node {
	c := NewNode(n.types, jcrpath.Join(n.path, name), primaryType)
	n.children = append(n.children, c)
	n.modified = true
	return c
}

// MarkSaved clears the dirty flags of the node, its properties and its
// children.
func (n *Node) MarkSaved() {
	n.isNew, n.modified = false, false
	for _, p := range n.props {
		p.isNew, p.modified = false, false
	}
	for _, c := range n.children {
		c.MarkSaved()
	}
}

// Property is a mutable in-memory property.
type Property struct {
	node     *Node
	name     string
	typ      jcr.PropertyType
	multi    bool
	values   []jcr.Value
	isNew    bool
	modified bool
}

// Name implements jcr.Property.
func (p *Property) Name() string { return p.name }

// Path implements jcr.Property.
func (p *Property) Path() string { return jcrpath.Join(p.node.path, p.name) }

// Type implements jcr.Property.
func (p *Property) Type() jcr.PropertyType { return p.typ }

// IsMultiple implements jcr.Property.
func (p *Property) IsMultiple() bool { return p.multi }

// Values implements jcr.Property.
func (p *Property) Values() []jcr.Value { return p.values }

// IsNew implements jcr.Property.
func (p *Property) IsNew() bool { return p.isNew }

// IsModified implements jcr.Property.
func (p *Property) IsModified() bool { return p.modified }

// Node implements jcr.Property.
func (p *Property) Node() jcr.Node { return p.node }

var (
	_ jcr.Node     = (*Node)(nil)
	_ jcr.Property = (*Property)(nil)
)
