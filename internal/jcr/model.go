package jcr

// Property is a typed, possibly multi-valued property of a node.
type Property interface {
	Name() string
	// Path is the absolute path of the property: the owning node path joined
	// with the property name.
	Path() string
	Type() PropertyType
	IsMultiple() bool
	// Values returns the values; a single-valued property returns one value.
	Values() []Value
	// IsNew reports whether the property was created since it was last
	// persisted.
	IsNew() bool
	// IsModified reports whether the property changed since it was last
	// persisted.
	IsModified() bool
	// Node returns the owning node.
	Node() Node
}

// Node is an in-memory node handed to the persistence layer.
type Node interface {
	Path() string
	// Identifier returns the identifier assigned to the node, or "" when none
	// was assigned yet.
	Identifier() string
	PrimaryType() string
	MixinTypes() []string
	Properties() []Property
	// Property returns the named property.
	Property(name string) (Property, bool)
	// Children returns the loaded child nodes in order.
	Children() []Node
	IsNew() bool
	IsModified() bool
	// IsNodeType reports whether the primary type or one of the mixins is, or
	// inherits from, the named type.
	IsNodeType(name string) bool
}

// PropertyDefinition declares a property of a node type.
type PropertyDefinition struct {
	Name          string
	RequiredType  PropertyType
	Multiple      bool
	Mandatory     bool
	AutoCreated   bool
	Protected     bool
	DefaultValues []Value
}

// NodeDefinition declares a child node of a node type.
type NodeDefinition struct {
	Name               string
	RequiredTypes      []string
	DefaultPrimaryType string
	Mandatory          bool
	AutoCreated        bool
}

// NodeType is a node type with its inherited definitions flattened.
type NodeType struct {
	Name       string
	IsMixin    bool
	Supertypes []string
	Properties []PropertyDefinition
	Children   []NodeDefinition
}

// NodeTypeManager resolves node type capabilities.
type NodeTypeManager interface {
	// NodeType returns the named type.
	NodeType(name string) (*NodeType, bool)
	// IsNodeType reports whether typeName is, or inherits from, name.
	IsNodeType(typeName, name string) bool
}

// IsReferenceable reports whether a node with the given primary and mixin
// types grants the referenceable capability.
func IsReferenceable(m NodeTypeManager, primary string, mixins []string) bool {
	if m.IsNodeType(primary, MixReferenceable) {
		return true
	}
	for _, mixin := range mixins {
		if m.IsNodeType(mixin, MixReferenceable) {
			return true
		}
	}
	return false
}
