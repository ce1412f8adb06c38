// Package nodetype resolves node type definitions and validates nodes against
// them before they are persisted.
package nodetype

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcr"
)

// Manager holds the known node types with their inherited definitions
// flattened.
type Manager struct {
	declared  map[string]*jcr.NodeType
	flattened map[string]*jcr.NodeType
	ancestors map[string][]string
}

// NewManager returns a manager knowing the built-in types.
func NewManager() *Manager {
	m := &Manager{
		declared:  make(map[string]*jcr.NodeType, len(builtins)),
		flattened: make(map[string]*jcr.NodeType, len(builtins)),
		ancestors: make(map[string][]string, len(builtins)),
	}
	for i := range builtins {
		m.declared[builtins[i].Name] = &builtins[i]
	}
	for name := range m.declared {
		m.ancestors[name] = m.collectAncestors(name, nil)
	}
	for name, nt := range m.declared {
		flat := &jcr.NodeType{Name: name, IsMixin: nt.IsMixin, Supertypes: m.ancestors[name]}
		for _, t := range append([]string{name}, m.ancestors[name]...) {
			d := m.declared[t]
			for _, p := range d.Properties {
				if !slices.ContainsFunc(flat.Properties, func(o jcr.PropertyDefinition) bool { return o.Name == p.Name }) {
					flat.Properties = append(flat.Properties, p)
				}
			}
			for _, c := range d.Children {
				if !slices.ContainsFunc(flat.Children, func(o jcr.NodeDefinition) bool { return o.Name == c.Name }) {
					flat.Children = append(flat.Children, c)
				}
			}
		}
		m.flattened[name] = flat
	}
	return m
}

func (m *Manager) collectAncestors(name string, seen []string) []string {
	d, ok := m.declared[name]
	if !ok {
		return seen
	}
	for _, s := range d.Supertypes {
		if !slices.Contains(seen, s) {
			seen = m.collectAncestors(s, append(seen, s))
		}
	}
	return seen
}

// NodeType implements jcr.NodeTypeManager.
func (m *Manager) NodeType(name string) (*jcr.NodeType, bool) {
	nt, ok := m.flattened[name]
	return nt, ok
}

// IsNodeType implements jcr.NodeTypeManager.
func (m *Manager) IsNodeType(typeName, name string) bool {
	return typeName == name || slices.Contains(m.ancestors[typeName], name)
}

// Names returns the names of the known types, sorted.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.declared))
	for name := range m.declared {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Declared returns the declared definitions of the named types, or of every
// type when names is empty. Unknown names are ignored.
func (m *Manager) Declared(names ...string) []*jcr.NodeType {
	if len(names) == 0 {
		names = m.Names()
	}
	var out []*jcr.NodeType
	for _, n := range names {
		if nt, ok := m.declared[n]; ok {
			out = append(out, nt)
		}
	}
	return out
}

// AutoProperty is a property value generated for an autocreated definition
// the node did not carry.
type AutoProperty struct {
	Name     string
	Type     jcr.PropertyType
	Multiple bool
	Values   []jcr.Value
}

// Context supplies the values of generated properties.
type Context struct {
	UserID string
	Now    time.Time
}

// Validate checks node against its primary type and mixins and returns the
// autocreated properties it lacks.
//
// Mandatory children are only checked on new nodes: the children of a
// persisted node are not necessarily loaded.
func (m *Manager) Validate(node jcr.Node, c Context) ([]AutoProperty, error) {
	primary := node.PrimaryType()
	if primary == "" {
		primary = jcr.TypeUnstructured
	}
	var out []AutoProperty
	for _, name := range append([]string{primary}, node.MixinTypes()...) {
		nt, ok := m.NodeType(name)
		if !ok {
			return nil, errors.Repository(fmt.Sprintf("no such node type %q", name), node.Path(), nil)
		}
		if node.IsNew() {
			if err := checkChildren(node, nt); err != nil {
				return nil, err
			}
		}
		for _, def := range nt.Properties {
			if def.Name == jcr.ResidualItemName || def.Name == jcr.PropPrimaryType || def.Name == jcr.PropMixinTypes {
				continue
			}
			if _, ok := node.Property(def.Name); ok {
				continue
			}
			if slices.ContainsFunc(out, func(a AutoProperty) bool { return a.Name == def.Name }) {
				continue
			}
			if def.Mandatory && !def.AutoCreated {
				return nil, errors.Repository(
					fmt.Sprintf("property %s is mandatory, but is not present while saving %s", def.Name, nt.Name), node.Path(), nil)
			}
			if !def.AutoCreated {
				continue
			}
			a, err := autoCreate(node, def, c)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	}
	return out, nil
}

func checkChildren(node jcr.Node, nt *jcr.NodeType) error {
	for _, def := range nt.Children {
		if def.Name == jcr.ResidualItemName {
			continue
		}
		if slices.ContainsFunc(node.Children(), func(c jcr.Node) bool { return strings.HasSuffix(c.Path(), "/"+def.Name) }) {
			continue
		}
		if def.AutoCreated {
			return errors.NotImplemented(fmt.Sprintf("auto-creation of child node %s#%s", nt.Name, def.Name))
		}
		if def.Mandatory {
			return errors.Repository(
				fmt.Sprintf("child %s is mandatory, but is not present while saving %s", def.Name, nt.Name), node.Path(), nil)
		}
	}
	return nil
}

func autoCreate(node jcr.Node, def jcr.PropertyDefinition, c Context) (AutoProperty, error) {
	a := AutoProperty{Name: def.Name, Type: def.RequiredType, Multiple: def.Multiple}
	switch def.Name {
	case jcr.PropUUID:
		id := node.Identifier()
		if id == "" {
			id = uuid.NewString()
		}
		a.Values = []jcr.Value{jcr.StringValue(id)}
	case jcr.PropCreatedBy, jcr.PropLastModifiedBy:
		a.Values = []jcr.Value{jcr.StringValue(c.UserID)}
	case jcr.PropCreated, jcr.PropLastModified:
		a.Values = []jcr.Value{jcr.DateValue(c.Now)}
	case jcr.PropETag:
		a.Values = []jcr.Value{jcr.StringValue(ETag(node))}
	default:
		switch {
		case def.Multiple:
			a.Values = def.DefaultValues
		case len(def.DefaultValues) > 0:
			a.Values = def.DefaultValues[:1]
		default:
			return a, errors.Repository(fmt.Sprintf("no default value for autocreated property %s", def.Name), node.Path(), nil)
		}
	}
	return a, nil
}

// ETag returns the entity tag of node, derived from its BINARY properties.
func ETag(node jcr.Node) string {
	h := sha256.New()
	for _, p := range node.Properties() {
		if p.Type() != jcr.Binary {
			continue
		}
		fmt.Fprintf(h, "%s", p.Name())
		for _, v := range p.Values() {
			fmt.Fprintf(h, ":%s", v)
		}
		h.Write([]byte{0})
	}
	return `"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`
}
