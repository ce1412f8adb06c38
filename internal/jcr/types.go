// Package jcr defines the content model shared by the storage layers: the
// property type system, typed values and the node/property abstractions the
// persistence layer consumes.
package jcr

import (
	"fmt"
	"strings"
)

// PropertyType is the type tag of a property. The numeric values follow the
// JCR property type constants.
type PropertyType int

// Property types.
const (
	Undefined     PropertyType = 0
	String        PropertyType = 1
	Binary        PropertyType = 2
	Long          PropertyType = 3
	Double        PropertyType = 4
	Date          PropertyType = 5
	Boolean       PropertyType = 6
	Name          PropertyType = 7
	Path          PropertyType = 8
	Reference     PropertyType = 9
	WeakReference PropertyType = 10
	URI           PropertyType = 11
	Decimal       PropertyType = 12
)

var typeNames = [...]string{
	Undefined:     "Undefined",
	String:        "String",
	Binary:        "Binary",
	Long:          "Long",
	Double:        "Double",
	Date:          "Date",
	Boolean:       "Boolean",
	Name:          "Name",
	Path:          "Path",
	Reference:     "Reference",
	WeakReference: "WeakReference",
	URI:           "URI",
	Decimal:       "Decimal",
}

func (t PropertyType) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("PropertyType(%d)", int(t))
	}
	return typeNames[t]
}

// ParsePropertyType parses a type name, case-insensitively.
func ParsePropertyType(s string) (PropertyType, error) {
	for i, n := range typeNames {
		if strings.EqualFold(n, s) {
			return PropertyType(i), nil
		}
	}
	return Undefined, fmt.Errorf("unknown property type %q", s)
}

// IsReference reports whether t is REFERENCE or WEAKREFERENCE.
func (t PropertyType) IsReference() bool {
	return t == Reference || t == WeakReference
}

// MarshalText implements encoding.TextMarshaler. Stored documents carry the
// type name, not the number.
func (t PropertyType) MarshalText() ([]byte, error) {
	if t <= Undefined || int(t) >= len(typeNames) {
		return nil, fmt.Errorf("cannot marshal %s", t)
	}
	return []byte(typeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *PropertyType) UnmarshalText(b []byte) error {
	v, err := ParsePropertyType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Well-known item names.
const (
	PropUUID           = "jcr:uuid"
	PropPrimaryType    = "jcr:primaryType"
	PropMixinTypes     = "jcr:mixinTypes"
	PropCreated        = "jcr:created"
	PropCreatedBy      = "jcr:createdBy"
	PropLastModified   = "jcr:lastModified"
	PropLastModifiedBy = "jcr:lastModifiedBy"
	PropETag           = "jcr:etag"

	TypeUnstructured  = "nt:unstructured"
	TypeBase          = "nt:base"
	TypeFolder        = "nt:folder"
	TypeFile          = "nt:file"
	TypeResource      = "nt:resource"
	MixReferenceable  = "mix:referenceable"
	MixCreated        = "mix:created"
	MixLastModified   = "mix:lastModified"
	MixETag           = "mix:etag"
	MixTitle          = "mix:title"
	ResidualItemName  = "*"
	DefaultWorkspace  = "default"
	ImplementationURI = "https://github.com/maruel/jcrdb"
)
