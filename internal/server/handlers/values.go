package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcr"
	"github.com/maruel/jcrdb/internal/nodestore"
)

// Property is the wire form of a property.
//
// LONG, DOUBLE and BOOLEAN values are JSON numbers and booleans. DATE values
// are RFC 3339 strings. BINARY values are base64 strings on input and
// {"length": n} objects on output; use the binary endpoint for the payload.
// Every other type is a string.
type Property struct {
	Name     string            `json:"name"`
	Type     jcr.PropertyType  `json:"type"`
	Multiple bool              `json:"multiple,omitempty"`
	Values   []json.RawMessage `json:"values"`
}

// Node is the wire form of a node.
type Node struct {
	Identifier  string     `json:"identifier,omitempty"`
	Path        string     `json:"path"`
	PrimaryType string     `json:"primary_type"`
	Mixins      []string   `json:"mixins,omitempty"`
	Properties  []Property `json:"properties"`
	Children    []string   `json:"children,omitempty"`
}

type binaryOut struct {
	Length int64 `json:"length"`
}

func newNode(n *nodestore.Node) (*Node, error) {
	out := &Node{
		Path:        n.Path,
		PrimaryType: n.PrimaryType,
		Mixins:      n.Mixins,
		Children:    n.Children,
		Properties:  make([]Property, 0, len(n.Properties)),
	}
	for i := range n.Properties {
		p := &n.Properties[i]
		if p.Name == jcr.PropUUID {
			out.Identifier = n.ID.String()
		}
		wp, err := newProperty(p)
		if err != nil {
			return nil, err
		}
		out.Properties = append(out.Properties, *wp)
	}
	return out, nil
}

func newProperty(p *nodestore.Property) (*Property, error) {
	out := &Property{Name: p.Name, Type: p.Type, Multiple: p.Multiple, Values: make([]json.RawMessage, 0, len(p.Values))}
	for _, v := range p.Values {
		raw, err := json.Marshal(valueOut(v))
		if err != nil {
			return nil, errors.Repository("failed to encode value", p.Name, err)
		}
		out.Values = append(out.Values, raw)
	}
	return out, nil
}

func valueOut(v jcr.Value) any {
	switch v := v.(type) {
	case jcr.LongValue:
		return int64(v)
	case jcr.DoubleValue:
		return float64(v)
	case jcr.BooleanValue:
		return bool(v)
	case jcr.DateValue:
		return v.Time().Format(time.RFC3339Nano)
	case jcr.BinaryValue:
		return binaryOut{Length: v.Length}
	default:
		return v.String()
	}
}

// values parses the wire values of p.
func (p *Property) values(path string) ([]jcr.Value, error) {
	if !p.Multiple && len(p.Values) != 1 {
		return nil, errors.ValueFormat(path, "single-valued property needs exactly one value")
	}
	out := make([]jcr.Value, 0, len(p.Values))
	for i, raw := range p.Values {
		v, err := valueIn(p.Type, raw)
		if err != nil {
			return nil, errors.ValueFormat(path, fmt.Sprintf("value %d: %v", i, err))
		}
		out = append(out, v)
	}
	return out, nil
}

func valueIn(typ jcr.PropertyType, raw json.RawMessage) (jcr.Value, error) {
	switch typ {
	case jcr.Long:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return nil, err
		}
		return jcr.LongValue(i), nil
	case jcr.Double:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return jcr.DoubleValue(f), nil
	case jcr.Boolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return jcr.BooleanValue(b), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	switch typ {
	case jcr.String:
		return jcr.StringValue(s), nil
	case jcr.Name:
		return jcr.NameValue(s), nil
	case jcr.Path:
		return jcr.PathValue(s), nil
	case jcr.URI:
		return jcr.URIValue(s), nil
	case jcr.Reference:
		return jcr.ReferenceValue(s), nil
	case jcr.WeakReference:
		return jcr.WeakReferenceValue(s), nil
	case jcr.Decimal:
		return jcr.DecimalValue(s), nil
	case jcr.Date:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return jcr.DateValue(t), nil
	case jcr.Binary:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, err
		}
		return jcr.BinaryValue{Reader: bytes.NewReader(b), Length: int64(len(b))}, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", typ)
	}
}
