// Package codec converts typed properties to and from their stored records.
package codec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/jcr"
)

// Namespaces resolves the registered namespace prefixes.
type Namespaces interface {
	All(ctx context.Context) (map[string]string, error)
}

// BinarySink receives the payload of BINARY values.
type BinarySink interface {
	// PutBinary stores value index of the property at propertyPath and
	// returns the number of bytes written.
	PutBinary(ctx context.Context, propertyPath string, index int, r io.Reader) (int64, error)
}

// Encoder turns properties into stored records.
type Encoder struct {
	Namespaces Namespaces
	Binaries   BinarySink
	// Now returns the time assigned to DATE properties without a value.
	Now func() time.Time
}

// storedDate is the shape of a DATE value.
type storedDate struct {
	Date     int64  `json:"date"`
	Timezone string `json:"timezone"`
}

var (
	// pathValueRE is the grammar of PATH values: optionally absolute or
	// relative segments of [-a-zA-Z0-9:_], each with an optional index.
	pathValueRE = regexp.MustCompile(`^(/|(/?(\.\.?|[-a-zA-Z0-9:_]+(\[[0-9]+\])?)(/(\.\.?|[-a-zA-Z0-9:_]+(\[[0-9]+\])?))*/?))$`)
	// uriCharsRE is the set of characters allowed in an RFC 3986 reference.
	uriCharsRE = regexp.MustCompile(`^([A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=]|%[0-9A-Fa-f]{2})*$`)
	schemeRE   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:`)
)

// Encode returns the stored record of prop.
//
// skip is true when nothing has to be written: the identifier and primary
// type are stored as document fields, and unchanged properties are left as
// they are.
func (e *Encoder) Encode(ctx context.Context, prop jcr.Property) (rec *docstore.PropertyRecord, skip bool, err error) {
	name := prop.Name()
	if name == jcr.PropUUID || name == jcr.PropPrimaryType {
		return nil, true, nil
	}
	if !prop.IsModified() && !prop.IsNew() {
		return nil, true, nil
	}
	path := prop.Path()
	typ := prop.Type()
	if typ.IsReference() {
		if n := prop.Node(); n != nil && !n.IsNodeType(jcr.MixReferenceable) {
			return nil, false, errors.ValueFormat(path, fmt.Sprintf("node %s is not referenceable", n.Path()))
		}
	}
	values := prop.Values()
	if typ == jcr.Date && !prop.IsMultiple() && len(values) == 0 {
		values = []jcr.Value{jcr.DateValue(e.now())}
	}
	if !prop.IsMultiple() && len(values) != 1 {
		return nil, false, errors.ValueFormat(path, fmt.Sprintf("single-valued property has %d values", len(values)))
	}
	var nsMap map[string]string
	if typ == jcr.Name {
		if nsMap, err = e.Namespaces.All(ctx); err != nil {
			return nil, false, errors.Repository("failed to load namespaces", path, err)
		}
	}
	encoded := make([]any, 0, len(values))
	for i, v := range values {
		if v.Type() != typ {
			return nil, false, errors.ValueFormat(path, fmt.Sprintf("value %d is %s, want %s", i, v.Type(), typ))
		}
		if err := validate(v, path, nsMap); err != nil {
			return nil, false, err
		}
		out, err := e.encodeValue(ctx, v, path, i)
		if err != nil {
			return nil, false, err
		}
		encoded = append(encoded, out)
	}
	var raw []byte
	if prop.IsMultiple() {
		raw, err = json.Marshal(encoded)
	} else {
		raw, err = json.Marshal(encoded[0])
	}
	if err != nil {
		return nil, false, errors.Repository("failed to encode property", path, err)
	}
	return &docstore.PropertyRecord{Name: name, Type: typ, Multi: prop.IsMultiple(), Value: raw}, false, nil
}

func (e *Encoder) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Encoder) encodeValue(ctx context.Context, v jcr.Value, path string, index int) (any, error) {
	switch v := v.(type) {
	case jcr.LongValue:
		return int64(v), nil
	case jcr.DoubleValue:
		return float64(v), nil
	case jcr.BooleanValue:
		return bool(v), nil
	case jcr.DateValue:
		t := v.Time()
		if t.IsZero() {
			t = e.now()
		}
		return storedDate{Date: t.Unix(), Timezone: zoneName(t)}, nil
	case jcr.BinaryValue:
		if v.Reader == nil {
			return v.Length, nil
		}
		if e.Binaries == nil {
			return nil, errors.Repository("no binary store configured", path, nil)
		}
		n, err := e.Binaries.PutBinary(ctx, path, index, v.Reader)
		if err != nil {
			return nil, errors.Repository("failed to store binary", path, err)
		}
		return n, nil
	default:
		return v.String(), nil
	}
}

// zoneName returns the name persisted for the location of t. Unnamed fixed
// zones are stored as their offset.
func zoneName(t time.Time) string {
	name := t.Location().String()
	if name != "" && name != "Local" {
		return name
	}
	if _, off := t.Zone(); off != 0 || name == "" {
		return t.Format("-07:00")
	}
	return "UTC"
}

func validate(v jcr.Value, path string, namespaces map[string]string) error {
	switch v := v.(type) {
	case jcr.NameValue:
		if prefix, _, ok := strings.Cut(string(v), ":"); ok {
			if _, known := namespaces[prefix]; !known {
				return errors.ValueFormat(path, fmt.Sprintf("invalid NAME %q: the namespace prefix %q does not exist", v, prefix))
			}
		}
	case jcr.PathValue:
		if !pathValueRE.MatchString(string(v)) {
			return errors.ValueFormat(path, fmt.Sprintf("invalid PATH %q: segments are separated by / and allowed chars are -a-zA-Z0-9:_", v))
		}
	case jcr.URIValue:
		if !ValidURI(string(v)) {
			return errors.ValueFormat(path, fmt.Sprintf("invalid URI %q: has to follow RFC 3986", v))
		}
	case jcr.DecimalValue:
		f, _, err := big.ParseFloat(string(v), 10, 256, big.ToNearestEven)
		if err != nil || f.IsInf() {
			return errors.ValueFormat(path, fmt.Sprintf("invalid DECIMAL %q", v))
		}
	case jcr.DoubleValue:
		if math.IsNaN(float64(v)) {
			return errors.ValueFormat(path, "DOUBLE value is NaN")
		}
	}
	return nil
}

// ValidURI reports whether s is an RFC 3986 URI reference.
func ValidURI(s string) bool {
	if !uriCharsRE.MatchString(s) {
		return false
	}
	if strings.Contains(s, ":") && !schemeRE.MatchString(s) {
		// A colon before the first "/", "?" or "#" must end a scheme.
		if i := strings.IndexAny(s, "/?#"); i < 0 || strings.Index(s, ":") < i {
			return false
		}
	}
	_, err := url.Parse(s)
	return err == nil
}

// Decode returns the values held by rec.
func Decode(rec *docstore.PropertyRecord) ([]jcr.Value, error) {
	var raws []json.RawMessage
	if rec.Multi {
		if err := json.Unmarshal(rec.Value, &raws); err != nil {
			return nil, fmt.Errorf("property %s: %w", rec.Name, err)
		}
	} else {
		raws = []json.RawMessage{rec.Value}
	}
	out := make([]jcr.Value, 0, len(raws))
	for _, raw := range raws {
		v, err := decodeValue(rec.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", rec.Name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeValue(typ jcr.PropertyType, raw json.RawMessage) (jcr.Value, error) {
	switch typ {
	case jcr.Boolean:
		return jcr.BooleanValue(DecodeBoolean(raw)), nil
	case jcr.Long:
		n, err := decodeNumber(raw)
		if err != nil {
			return nil, err
		}
		if i, err := n.Int64(); err == nil {
			return jcr.LongValue(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return jcr.LongValue(int64(f)), nil
	case jcr.Double:
		n, err := decodeNumber(raw)
		if err != nil {
			return nil, err
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return jcr.DoubleValue(f), nil
	case jcr.Binary:
		n, err := decodeNumber(raw)
		if err != nil {
			return nil, err
		}
		l, err := n.Int64()
		if err != nil {
			return nil, err
		}
		return jcr.BinaryValue{Length: l}, nil
	case jcr.Date:
		var d storedDate
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return jcr.DateValue(time.Unix(d.Date, 0).In(location(d.Timezone))), nil
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
	}
	return nil, fmt.Errorf("unsupported property type %s", typ)
}

func decodeNumber(raw json.RawMessage) (json.Number, error) {
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	var n json.Number
	if err := d.Decode(&n); err != nil {
		return "", err
	}
	return n, nil
}

// location resolves a stored zone name. Unknown zones fall back to UTC.
func location(name string) *time.Location {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	if t, err := time.Parse("-07:00", name); err == nil {
		_, off := t.Zone()
		return time.FixedZone(name, off)
	}
	return time.UTC
}

// DecodeBoolean decodes a stored BOOLEAN leniently: a JSON boolean, or a
// string equal to "true" or "false" once trimmed and case-folded. Anything
// else is false.
func DecodeBoolean(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch v := v.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}
