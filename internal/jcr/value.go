package jcr

import (
	"io"
	"strconv"
	"time"
)

// Value is a single typed property value.
//
// The set of implementations is closed; switch on the concrete type to
// handle every property type.
type Value interface {
	// Type returns the property type the value belongs to.
	Type() PropertyType
	// String returns the canonical string form of the value.
	String() string

	sealed()
}

// StringValue is a STRING value.
type StringValue string

// NameValue is a NAME value: an optional "prefix:" followed by a local name.
type NameValue string

// PathValue is a PATH value.
type PathValue string

// URIValue is a URI value.
type URIValue string

// ReferenceValue is a REFERENCE value: the identifier of the target node.
type ReferenceValue string

// WeakReferenceValue is a WEAKREFERENCE value: the identifier of the target node.
type WeakReferenceValue string

// DecimalValue is a DECIMAL value kept in its exact decimal string form.
type DecimalValue string

// LongValue is a LONG value.
type LongValue int64

// DoubleValue is a DOUBLE value.
type DoubleValue float64

// BooleanValue is a BOOLEAN value.
type BooleanValue bool

// DateValue is a DATE value. The location of the time is persisted alongside
// the instant.
type DateValue time.Time

// BinaryValue is a BINARY value.
//
// When writing, Reader supplies the payload. When reading, only Length is set;
// the payload is fetched separately from the blob store.
type BinaryValue struct {
	Reader io.Reader
	Length int64
}

func (StringValue) Type() PropertyType        { return String }
func (NameValue) Type() PropertyType          { return Name }
func (PathValue) Type() PropertyType          { return Path }
func (URIValue) Type() PropertyType           { return URI }
func (ReferenceValue) Type() PropertyType     { return Reference }
func (WeakReferenceValue) Type() PropertyType { return WeakReference }
func (DecimalValue) Type() PropertyType       { return Decimal }
func (LongValue) Type() PropertyType          { return Long }
func (DoubleValue) Type() PropertyType        { return Double }
func (BooleanValue) Type() PropertyType       { return Boolean }
func (DateValue) Type() PropertyType          { return Date }
func (BinaryValue) Type() PropertyType        { return Binary }

func (v StringValue) String() string        { return string(v) }
func (v NameValue) String() string          { return string(v) }
func (v PathValue) String() string          { return string(v) }
func (v URIValue) String() string           { return string(v) }
func (v ReferenceValue) String() string     { return string(v) }
func (v WeakReferenceValue) String() string { return string(v) }
func (v DecimalValue) String() string       { return string(v) }
func (v LongValue) String() string          { return strconv.FormatInt(int64(v), 10) }
func (v DoubleValue) String() string        { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v BooleanValue) String() string       { return strconv.FormatBool(bool(v)) }
func (v BinaryValue) String() string        { return strconv.FormatInt(v.Length, 10) }

// String returns the ISO-8601 form of the date in its own location.
func (v DateValue) String() string { return time.Time(v).Format(time.RFC3339) }

// Time returns the date as a time.Time.
func (v DateValue) Time() time.Time { return time.Time(v) }

func (StringValue) sealed()        {}
func (NameValue) sealed()          {}
func (PathValue) sealed()          {}
func (URIValue) sealed()           {}
func (ReferenceValue) sealed()     {}
func (WeakReferenceValue) sealed() {}
func (DecimalValue) sealed()       {}
func (LongValue) sealed()          {}
func (DoubleValue) sealed()        {}
func (BooleanValue) sealed()       {}
func (DateValue) sealed()          {}
func (BinaryValue) sealed()        {}

// ReferenceTarget returns the identifier held by a REFERENCE or WEAKREFERENCE
// value.
func ReferenceTarget(v Value) (string, bool) {
	switch r := v.(type) {
	case ReferenceValue:
		return string(r), true
	case WeakReferenceValue:
		return string(r), true
	}
	return "", false
}
