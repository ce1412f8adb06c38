// Schema header written as the first line of every table file.

package jsonldb

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/invopop/jsonschema"
)

// currentVersion is the version of the table file format.
const currentVersion = "1.0"

type columnType string

const (
	columnTypeText    columnType = "text"
	columnTypeNumber  columnType = "number"
	columnTypeBool    columnType = "bool"
	columnTypeDate    columnType = "date"
	columnTypeBlobRef columnType = "blob_ref"
	columnTypeJSONB   columnType = "jsonb"
)

type column struct {
	Name        string     `json:"name"`
	Type        columnType `json:"type"`
	Required    bool       `json:"required,omitempty"`
	Description string     `json:"description,omitempty"`
}

type schemaHeader struct {
	Version string   `json:"version"`
	Columns []column `json:"columns"`
}

func (h *schemaHeader) Validate() error {
	if h.Version == "" {
		return errors.New("schema version is required")
	}
	for i, c := range h.Columns {
		if c.Name == "" || c.Type == "" {
			return fmt.Errorf("column %d: name and type are required", i)
		}
	}
	return nil
}

// Schema returns the JSON Schema of the row type T, with every nested type
// inlined.
func Schema[T any]() *jsonschema.Schema {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	return r.ReflectFromType(t)
}

// SchemaJSON returns Schema[T] marshaled to JSON.
func SchemaJSON[T any]() (json.RawMessage, error) {
	return json.Marshal(Schema[T]())
}

// schemaFromType lists the top-level columns of T. Descriptions come from
// `jsonschema:"description=..."` tags.
func schemaFromType[T any]() ([]column, error) {
	s := Schema[T]()
	if s.Type != "object" || s.Properties == nil {
		return nil, fmt.Errorf("row type %s must be a struct", reflect.TypeFor[T]())
	}
	var cols []column
	for p := s.Properties.Oldest(); p != nil; p = p.Next() {
		cols = append(cols, column{
			Name:        p.Key,
			Type:        columnTypeOf(p.Value),
			Required:    slices.Contains(s.Required, p.Key),
			Description: p.Value.Description,
		})
	}
	return cols, nil
}

func columnTypeOf(s *jsonschema.Schema) columnType {
	switch s.Type {
	case "string":
		if s.Format == "date-time" {
			return columnTypeDate
		}
		return columnTypeText
	case "integer", "number":
		return columnTypeNumber
	case "boolean":
		return columnTypeBool
	case "object":
		if s.Properties != nil && s.Properties.Len() == 2 {
			if _, ok := s.Properties.Get("sha256"); ok {
				return columnTypeBlobRef
			}
		}
	}
	return columnTypeJSONB
}
