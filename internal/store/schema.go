package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// FieldType is the semantic type of a column.  It drives how values are
// coerced on the way in, how they are bound as statement parameters and how
// they are scanned on the way out.
type FieldType int

const (
	Text    FieldType = iota // VARCHAR/TEXT column holding a plain string
	Int                      // BIGINT column
	Bool                     // BOOLEAN column
	Time                     // DATETIME column, always UTC
	JSON                     // TEXT column holding a JSON document
	Key                      // typed key (uuid.UUID internally, string at the boundary)
	KeyList                  // JSON array of typed keys
)

// String returns a readable name for the field type, used in error messages.
func (t FieldType) String() string {
	switch t {
	case Text:
		return "text"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Time:
		return "time"
	case JSON:
		return "json"
	case Key:
		return "key"
	case KeyList:
		return "key_list"
	}
	return fmt.Sprintf("field_type(%d)", int(t))
}

// Schema describes a table.  Fields maps column names to their semantic type
// and must include the primary key.
type Schema struct {
	Table      string
	PrimaryKey string
	Fields     map[string]FieldType
}

// columns returns the schema's columns in a stable order so that generated
// statements are byte-identical across calls.
func (s Schema) columns() []string {
	cols := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}

func (s Schema) fieldType(name string) (FieldType, error) {
	ft, ok := s.Fields[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Table, name)
	}
	return ft, nil
}

// Record is a single row at the store boundary.  Key fields hold canonical
// strings, JSON fields hold decoded values, missing or NULL columns are nil.
type Record map[string]any

// Query filters rows.  A field maps either to a scalar (equality) or to a
// map of Operator to operand.
type Query map[string]any

// String returns the named field as a string, or "" if absent.
func (r Record) String(field string) string {
	if v, ok := r[field].(string); ok {
		return v
	}
	return ""
}

// Bool returns the named field as a bool, or false if absent.
func (r Record) Bool(field string) bool {
	if v, ok := r[field].(bool); ok {
		return v
	}
	return false
}

// Int returns the named field as an int64, or 0 if absent.
func (r Record) Int(field string) int64 {
	switch v := r[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Time returns the named field as a UTC time, or the zero time if absent.
func (r Record) Time(field string) time.Time {
	if v, ok := r[field].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}

// Strings returns the named field as a string slice.  It accepts both
// []string and the []any produced by JSON decoding.
func (r Record) Strings(field string) []string {
	switch v := r[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Decode re-marshals the named JSON field into dst.  A missing field leaves
// dst untouched.
func (r Record) Decode(field string, dst any) error {
	v, ok := r[field]
	if !ok || v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
