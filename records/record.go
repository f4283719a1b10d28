// records contains the raw unit of data, the Record, and the Schema that governs
// which fields a bound model exposes and what their defaults are.
package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
)

// Value is a JSON scalar or nested value held by a record field.
type Value = any

// Record is a flat field-name to value mapping, as decoded from JSON.
type Record map[string]Value

// Field is a schema field name and its default value.
type Field struct {
	Name    string
	Default Value
}

// Schema is the fixed, ordered set of permitted fields and their fallback values.
// A Schema is immutable once constructed.
type Schema struct {
	fields []Field
	index  map[string]int
}

var (
	// ErrEmptySchema is returned when a schema is built without fields.
	ErrEmptySchema = errors.New("records: schema has no fields")
	// ErrDuplicateField is returned when a field name is declared twice.
	ErrDuplicateField = errors.New("records: duplicate schema field")
	// ErrNotArray is returned when a bulk payload is not a JSON array of objects.
	ErrNotArray = errors.New("records: payload is not an array of records")
)

// NewSchema returns a schema for the passed fields, in declaration order.
func NewSchema(fields ...Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, ErrEmptySchema
	}

	s := &Schema{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if _, ok := s.index[f.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateField, f.Name)
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for package-level schemas.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns the field names in declaration order.
func (s *Schema) Fields() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Has reports whether name is a schema field.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Default returns the default value of the named field.
func (s *Schema) Default(name string) (Value, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.fields[i].Default, true
}

// FallbackPolicy decides when a record value is replaced by the schema default.
type FallbackPolicy int

const (
	// FallbackFalsy replaces missing and falsy values (0, "", false, nil).
	// Note that valid falsy values are indistinguishable from missing ones.
	FallbackFalsy FallbackPolicy = iota
	// FallbackMissing replaces only absent fields.
	FallbackMissing
)

// Reconcile returns a new record holding exactly the schema's fields: the value
// from r when the policy accepts it, otherwise the schema default. Fields in r
// that are not in the schema are dropped.
func (s *Schema) Reconcile(r Record, policy FallbackPolicy) Record {
	out := make(Record, len(s.fields))
	for _, f := range s.fields {
		v, ok := r[f.Name]
		switch {
		case !ok:
			out[f.Name] = f.Default
		case policy == FallbackFalsy && !Truthy(v):
			out[f.Name] = f.Default
		default:
			out[f.Name] = v
		}
	}
	return out
}

// Truthy reports whether v would be considered set: nil, false, numeric zero,
// NaN and the empty string are falsy; all other values, including empty
// collections, are truthy.
func Truthy(v Value) bool {
	if v == nil {
		return false
	}

	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || (f != 0 && !math.IsNaN(f))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// Dump renders values as a JSON object whose keys follow schema order.
// Fields missing from values are rendered as null.
func (s *Schema) Dump(values Record) string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(f.Name)
		buf.Write(name)
		buf.WriteByte(':')
		val, err := json.Marshal(values[f.Name])
		if err != nil {
			val = []byte("null")
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.String()
}

// DecodeRecords decodes a JSON array of objects. A null payload, or a null
// element, is not one.
func DecodeRecords(r io.Reader) ([]Record, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	var recs []Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArray, err)
	}
	if recs == nil {
		return nil, fmt.Errorf("%w: got null", ErrNotArray)
	}
	for i, rec := range recs {
		if rec == nil {
			return nil, fmt.Errorf("%w: element %d is null", ErrNotArray, i)
		}
	}
	return recs, nil
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
