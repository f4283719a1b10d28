package models

import (
	"errors"
	"fmt"
	"sync"

	"unseen/records"

	"github.com/spf13/cast"
)

var (
	// ErrNoSchema is returned when a model or collection is built without a schema.
	ErrNoSchema = errors.New("models: no schema specified")
	// ErrUnknownField is returned when setting a field that is not in the schema.
	ErrUnknownField = errors.New("models: unknown field")
)

// Model is a record bound to a schema. Each schema field is readable via Get
// and writable via Set; every Set notifies the owner with the model's key.
type Model struct {
	schema *records.Schema
	owner  Owner
	key    Key

	mu     sync.RWMutex
	values records.Record
}

// Option configures model and collection construction.
type Option func(*options)

type options struct {
	fallback records.FallbackPolicy
}

// WithFallback sets the policy deciding when record values fall back to schema defaults.
// The default is records.FallbackFalsy.
func WithFallback(policy records.FallbackPolicy) Option {
	return func(o *options) {
		o.fallback = policy
	}
}

func buildOptions(opts []Option) options {
	o := options{fallback: records.FallbackFalsy}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewModel binds rec to schema. Each field takes rec's value if the fallback
// policy accepts it, otherwise the schema default.
func NewModel(
	schema *records.Schema,
	rec records.Record,
	owner Owner,
	key Key,
	opts ...Option,
) (*Model, error) {
	if schema == nil {
		return nil, ErrNoSchema
	}
	o := buildOptions(opts)
	return newModel(schema, rec, owner, key, o.fallback), nil
}

func newModel(
	schema *records.Schema,
	rec records.Record,
	owner Owner,
	key Key,
	policy records.FallbackPolicy,
) *Model {
	return &Model{
		schema: schema,
		owner:  owner,
		key:    key,
		values: schema.Reconcile(rec, policy),
	}
}

// Key returns the key the model was assigned by its owner.
func (m *Model) Key() Key {
	return m.key
}

// Schema returns the model's schema.
func (m *Model) Schema() *records.Schema {
	return m.schema
}

// Get returns the field's current value, or nil for fields outside the schema.
func (m *Model) Get(field string) records.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[field]
}

// Set stores v and emits exactly one change notice to the owner.
func (m *Model) Set(field string, v records.Value) error {
	if !m.schema.Has(field) {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	m.mu.Lock()
	m.values[field] = v
	m.mu.Unlock()

	notify(m.owner, Notice{Type: Change, Key: m.key})
	return nil
}

// Str returns the field coerced to a string.
func (m *Model) Str(field string) string {
	return cast.ToString(m.Get(field))
}

// Int returns the field coerced to an int.
func (m *Model) Int(field string) int {
	return cast.ToInt(m.Get(field))
}

// Bool returns the field coerced to a bool.
func (m *Model) Bool(field string) bool {
	return cast.ToBool(m.Get(field))
}

// Record returns a copy of the model's current values.
func (m *Model) Record() records.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values.Clone()
}

// Dump serializes the model's values in schema order.
func (m *Model) Dump() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schema.Dump(m.values)
}

func (m *Model) String() string {
	return m.Dump()
}
