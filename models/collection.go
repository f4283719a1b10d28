package models

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"unseen/records"

	"github.com/google/go-cmp/cmp"
)

// Collection owns a keyed set of models built from records, iterated in
// insertion order. Its length is always the number of keyed models.
type Collection struct {
	schema   *records.Schema
	owner    Owner
	fallback records.FallbackPolicy

	mu     sync.RWMutex
	models map[Key]*Model
	order  []Key
}

// NewCollection builds a collection of models for recs, keyed 0..N-1.
// No reset notice is emitted for the initial build.
func NewCollection(
	schema *records.Schema,
	recs []records.Record,
	owner Owner,
	opts ...Option,
) (*Collection, error) {
	if schema == nil {
		return nil, ErrNoSchema
	}
	o := buildOptions(opts)
	c := &Collection{
		schema:   schema,
		owner:    owner,
		fallback: o.fallback,
	}
	c.rebuild(recs)
	return c, nil
}

// SetOwner replaces the collection's owner. Views take ownership of the
// collections they render this way.
func (c *Collection) SetOwner(owner Owner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owner = owner
}

func (c *Collection) getOwner() Owner {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// Schema returns the schema shared by every model of the collection.
func (c *Collection) Schema() *records.Schema {
	return c.schema
}

func (c *Collection) rebuild(recs []records.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.models = make(map[Key]*Model, len(recs))
	c.order = make([]Key, 0, len(recs))
	for i, rec := range recs {
		key := IndexKey(i)
		c.models[key] = newModel(c.schema, rec, c, key, c.fallback)
		c.order = append(c.order, key)
	}
}

// Reset discards every model and rebuilds the collection from recs, keyed 0..N-1.
// A single reset notice is emitted.
func (c *Collection) Reset(recs []records.Record) {
	c.rebuild(recs)
	notify(c.getOwner(), Notice{Type: Reset})
}

// Set is the bulk replacement used when records arrive untyped, e.g. from a fetch.
// A nil payload is not an array and is rejected without touching the collection.
func (c *Collection) Set(recs []records.Record) error {
	if recs == nil {
		return records.ErrNotArray
	}
	c.Reset(recs)
	return nil
}

// Get returns the model at key, or nil if absent.
func (c *Collection) Get(key Key) *Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.models[key]
}

// At is shorthand for Get(IndexKey(i)).
func (c *Collection) At(i int) *Model {
	return c.Get(IndexKey(i))
}

// Len returns the number of models.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}

// Keys returns the model keys in iteration order.
func (c *Collection) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]Key, len(c.order))
	copy(keys, c.order)
	return keys
}

// Models returns the models in iteration order.
func (c *Collection) Models() []*Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	models := make([]*Model, 0, len(c.order))
	for _, k := range c.order {
		models = append(models, c.models[k])
	}
	return models
}

// Add inserts a model for rec at key. An empty key selects the next available
// integer key. An existing key is replaced in place. The key used is returned.
func (c *Collection) Add(key Key, rec records.Record) (Key, error) {
	c.mu.Lock()
	if key == "" {
		key = c.nextKey()
	}
	if !validKey(key) {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if _, ok := c.models[key]; !ok {
		c.order = append(c.order, key)
	}
	c.models[key] = newModel(c.schema, rec, c, key, c.fallback)
	owner := c.owner
	c.mu.Unlock()

	notify(owner, Notice{Type: Add, Key: key})
	return key, nil
}

// nextKey must be called with the lock held.
func (c *Collection) nextKey() Key {
	for n := len(c.models); ; n++ {
		key := Key(strconv.Itoa(n))
		if _, ok := c.models[key]; !ok {
			return key
		}
	}
}

// Remove deletes the model at key, reporting whether it was present.
func (c *Collection) Remove(key Key) bool {
	c.mu.Lock()
	if _, ok := c.models[key]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.models, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	owner := c.owner
	c.mu.Unlock()

	notify(owner, Notice{Type: Remove, Key: key})
	return true
}

// Notify re-emits change notices from child models to the collection's owner, unmodified.
func (c *Collection) Notify(n Notice) {
	notify(c.getOwner(), n)
}

// Equal reports whether resetting the collection with recs would reproduce
// its current models, in order.
func (c *Collection) Equal(recs []records.Record) bool {
	models := c.Models()
	if len(models) != len(recs) {
		return false
	}
	for i, m := range models {
		if !cmp.Equal(m.Record(), c.schema.Reconcile(recs[i], c.fallback)) {
			return false
		}
	}
	return true
}

// Fetcher retrieves records. onSuccess is called only when records were
// obtained, and never on failure.
type Fetcher interface {
	Fetch(ctx context.Context, onSuccess func([]records.Record))
}

// Fetch replaces the collection's models with the fetched records. On failure
// the collection is left untouched.
func (c *Collection) Fetch(ctx context.Context, f Fetcher) {
	f.Fetch(ctx, func(recs []records.Record) {
		if recs == nil {
			recs = []records.Record{}
		}
		c.Reset(recs)
	})
}
