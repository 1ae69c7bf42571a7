// Package models maintains the gateway's model catalog: the mapping from
// a bare or provider-qualified model id to the provider that serves it.
package models

import "sync/atomic"

// Info is the normalized metadata stored for each discovered model.
type Info struct {
	ProviderName string
	Created      int64
	OwnedBy      string
	DisplayName  string
}

// Map is an immutable snapshot of the model catalog, keyed by model id.
// A bare id (no "/") was discovered from a provider's /models endpoint; a
// "provider/model" id was explicitly declared in configuration.
type Map map[string]Info

// Catalog holds the current Map behind an atomic pointer so readers never
// observe a torn update while a background refresh is in flight.
type Catalog struct {
	current atomic.Pointer[Map]
}

// NewCatalog returns a Catalog seeded with an empty map.
func NewCatalog() *Catalog {
	c := &Catalog{}
	empty := Map{}
	c.current.Store(&empty)
	return c
}

// Load returns the current snapshot.
func (c *Catalog) Load() Map {
	return *c.current.Load()
}

// Store atomically swaps in a new snapshot.
func (c *Catalog) Store(m Map) {
	c.current.Store(&m)
}

// Lookup resolves an id to its Info, as stored by Store.
func (c *Catalog) Lookup(id string) (Info, bool) {
	m := c.Load()
	info, ok := m[id]
	return info, ok
}
