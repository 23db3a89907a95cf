// SPDX-License-Identifier: MPL-2.0

package execctx

import (
	"maps"
	"slices"
	"sync"
)

type (
	// Store holds the values behind a registry's named cells. Every unit
	// loaded by the same registry shares one Store.
	Store struct {
		mu    sync.RWMutex
		slots map[string]any
	}

	// Dict is a mutable string-keyed map safe for concurrent use. Dict-valued
	// slots (options, facts, call-scoped state) are shared by reference, so a
	// write through one unit is visible to every other unit of the registry.
	Dict struct {
		mu sync.RWMutex
		m  map[string]any
	}
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{slots: make(map[string]any)}
}

// Get returns the value packed under name.
func (s *Store) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.slots[name]
	return v, ok
}

// Set packs v under name, replacing any previous value.
func (s *Store) Set(name string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[name] = v
}

// Has reports whether name is packed.
func (s *Store) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Names returns the packed slot names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.slots))
}

// NewDict creates a Dict holding a deep copy of m.
func NewDict(m map[string]any) *Dict {
	d := &Dict{m: make(map[string]any, len(m))}
	for k, v := range m {
		d.m[k] = DeepCopy(v)
	}
	return d
}

// Get returns the value stored under key.
func (d *Dict) Get(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.m[key]
	return v, ok
}

// Set stores v under key.
func (d *Dict) Set(key string, v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = v
}

// Delete removes key and reports whether it was present.
func (d *Dict) Delete(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.m[key]
	delete(d.m, key)
	return ok
}

// Keys returns the stored keys in sorted order.
func (d *Dict) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.m))
}

// Len returns the number of stored keys.
func (d *Dict) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.m)
}

// Snapshot returns a deep copy of the contents.
func (d *Dict) Snapshot() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]any, len(d.m))
	for k, v := range d.m {
		out[k] = DeepCopy(v)
	}
	return out
}

// Update merges m into the dict, overwriting existing keys.
func (d *Dict) Update(m map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range m {
		d.m[k] = v
	}
}

// DeepCopy copies nested maps and slices of the shapes produced by config
// decoding. Other values, including *Dict and *Cell, are returned as is.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = DeepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = DeepCopy(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}
