// Package keycache memoizes expensive key imports keyed by immutable secret material.
package keycache

import "sync"

// Cache maps secret material to a derived key. Entries are never mutated or
// evicted; a concurrent duplicate derivation only costs the extra work.
type Cache[V any] struct {
	m    sync.Map
	load func(material string) (V, error)
}

// New constructs a cache that derives missing entries with load.
func New[V any](load func(material string) (V, error)) *Cache[V] {
	return &Cache[V]{load: load}
}

// Get returns the cached key for material, deriving it on first use.
// Failed derivations are not cached.
func (c *Cache[V]) Get(material string) (V, error) {
	if v, ok := c.m.Load(material); ok {
		return v.(V), nil
	}
	v, err := c.load(material)
	if err != nil {
		var zero V
		return zero, err
	}
	actual, _ := c.m.LoadOrStore(material, v)
	return actual.(V), nil
}

// Len reports the number of cached entries.
func (c *Cache[V]) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
