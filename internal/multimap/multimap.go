// Package multimap implements a keyed bag of values with stable
// insertion order, used to correlate a protocol-computed request hash
// with whichever id (request id or interception id) arrives first.
package multimap

import "sync"

// Map is a mapping from key to an ordered list of values.
type Map[K comparable, V any] struct {
	mu     sync.Mutex
	values map[K][]V
}

// New creates an empty Map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{values: make(map[K][]V)}
}

// Add appends v to the list stored under k.
func (m *Map[K, V]) Add(k K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[k] = append(m.values[k], v)
}

// Delete removes the first value stored under k for which eq returns
// true. It returns whether a value was removed.
func (m *Map[K, V]) Delete(k K, eq func(V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.values[k]
	for i, v := range list {
		if eq(v) {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(m.values, k)
			} else {
				m.values[k] = list
			}
			return true
		}
	}
	return false
}

// FirstValue returns the oldest value still present under k, if any.
func (m *Map[K, V]) FirstValue(k K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.values[k]
	if len(list) == 0 {
		var zero V
		return zero, false
	}
	return list[0], true
}

// IsEmpty reports whether the map holds no entries at all.
func (m *Map[K, V]) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values) == 0
}
