package bytecode

import "github.com/dolthub/swiss"

// MapValue is Obfusku's Map value: an insertion-ordered key/value
// collection where Set on an existing key replaces in place at the
// original position. Lookup is backed by a swiss-table map; a parallel
// key slice carries the insertion order a bare swiss.Map can't provide
// on its own.
type MapValue struct {
	index *swiss.Map[any, int] // hashKey() -> position in keys/values
	keys  []Value
	values []Value
}

// NewMapValue returns an empty map with initial capacity for at least
// size entries.
func NewMapValue(size int) *MapValue {
	if size < 1 {
		size = 1
	}
	return &MapValue{
		index: swiss.NewMap[any, int](uint32(size)),
	}
}

// Get looks up key, returning (value, true) if present. A missing key is
// not an error at the opcode layer: MapGet pushes Null on miss.
func (m *MapValue) Get(key Value) (Value, bool) {
	if !key.Hashable() {
		return Null(), false
	}
	i, ok := m.index.Get(key.hashKey())
	if !ok {
		return Null(), false
	}
	return m.values[i], true
}

// Set inserts key/value, or replaces the value in place if key already
// exists, preserving its original position.
func (m *MapValue) Set(key, value Value) {
	if !key.Hashable() {
		return
	}
	hk := key.hashKey()
	if i, ok := m.index.Get(hk); ok {
		m.values[i] = value
		return
	}
	m.index.Put(hk, len(m.keys))
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// Has reports key's presence.
func (m *MapValue) Has(key Value) bool {
	if !key.Hashable() {
		return false
	}
	_, ok := m.index.Get(key.hashKey())
	return ok
}

// Remove deletes key, shifting subsequent entries to keep insertion
// order and the index consistent.
func (m *MapValue) Remove(key Value) bool {
	if !key.Hashable() {
		return false
	}
	hk := key.hashKey()
	i, ok := m.index.Get(hk)
	if !ok {
		return false
	}
	m.index.Delete(hk)
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.values = append(m.values[:i], m.values[i+1:]...)
	for j := i; j < len(m.keys); j++ {
		m.index.Put(m.keys[j].hashKey(), j)
	}
	return true
}

// Keys returns keys in insertion order.
func (m *MapValue) Keys() []Value {
	out := make([]Value, len(m.keys))
	copy(out, m.keys)
	return out
}

// Values returns values in insertion order.
func (m *MapValue) Values() []Value {
	out := make([]Value, len(m.values))
	copy(out, m.values)
	return out
}

// Len returns the entry count.
func (m *MapValue) Len() int { return len(m.keys) }

func (m *MapValue) equals(other *MapValue) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, k := range m.keys {
		if !k.Equals(other.keys[i]) || !m.values[i].Equals(other.values[i]) {
			return false
		}
	}
	return true
}

// Display renders the map's {k⇒v, ...} form in insertion order.
func (m *MapValue) Display() string {
	parts := make([]string, len(m.keys))
	for i, k := range m.keys {
		parts[i] = k.Display() + "⇒" + m.values[i].Display()
	}
	return "{" + join(parts, ", ") + "}"
}
