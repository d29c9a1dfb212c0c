package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapValueInsertionOrderAndSetInPlace(t *testing.T) {
	m := NewMapValue(4)
	m.Set(StringVal("a"), IntVal(1))
	m.Set(StringVal("b"), IntVal(2))
	m.Set(StringVal("a"), IntVal(99)) // replace in place, position unchanged

	keys := m.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, "a", keys[0].AsString())
	assert.Equal(t, "b", keys[1].AsString())

	v, ok := m.Get(StringVal("a"))
	require.True(t, ok)
	assert.Equal(t, int64(99), v.AsInt())
}

func TestMapValueGetMissingIsNotError(t *testing.T) {
	m := NewMapValue(1)
	v, ok := m.Get(StringVal("missing"))
	assert.False(t, ok)
	assert.Equal(t, TNull, v.Type)
}

func TestMapValueRemovePreservesOrder(t *testing.T) {
	m := NewMapValue(4)
	m.Set(StringVal("a"), IntVal(1))
	m.Set(StringVal("b"), IntVal(2))
	m.Set(StringVal("c"), IntVal(3))

	require.True(t, m.Remove(StringVal("b")))
	keys := m.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, "a", keys[0].AsString())
	assert.Equal(t, "c", keys[1].AsString())
}
