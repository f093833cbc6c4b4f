package multimap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStableInsertionOrder(t *testing.T) {
	m := New[string, string]()
	m.Add("h1", "a")
	m.Add("h1", "b")
	m.Add("h1", "c")

	v, ok := m.FirstValue("h1")
	require.True(t, ok)
	require.Equal(t, "a", v)

	require.True(t, m.Delete("h1", func(v string) bool { return v == "a" }))

	v, ok = m.FirstValue("h1")
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestDeleteMissingReturnsFalse(t *testing.T) {
	m := New[string, int]()
	require.False(t, m.Delete("missing", func(int) bool { return true }))
}

func TestEmptiesAfterLastDelete(t *testing.T) {
	m := New[string, int]()
	m.Add("k", 1)
	require.True(t, m.Delete("k", func(v int) bool { return v == 1 }))
	require.True(t, m.IsEmpty())
	_, ok := m.FirstValue("k")
	require.False(t, ok)
}
