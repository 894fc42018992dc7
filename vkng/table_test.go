package vkng

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urnvk/urn/gpu"
)

func TestTable(t *testing.T) {
	tbl := newTable[gpu.Buffer, string]("buffer")

	a := tbl.add("a")
	b := tbl.add("b")
	assert.NotZero(t, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, tbl.len())

	v, err := tbl.get(b)
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	_, err = tbl.get(0)
	assert.True(t, errors.HasAssertionFailure(err))

	v, ok := tbl.remove(a)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = tbl.remove(a)
	assert.False(t, ok)

	// Handles are never reused.
	assert.Greater(t, tbl.add("c"), b)
	assert.Panics(t, func() { tbl.must(a) })
}
