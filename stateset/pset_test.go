package stateset

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSet(t *testing.T) {
	empty := EmptySet[int]()
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, true, empty.IsEmpty())

	a := empty.Add(1).Add(2).Add(3)
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, true, a.Contains(2))
	assert.Equal(t, false, a.Contains(4))
	assert.Equal(t, true, a.ContainsAll([]int{1, 2, 3}))
	assert.Equal(t, false, a.ContainsAll([]int{1, 4}))

	// the original is unchanged
	assert.Equal(t, 0, empty.Len())

	// no-op edits return the receiver
	assert.Equal(t, true, a == a.Add(2))
	assert.Equal(t, true, a == a.Remove(9))
	assert.Equal(t, true, a == a.AddAll([]int{1, 2, 3}))
	assert.Equal(t, true, a == a.RemoveAll([]int{8, 9}))

	b := a.Remove(2)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, false, b.Contains(2))
	assert.Equal(t, true, a.Contains(2))

	assert.Equal(t, true, a.Equal(NewSet(3, 2, 1)))
	assert.Equal(t, false, a.Equal(b))
	assert.Equal(t, false, a.Equal(NewSet(1, 2, 4)))

	values := a.Values()
	assert.Equal(t, 3, len(values))
	assert.Equal(t, true, a.ContainsAll(values))
}

func TestSetBuilder(t *testing.T) {
	a := NewSet(1, 2, 3, 4)

	builder := a.Builder()
	builder.Remove(1)
	builder.Add(5)
	assert.Equal(t, true, builder.Contains(5))
	assert.Equal(t, 4, builder.Len())
	b := builder.Build()
	assert.Equal(t, true, b.Equal(NewSet(2, 3, 4, 5)))
	assert.Equal(t, true, a.Equal(NewSet(1, 2, 3, 4)))

	// a builder with no effective edits builds the original set
	builder = a.Builder()
	builder.Add(1)
	builder.Remove(9)
	assert.Equal(t, true, a == builder.Build())

	builder = a.Builder()
	keep := NewSet(2, 4)
	builder.Retain(keep.Contains)
	assert.Equal(t, true, builder.Build().Equal(keep))
}
