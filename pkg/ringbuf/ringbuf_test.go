package ringbuf

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushOverwritesOldest(t *testing.T) {
	b := New[int](3)

	assert.Equal(t, 0, b.Push(1, 2, 3))
	assert.Equal(t, []int{1, 2, 3}, b.Slice())

	assert.Equal(t, 2, b.Push(4, 5))
	assert.Equal(t, []int{3, 4, 5}, b.Slice())
	assert.Equal(t, 3, b.Len())
}

func TestLast(t *testing.T) {
	b := FromSlice(5, []string{"a", "b", "c", "d", "e", "f"})

	assert.Equal(t, []string{"e", "f"}, b.Last(2))
	assert.Equal(t, []string{"b", "c", "d", "e", "f"}, b.Last(10))
}

func TestJSONRoundTripTruncates(t *testing.T) {
	values := make([]int, 150)
	for i := range values {
		values[i] = i
	}
	data, err := json.Marshal(values)
	require.NoError(t, err)

	var b Buffer[int]
	require.NoError(t, json.Unmarshal(data, &b))

	assert.Equal(t, DefaultCapacity, b.Len())
	assert.Equal(t, 50, b.Slice()[0])
	assert.Equal(t, 149, b.Slice()[DefaultCapacity-1])

	out, err := json.Marshal(&b)
	require.NoError(t, err)

	var back []int
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, values[50:], back)
}

func TestReset(t *testing.T) {
	b := FromSlice(2, []int{1, 2})
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Slice())
}
