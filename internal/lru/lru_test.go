package lru

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetOrBuildCachesOnFirstCall(t *testing.T) {
	c := New(2)
	calls := 0
	build := func() string {
		calls++
		return "select 1"
	}

	v1 := c.GetOrBuild(10, build)
	v2 := c.GetOrBuild(10, build)
	assert.Equal(t, "select 1", v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)
	c.Put(1, "a")
	c.Put(2, "b")
	// touch 1 so 2 becomes LRU
	_, _ = c.Get(1)
	c.Put(3, "c")

	_, ok := c.Get(2)
	assert.False(t, ok, "key 2 should have been evicted")
	v1, ok1 := c.Get(1)
	v3, ok3 := c.Get(3)
	assert.True(t, ok1)
	assert.True(t, ok3)
	assert.Equal(t, "a", v1)
	assert.Equal(t, "c", v3)
	assert.Equal(t, 2, c.Len())
}

func TestPutUpdatesExistingKey(t *testing.T) {
	c := New(3)
	c.Put(5, "first")
	c.Put(5, "second")
	v, ok := c.Get(5)
	assert.True(t, ok)
	assert.Equal(t, "second", v)
	assert.Equal(t, 1, c.Len())
}

func TestCapacityHonoredUnderSustainedInserts(t *testing.T) {
	c := New(4)
	for i := 0; i < 100; i++ {
		c.Put(i, fmt.Sprintf("sql-%d", i))
		assert.LessOrEqual(t, c.Len(), 4)
	}
	assert.Equal(t, 4, c.Len())
}
