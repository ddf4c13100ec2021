package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTier_SetGet(t *testing.T) {
	lt := newLocalTier(8, time.Minute)
	defer lt.close()

	lt.set("k", []byte("v"), time.Minute)

	val, ok := lt.get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	_, ok = lt.get("missing")
	assert.False(t, ok)
}

func TestLocalTier_Expiry(t *testing.T) {
	lt := newLocalTier(8, time.Minute)
	defer lt.close()

	lt.set("k", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := lt.get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, lt.len())
}

func TestLocalTier_LRUEviction(t *testing.T) {
	lt := newLocalTier(3, time.Minute)
	defer lt.close()

	lt.set("a", []byte("1"), time.Minute)
	time.Sleep(time.Millisecond)
	lt.set("b", []byte("2"), time.Minute)
	time.Sleep(time.Millisecond)
	lt.set("c", []byte("3"), time.Minute)
	time.Sleep(time.Millisecond)

	// Touch "a" so "b" becomes the least recently used entry.
	_, ok := lt.get("a")
	require.True(t, ok)
	time.Sleep(time.Millisecond)

	lt.set("d", []byte("4"), time.Minute)

	_, ok = lt.get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = lt.get("a")
	assert.True(t, ok)
	_, ok = lt.get("d")
	assert.True(t, ok)
	assert.Equal(t, 3, lt.len())
}

func TestLocalTier_ResizeEvictsDown(t *testing.T) {
	lt := newLocalTier(16, time.Minute)
	defer lt.close()

	for i := 0; i < 16; i++ {
		lt.set(fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}
	require.Equal(t, 16, lt.len())

	lt.resize(4)
	assert.Equal(t, 4, lt.len())
}

func TestLocalTier_Counters(t *testing.T) {
	lt := newLocalTier(8, time.Minute)
	defer lt.close()

	lt.set("k", []byte("v"), time.Minute)
	lt.get("k")
	lt.get("k")
	lt.get("missing")

	hits, misses := lt.counters()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLocalTier_Flush(t *testing.T) {
	lt := newLocalTier(8, time.Minute)
	defer lt.close()

	lt.set("a", []byte("1"), time.Minute)
	lt.set("b", []byte("2"), time.Minute)
	lt.flush()

	assert.Equal(t, 0, lt.len())
}
