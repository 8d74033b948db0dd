package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	_, ok := c.Get("mods/1", time.Minute)
	assert.False(t, ok)

	require.NoError(t, c.Put("mods/1", []byte(`{"id":1}`)))
	data, ok := c.Get("mods/1", time.Minute)
	require.True(t, ok)
	assert.Equal(t, `{"id":1}`, string(data))

	_, ok = c.Get("mods/2", time.Minute)
	assert.False(t, ok)
}

func TestGetExpired(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	clock := time.Now()
	c.now = func() time.Time { return clock }
	require.NoError(t, c.Put("k", []byte("v")))

	clock = clock.Add(11 * time.Minute)
	_, ok := c.Get("k", 10*time.Minute)
	assert.False(t, ok)

	_, ok = c.Get("k", 0)
	assert.True(t, ok)
}

func TestSizeAndClear(t *testing.T) {
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	require.NoError(t, c.Put("a", []byte("12345")))
	require.NoError(t, c.Put("b", []byte("123")))

	size, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	require.NoError(t, c.Clear())
	size, err = c.Size()
	require.NoError(t, err)
	assert.Zero(t, size)

	require.NoError(t, c.Put("a", []byte("x")))
	_, ok := c.Get("a", time.Minute)
	assert.True(t, ok)
}
