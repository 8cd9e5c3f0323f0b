package cache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/namedb/internal/cache"
)

func TestEntryRoundTrip(t *testing.T) {
	c, err := cache.New(16, 1<<20)
	require.NoError(t, err)

	_, ok := c.GetEntry("missing")
	require.False(t, ok)

	c.SetEntry("name:foo@100", 42)
	v, ok := c.GetEntry("name:foo@100")
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestPageRoundTrip(t *testing.T) {
	c, err := cache.New(16, 1<<20)
	require.NoError(t, err)

	c.SetPage("names@100", []byte("a,b,c"))
	buf, ok := c.GetPage("names@100")
	require.True(t, ok)
	require.Equal(t, []byte("a,b,c"), buf)
}

func TestInvalidateClearsBothCaches(t *testing.T) {
	c, err := cache.New(16, 1<<20)
	require.NoError(t, err)

	c.SetEntry("e", 1)
	c.SetPage("p", []byte("x"))
	c.Invalidate()

	_, ok := c.GetEntry("e")
	require.False(t, ok)
	_, ok = c.GetPage("p")
	require.False(t, ok)
}
