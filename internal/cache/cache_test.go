package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetSet_RoundTrip(t *testing.T) {
	c := New[int]()
	c.Set("a", 42, time.Minute)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestGet_MissOnAbsentKey(t *testing.T) {
	c := New[string]()
	v, ok := c.Get("nope")
	require.False(t, ok)
	require.Equal(t, "", v)
}

func TestGet_ExpiredEntryIsMissAndRemoved(t *testing.T) {
	c := New[int]()
	c.Set("a", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len(), "expired entry should be discarded on read")
}

func TestSet_NonPositiveTTLStoresNothing(t *testing.T) {
	c := New[int]()
	c.Set("a", 1, 0)
	c.Set("b", 2, -time.Second)

	require.Equal(t, 0, c.Len())
}

func TestDelete(t *testing.T) {
	c := New[int]()
	c.Set("a", 1, time.Minute)
	c.Delete("a")

	_, ok := c.Get("a")
	require.False(t, ok)
}
