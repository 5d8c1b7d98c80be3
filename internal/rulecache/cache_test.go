package rulecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsCapacity(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultCapacity, c.capacity)

	c = New(-5)
	assert.Equal(t, DefaultCapacity, c.capacity)
}

func TestSetGet(t *testing.T) {
	c := New(10)
	c.Set("example.com", Block, 0)

	entry, found := c.Get("example.com")
	require.True(t, found)
	assert.Equal(t, Block, entry.Action)

	_, found = c.Get("missing.example.com")
	assert.False(t, found)
}

func TestLazyExpiration(t *testing.T) {
	c := New(10)
	c.Set("example.com", Allow, 0)
	c.data["example.com"].entry.TTL = time.Millisecond

	time.Sleep(5 * time.Millisecond)

	_, found := c.Get("example.com")
	assert.False(t, found, "expired entry must not be returned")
}

func TestClearInvalidatesAll(t *testing.T) {
	c := New(10)
	c.Set("a.example.com", Allow, 0)
	c.Set("b.example.com", Block, 0)

	c.Clear()

	_, found := c.Get("a.example.com")
	assert.False(t, found)
	_, found = c.Get("b.example.com")
	assert.False(t, found)
}

func TestEvictionUnderCapacity(t *testing.T) {
	c := New(2)
	c.Set("a.example.com", Allow, 0)
	c.Set("b.example.com", Allow, 0)
	c.Set("c.example.com", Allow, 0)

	_, found := c.Get("a.example.com")
	assert.False(t, found, "oldest entry should have been evicted")
	_, found = c.Get("c.example.com")
	assert.True(t, found)
}

func TestAdaptiveTTLThresholds(t *testing.T) {
	assert.Equal(t, BaselineTTL, AdaptiveTTL(0))
	assert.Equal(t, BaselineTTL, AdaptiveTTL(49))
	assert.Equal(t, time.Duration(float64(BaselineTTL)*1.5), AdaptiveTTL(50))
	assert.Equal(t, BaselineTTL*2, AdaptiveTTL(100))
	assert.Equal(t, BaselineTTL*4, AdaptiveTTL(500))
	assert.Equal(t, BaselineTTL*8, AdaptiveTTL(1000))
	assert.Equal(t, BaselineTTL*8, AdaptiveTTL(1_000_000))
}
