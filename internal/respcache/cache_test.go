package respcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/hydraflow/internal/dnswire"
)

func TestNewDefaultsCapacity(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultCapacity, c.capacity)
}

func TestSetGetHitsAndMisses(t *testing.T) {
	c := New(10)
	key := Key{QName: "example.com", QType: dnswire.TypeA}
	c.Set(key, []byte("resp"), time.Minute)

	resp, age, found := c.Get(key)
	require.True(t, found)
	assert.Equal(t, []byte("resp"), resp)
	assert.Less(t, age, time.Second)

	_, _, found = c.Get(Key{QName: "other.com", QType: dnswire.TypeA})
	assert.False(t, found)

	hits, misses := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestGetExpiresLazily(t *testing.T) {
	c := New(10)
	key := Key{QName: "example.com", QType: dnswire.TypeA}
	c.Set(key, []byte("resp"), time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	_, _, found := c.Get(key)
	assert.False(t, found)
}

func TestSetZeroTTLNeverStores(t *testing.T) {
	c := New(10)
	key := Key{QName: "example.com", QType: dnswire.TypeA}
	c.Set(key, []byte("resp"), 0)

	_, _, found := c.Get(key)
	assert.False(t, found)
}

func TestEvictionUnderCapacity(t *testing.T) {
	c := New(2)
	a := Key{QName: "a.example.com", QType: dnswire.TypeA}
	b := Key{QName: "b.example.com", QType: dnswire.TypeA}
	d := Key{QName: "c.example.com", QType: dnswire.TypeA}
	c.Set(a, []byte("a"), time.Minute)
	c.Set(b, []byte("b"), time.Minute)
	c.Set(d, []byte("c"), time.Minute)

	_, _, found := c.Get(a)
	assert.False(t, found, "oldest entry should have been evicted")
	_, _, found = c.Get(d)
	assert.True(t, found)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	c := New(10)
	fresh := Key{QName: "fresh.example.com", QType: dnswire.TypeA}
	stale := Key{QName: "stale.example.com", QType: dnswire.TypeA}
	c.Set(fresh, []byte("f"), time.Minute)
	c.Set(stale, []byte("s"), time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	removed := c.Sweep()
	assert.Equal(t, 1, removed)

	_, _, found := c.Get(fresh)
	assert.True(t, found)
}

func TestServeRewritesTransactionIDAndTTL(t *testing.T) {
	resp := dnswire.SynthesizeBlockA(dnswire.Query{TransactionID: 0x1234, QName: "example.com", QType: dnswire.TypeA})

	out, err := Serve(resp, 5*time.Second, 0xABCD)
	require.NoError(t, err)

	id, err := dnswire.ExtractTransactionID(out)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xABCD), uint16(id[0])<<8|uint16(id[1]))
}
