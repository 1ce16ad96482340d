package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	val, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	require.NoError(t, m.Delete(ctx, "k"))
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))

	now = now.Add(59 * time.Second)
	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "not yet expired")

	now = now.Add(2 * time.Second)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired keys read as absent")
}

func TestMemoryExpireExistingKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.SetAdd(ctx, "members", "alice"))
	require.NoError(t, m.Expire(ctx, "members", time.Minute))

	now = now.Add(2 * time.Minute)
	ok, err := m.SetContains(ctx, "members", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	// Expire on an absent key is a no-op, not an error.
	require.NoError(t, m.Expire(ctx, "nothing", time.Minute))
}

func TestMemorySetOperations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SetAdd(ctx, "s", "a", "b"))
	require.NoError(t, m.SetAdd(ctx, "s", "b", "c"))

	members, err := m.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	ok, err := m.SetContains(ctx, "s", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.SetRemove(ctx, "s", "a", "c"))
	members, err = m.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}

func TestMemoryEmptySetEqualsAbsentKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SetAdd(ctx, "s", "only"))
	require.NoError(t, m.Expire(ctx, "s", time.Hour))
	require.NoError(t, m.SetRemove(ctx, "s", "only"))

	members, err := m.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, members)

	// Removing the last member drops the key and its TTL with it: a
	// later re-add must not inherit the old deadline.
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	require.NoError(t, m.SetAdd(ctx, "s", "fresh"))
	now = now.Add(2 * time.Hour)
	ok, err := m.SetContains(ctx, "s", "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryListPushTrimAndRange(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, v := range []string{"one", "two", "three", "four"} {
		require.NoError(t, m.ListPush(ctx, "log", v, 3, 0))
	}

	// Newest first, capped at maxLen.
	items, err := m.ListRange(ctx, "log", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"four", "three", "two"}, items)

	items, err = m.ListRange(ctx, "log", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"four", "three"}, items)

	items, err = m.ListRange(ctx, "log", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = m.ListRange(ctx, "missing", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryListSetIfEqual(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.ListPush(ctx, "log", "a", 10, 0))
	require.NoError(t, m.ListPush(ctx, "log", "b", 10, 0))

	swapped, err := m.ListSetIfEqual(ctx, "log", 1, "a", "a2")
	require.NoError(t, err)
	assert.True(t, swapped)

	// A push shifts every index; the stale write must be refused.
	require.NoError(t, m.ListPush(ctx, "log", "c", 10, 0))
	swapped, err = m.ListSetIfEqual(ctx, "log", 0, "b", "wrong")
	require.NoError(t, err)
	assert.False(t, swapped)

	items, err := m.ListRange(ctx, "log", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a2"}, items)

	swapped, err = m.ListSetIfEqual(ctx, "log", 9, "a2", "x")
	require.NoError(t, err)
	assert.False(t, swapped, "out-of-range index writes nothing")

	swapped, err = m.ListSetIfEqual(ctx, "missing", 0, "a", "x")
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestMemoryHashOperations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.HashSet(ctx, "h", "f1", "v1"))
	require.NoError(t, m.HashSet(ctx, "h", "f2", "v2"))
	require.NoError(t, m.HashSet(ctx, "h", "f1", "v1b"))

	val, ok, err := m.HashGet(ctx, "h", "f1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1b", val)

	_, ok, err = m.HashGet(ctx, "h", "f3")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := m.HashGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1b", "f2": "v2"}, all)

	require.NoError(t, m.HashDelete(ctx, "h", "f1", "f2"))
	all, err = m.HashGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryPubSub(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sub, err := m.Subscribe(ctx, "ch1", "ch2")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, m.Publish(ctx, "ch1", []byte("hello")))
	require.NoError(t, m.Publish(ctx, "ch3", []byte("unheard")))
	require.NoError(t, m.Publish(ctx, "ch2", []byte("world")))

	msg := <-sub.Messages()
	assert.Equal(t, "ch1", msg.Channel)
	assert.Equal(t, []byte("hello"), msg.Payload)

	msg = <-sub.Messages()
	assert.Equal(t, "ch2", msg.Channel)
	assert.Equal(t, []byte("world"), msg.Payload)

	select {
	case extra := <-sub.Messages():
		t.Fatalf("unexpected message on closed channel set: %+v", extra)
	default:
	}
}

func TestMemorySubscriptionClose(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sub, err := m.Subscribe(ctx, "ch")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "close is idempotent")

	// Publishing after close must not panic or block.
	require.NoError(t, m.Publish(ctx, "ch", []byte("late")))

	_, open := <-sub.Messages()
	assert.False(t, open, "message channel closes with the subscription")
}
