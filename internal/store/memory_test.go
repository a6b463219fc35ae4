package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPushPopFIFO(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	require.NoError(t, m.Push(ctx, "k", []byte("first")))
	require.NoError(t, m.Push(ctx, "k", []byte("second")))
	require.NoError(t, m.Push(ctx, "k", []byte("third")))

	for _, want := range []string{"first", "second", "third"} {
		got, err := m.Pop(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	got, err := m.Pop(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got, "empty key pops nil without error")
}

func TestMemoryPopMissingKey(t *testing.T) {
	m := NewMemory(time.Hour)
	got, err := m.Pop(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryPushMulti(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	require.NoError(t, m.PushMulti(ctx, "k", [][]byte{[]byte("a"), []byte("b")}))

	n, err := m.Len(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := m.Pop(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))
}

func TestMemoryTTLEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	current := time.Now().UTC()
	m.now = func() time.Time { return current }

	require.NoError(t, m.Push(ctx, "k", []byte("v")))

	current = current.Add(30 * time.Second)
	n, err := m.Len(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	current = current.Add(2 * time.Minute)
	got, err := m.Pop(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got, "expired key reads as empty")
}

func TestMemoryPushRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	current := time.Now().UTC()
	m.now = func() time.Time { return current }

	require.NoError(t, m.Push(ctx, "k", []byte("old")))
	current = current.Add(45 * time.Second)
	require.NoError(t, m.Push(ctx, "k", []byte("new")))
	current = current.Add(45 * time.Second)

	n, err := m.Len(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "second push moved the deadline")
}

func TestMemoryKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	require.NoError(t, m.Push(ctx, "agent_queue:w1", []byte("v")))
	require.NoError(t, m.Push(ctx, "agent_queue:w2", []byte("v")))
	require.NoError(t, m.Push(ctx, "agent_priority:w1", []byte("v")))

	keys, err := m.Keys(ctx, "agent_queue:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"agent_queue:w1", "agent_queue:w2"}, keys)
}

func TestMemoryEntriesAndReplace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	require.NoError(t, m.Push(ctx, "k", []byte("a")))
	require.NoError(t, m.Push(ctx, "k", []byte("b")))
	require.NoError(t, m.Push(ctx, "k", []byte("c")))

	entries, err := m.Entries(ctx, "k")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", string(entries[0]), "oldest first")

	require.NoError(t, m.Replace(ctx, "k", [][]byte{[]byte("a"), []byte("c")}))
	got, err := m.Pop(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))
	got, err = m.Pop(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "c", string(got))
}

func TestMemoryReplaceEmptyRemovesKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	require.NoError(t, m.Push(ctx, "k", []byte("v")))
	require.NoError(t, m.Replace(ctx, "k", nil))

	keys, err := m.Keys(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	require.NoError(t, m.Push(ctx, "k", []byte("v")))
	require.NoError(t, m.Remove(ctx, "k"))
	require.NoError(t, m.Remove(ctx, "k"), "removing a missing key is fine")

	n, err := m.Len(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryPing(t *testing.T) {
	m := NewMemory(time.Hour)
	assert.NoError(t, m.Ping(context.Background()))
}
