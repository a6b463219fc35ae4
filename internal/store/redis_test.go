package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisWithClient(client, ttl)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisPushPopFIFO(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, time.Hour)

	require.NoError(t, r.Push(ctx, "agent_queue:w1", []byte("first")))
	require.NoError(t, r.Push(ctx, "agent_queue:w1", []byte("second")))
	require.NoError(t, r.Push(ctx, "agent_queue:w1", []byte("third")))

	for _, want := range []string{"first", "second", "third"} {
		got, err := r.Pop(ctx, "agent_queue:w1")
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	got, err := r.Pop(ctx, "agent_queue:w1")
	require.NoError(t, err)
	assert.Nil(t, got, "empty key pops nil without error")
}

func TestRedisPushSetsTTL(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t, time.Minute)

	require.NoError(t, r.Push(ctx, "agent_queue:w1", []byte("v")))
	assert.Greater(t, mr.TTL("agent_queue:w1"), time.Duration(0))

	mr.FastForward(2 * time.Minute)
	got, err := r.Pop(ctx, "agent_queue:w1")
	require.NoError(t, err)
	assert.Nil(t, got, "key evicted after TTL")
}

func TestRedisPushMulti(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, time.Hour)

	payloads := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	require.NoError(t, r.PushMulti(ctx, "agent_queue:w1", payloads))

	n, err := r.Len(ctx, "agent_queue:w1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := r.Pop(ctx, "agent_queue:w1")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got), "multi-push preserves order")
}

func TestRedisPing(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t, time.Hour)

	assert.NoError(t, r.Ping(ctx))

	mr.Close()
	assert.Error(t, r.Ping(ctx))
}

func TestRedisKeys(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, time.Hour)

	require.NoError(t, r.Push(ctx, "agent_queue:w1", []byte("v")))
	require.NoError(t, r.Push(ctx, "agent_queue:w2", []byte("v")))
	require.NoError(t, r.Push(ctx, "agent_priority:w1", []byte("v")))

	keys, err := r.Keys(ctx, "agent_priority:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"agent_priority:w1"}, keys)
}

func TestRedisEntriesAndReplace(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, time.Hour)

	require.NoError(t, r.Push(ctx, "k", []byte("a")))
	require.NoError(t, r.Push(ctx, "k", []byte("b")))
	require.NoError(t, r.Push(ctx, "k", []byte("c")))

	entries, err := r.Entries(ctx, "k")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", string(entries[0]), "oldest first")
	assert.Equal(t, "c", string(entries[2]))

	require.NoError(t, r.Replace(ctx, "k", [][]byte{[]byte("a"), []byte("c")}))
	got, err := r.Pop(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got), "replace keeps FIFO order")
	got, err = r.Pop(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "c", string(got))
}

func TestRedisRemove(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t, time.Hour)

	require.NoError(t, r.Push(ctx, "k", []byte("v")))
	require.NoError(t, r.Remove(ctx, "k"))
	assert.False(t, mr.Exists("k"))
}

func TestRedisReplaceEmptyRemovesKey(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t, time.Hour)

	require.NoError(t, r.Push(ctx, "k", []byte("v")))
	require.NoError(t, r.Replace(ctx, "k", nil))
	assert.False(t, mr.Exists("k"))
}
