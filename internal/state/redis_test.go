package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eures-rank/internal/domain"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("EURES_TEST_REDIS_URL")
	if url == "" {
		t.Skip("EURES_TEST_REDIS_URL not set")
	}
	client, err := NewRedisClient(context.Background(), url)
	require.NoError(t, err)
	s := NewRedisStore(client, "eures-rank-test:")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	require.NoError(t, s.Delete(ctx, KeySession))

	var got map[string]string
	ok, err := s.Get(ctx, KeySession, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, KeySession, map[string]string{"cookie": "c", "token": "t"}))
	ok, err = s.Get(ctx, KeySession, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t", got["token"])
	require.NoError(t, s.Delete(ctx, KeySession))
}

func TestRedisStoreLock(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	s.lockTTL = 300 * time.Millisecond
	other := NewRedisStore(s.client, s.prefix)
	require.NoError(t, s.client.Del(ctx, s.prefix+"lock:"+LockVectorize).Err())

	unlock, err := s.Lock(ctx, LockVectorize)
	require.NoError(t, err)

	// held past several TTLs by the refresher
	time.Sleep(time.Second)
	_, err = other.Lock(ctx, LockVectorize)
	assert.ErrorIs(t, err, domain.ErrLocked)

	require.NoError(t, unlock())
	require.NoError(t, unlock())
	unlock, err = other.Lock(ctx, LockVectorize)
	require.NoError(t, err)

	// a stale holder must not release somebody else's lock
	require.NoError(t, s.client.Set(ctx, s.prefix+"lock:"+LockVectorize, "foreign", time.Minute).Err())
	require.NoError(t, unlock())
	val, err := s.client.Get(ctx, s.prefix+"lock:"+LockVectorize).Result()
	require.NoError(t, err)
	assert.Equal(t, "foreign", val)
	require.NoError(t, s.client.Del(ctx, s.prefix+"lock:"+LockVectorize).Err())
}
