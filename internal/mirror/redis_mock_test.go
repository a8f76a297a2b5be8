package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHGetAll(t *testing.T) {
	ctx := context.Background()
	store := NewMockRedisClient()
	res := store.HGetAll(ctx, "test")
	val, err := res.Result()
	require.NoError(t, err)
	assert.Equal(t, 0, len(val))
}

func TestHSetDel(t *testing.T) {
	ctx := context.Background()
	store := NewMockRedisClient()
	res1 := store.HSet(ctx, "test", "f1", "v1", "f2", "v2")
	_, err := res1.Result()
	require.NoError(t, err)
	res2 := store.HGetAll(ctx, "test")
	val, err := res2.Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, val)
	res3 := store.Del(ctx, "test")
	_, err = res3.Result()
	require.NoError(t, err)
	res4 := store.HGetAll(ctx, "test")
	val, err = res4.Result()
	require.NoError(t, err)
	assert.Equal(t, 0, len(val))
}

func TestHSetOddValues(t *testing.T) {
	store := NewMockRedisClient()
	_, err := store.HSet(context.Background(), "test", "f1").Result()
	assert.Error(t, err)
}

func TestExpireAt(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMockRedisClient()
	store.now = func() time.Time { return now }

	ok, err := store.ExpireAt(ctx, "missing", now.Add(time.Minute)).Result()
	require.NoError(t, err)
	assert.False(t, ok)

	store.HSet(ctx, "test", "f1", "v1")
	ok, err = store.ExpireAt(ctx, "test", now.Add(time.Minute)).Result()
	require.NoError(t, err)
	assert.True(t, ok)
	val, _ := store.HGetAll(ctx, "test").Result()
	assert.Len(t, val, 1)

	now = now.Add(time.Minute)
	val, _ = store.HGetAll(ctx, "test").Result()
	assert.Len(t, val, 0)
}

func TestPersist(t *testing.T) {
	ctx := context.Background()
	store := NewMockRedisClient()
	store.HSet(ctx, "test", "f1", "v1")
	store.ExpireAt(ctx, "test", time.Now().Add(time.Hour))
	ok, err := store.Persist(ctx, "test").Result()
	require.NoError(t, err)
	assert.True(t, ok)
	_, found := store.TTL("test")
	assert.False(t, found)
}
