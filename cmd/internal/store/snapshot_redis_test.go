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

func newMiniredisSnapshotter(t *testing.T) (*RedisSnapshotter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	snap, err := NewRedisSnapshotter(rdb, "")
	require.NoError(t, err)
	return snap, mr
}

func TestRedisSnapshotter_RoundTrip(t *testing.T) {
	t.Parallel()

	snap, mr := newMiniredisSnapshotter(t)
	ctx := context.Background()

	data, err := snap.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, snap.Save(ctx, []byte(`{"group_counter":3}`)))
	got, err := mr.Get(DefaultRedisKey)
	require.NoError(t, err)
	assert.Equal(t, `{"group_counter":3}`, got)

	s, err := Open(ctx, snap, nil)
	require.NoError(t, err)
	s.Read(func(st *State) { assert.Equal(t, 3, st.GroupCounter) })
	require.NoError(t, snap.Ping(ctx))
}

func TestRedisSnapshotter_MalformedBackup(t *testing.T) {
	t.Parallel()

	snap, mr := newMiniredisSnapshotter(t)
	require.NoError(t, mr.Set(DefaultRedisKey, "not json"))

	at := time.UnixMilli(1700000000000).UTC()
	s, err := Open(context.Background(), snap, nil, WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	s.Read(func(st *State) { assert.Empty(t, st.Identities) })

	got, err := mr.Get(DefaultRedisKey + ":bak:1700000000000")
	require.NoError(t, err)
	assert.Equal(t, "not json", got)
}
