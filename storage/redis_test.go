package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/transformer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestRedisStorage_Store(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()
	rs, err := NewRedisStorage(ctx, "redis://"+mr.Addr()+"/0", "", logger.Nop())
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, "redis", rs.Name())

	require.NoError(t, rs.Store(ctx, sampleResult("a")))
	require.NoError(t, rs.Store(ctx, sampleResult("b")))

	values, err := mr.DB(0).List(DefaultRedisKey)
	require.NoError(t, err)
	require.Len(t, values, 2)

	var got transformer.Stats
	require.NoError(t, msgpack.Unmarshal([]byte(values[0]), &got))
	want := sampleResult("a").Stats
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.PercentUsed, got.PercentUsed)
	assert.Equal(t, want.NumberOfVMs, got.NumberOfVMs)
	assert.True(t, want.CollectedAt.Equal(got.CollectedAt))
}

func TestRedisStorage_CustomKey(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()
	rs, err := NewRedisStorage(ctx, "redis://"+mr.Addr(), "capacity", logger.Nop())
	require.NoError(t, err)
	defer rs.Close()

	require.NoError(t, rs.Store(ctx, sampleResult("a")))
	assert.True(t, mr.Exists("capacity"))
	assert.False(t, mr.Exists(DefaultRedisKey))
}

func TestRedisStorage_StoreFailsWhenServerGone(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	ctx := context.Background()
	rs, err := NewRedisStorage(ctx, "redis://"+mr.Addr(), "", logger.Nop())
	require.NoError(t, err)
	defer rs.Close()

	mr.Close()
	assert.Error(t, rs.Store(ctx, sampleResult("a")))
}

func TestNewRedisStorage_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewRedisStorage(ctx, "not a url", "", logger.Nop())
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStorage(ctx, "redis://"+addr, "", logger.Nop())
	assert.Error(t, err)
}
