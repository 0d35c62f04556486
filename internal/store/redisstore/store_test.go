package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/cyberguard/internal/throttle"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestSwap(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	prev, existed, err := s.Swap(ctx, "k", "a")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Empty(t, prev)

	prev, existed, err = s.Swap(ctx, "k", "b")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "a", prev)

	assert.Equal(t, time.Hour, mr.TTL("k"))
}

func TestSwap_BacksThrottle(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	th := throttle.New(s)

	ok, err := th.ShouldReport(ctx, 3, "X")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = th.ShouldReport(ctx, 3, "X")
	require.NoError(t, err)
	assert.False(t, ok)
}
