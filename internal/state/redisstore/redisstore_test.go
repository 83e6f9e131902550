package redisstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentalon/aspri/internal/pending"
	"github.com/opentalon/aspri/internal/pending/pendingtest"
)

func newTestStore(t *testing.T) (*PendingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, ""), mr
}

func TestPendingStoreContract(t *testing.T) {
	pendingtest.Run(t, func(t *testing.T) pending.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestThreadPointerClearedOnTransition(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	a := pendingtest.NewAction("t1", 0)
	require.NoError(t, s.Stage(ctx, a))
	assert.True(t, mr.Exists(DefaultPrefix+"thread:t1"))

	require.NoError(t, s.Transition(ctx, a.ID, pending.StatusConfirmed, a.CreatedAt.Add(time.Minute)))
	assert.False(t, mr.Exists(DefaultPrefix+"thread:t1"))

	members, err := mr.ZMembers(DefaultPrefix + "expiry")
	if err == nil {
		assert.NotContains(t, members, a.ID)
	}
}

func TestResolvedActionsExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	s := New(rdb, "", WithRetention(time.Hour))
	ctx := context.Background()

	first := pendingtest.NewAction("t1", 0)
	require.NoError(t, s.Stage(ctx, first))
	assert.Zero(t, mr.TTL(DefaultPrefix+"action:"+first.ID), "pending actions do not expire")

	second := pendingtest.NewAction("t1", time.Second)
	require.NoError(t, s.Stage(ctx, second))
	assert.Equal(t, time.Hour, mr.TTL(DefaultPrefix+"action:"+first.ID), "superseded action gets a TTL")

	require.NoError(t, s.Transition(ctx, second.ID, pending.StatusConfirmed, second.CreatedAt.Add(time.Minute)))
	assert.Equal(t, time.Hour, mr.TTL(DefaultPrefix+"action:"+second.ID))

	mr.FastForward(time.Hour + time.Second)
	_, err := s.Get(ctx, second.ID)
	assert.ErrorIs(t, err, pending.ErrNotFound)
}

func TestStageSupersedesPreviousAction(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := pendingtest.NewAction("t1", 0)
	require.NoError(t, s.Stage(ctx, first))
	second := pendingtest.NewAction("t1", time.Second)
	require.NoError(t, s.Stage(ctx, second))

	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, pending.StatusCancelled, got.Status)

	open, err := s.OpenForThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, open.ID)
}

func TestDefaultKeysShareClusterSlot(t *testing.T) {
	s := New(nil, "")
	keys := []string{s.actionKey("a"), s.threadKey("t"), s.expiryKey()}
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "{aspri:pending}:"), k)
	}
}

func TestCustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	s := New(rdb, "test:")
	a := pendingtest.NewAction("t9", 0)
	require.NoError(t, s.Stage(context.Background(), a))
	assert.True(t, mr.Exists("test:action:"+a.ID))
}

func TestUnavailableServer(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()
	err := s.Stage(context.Background(), pendingtest.NewAction("t1", 0))
	assert.Error(t, err)
}
