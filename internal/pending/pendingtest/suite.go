// Package pendingtest holds the behaviour every pending.Store must show.
package pendingtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/intent"
	"github.com/opentalon/aspri/internal/pending"
)

var base = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

// NewAction builds a pending action created at base+offset.
func NewAction(thread string, offset time.Duration) *pending.Action {
	created := base.Add(offset)
	return &pending.Action{
		ID:         uuid.NewString(),
		UserID:     "user-1",
		ThreadID:   thread,
		ActionType: "create_transaction",
		Module:     capability.ModuleFinance,
		Payload:    intent.Entities{"amount": float64(50000), "tx_type": "expense", "tags": []any{"a"}},
		Status:     pending.StatusPending,
		CreatedAt:  created,
		ExpiresAt:  created.Add(pending.DefaultTTL),
		UpdatedAt:  created,
	}
}

// Run exercises newStore against the Store contract.
func Run(t *testing.T, newStore func(t *testing.T) pending.Store) {
	ctx := context.Background()

	t.Run("StageAndGet", func(t *testing.T) {
		s := newStore(t)
		a := NewAction("t1", 0)
		require.NoError(t, s.Stage(ctx, a))

		got, err := s.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, pending.StatusPending, got.Status)
		assert.Equal(t, capability.ModuleFinance, got.Module)
		assert.True(t, a.ExpiresAt.Equal(got.ExpiresAt), "expires_at %v != %v", got.ExpiresAt, a.ExpiresAt)
		amount, ok := got.Payload.Number("amount")
		assert.True(t, ok)
		assert.Equal(t, 50000.0, amount)
		assert.Equal(t, []string{"a"}, got.Payload.Strings("tags"))
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, pending.ErrNotFound)
		_, err = s.OpenForThread(ctx, "nobody")
		assert.ErrorIs(t, err, pending.ErrNotFound)
		assert.ErrorIs(t, s.Transition(ctx, uuid.NewString(), pending.StatusConfirmed, base), pending.ErrNotFound)
	})

	t.Run("StageCancelsPrevious", func(t *testing.T) {
		s := newStore(t)
		first := NewAction("t1", 0)
		second := NewAction("t1", time.Second)
		other := NewAction("t2", 0)
		require.NoError(t, s.Stage(ctx, first))
		require.NoError(t, s.Stage(ctx, other))
		require.NoError(t, s.Stage(ctx, second))

		got, err := s.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, pending.StatusCancelled, got.Status)

		open, err := s.OpenForThread(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, second.ID, open.ID)

		open, err = s.OpenForThread(ctx, "t2")
		require.NoError(t, err)
		assert.Equal(t, other.ID, open.ID, "other threads are untouched")
	})

	t.Run("TransitionIsCompareAndSwap", func(t *testing.T) {
		s := newStore(t)
		a := NewAction("t1", 0)
		require.NoError(t, s.Stage(ctx, a))

		require.NoError(t, s.Transition(ctx, a.ID, pending.StatusConfirmed, base.Add(time.Minute)))
		assert.ErrorIs(t, s.Transition(ctx, a.ID, pending.StatusConfirmed, base), pending.ErrNotPending)
		assert.ErrorIs(t, s.Transition(ctx, a.ID, pending.StatusCancelled, base), pending.ErrNotPending)

		got, err := s.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, pending.StatusConfirmed, got.Status)

		_, err = s.OpenForThread(ctx, "t1")
		assert.ErrorIs(t, err, pending.ErrNotFound)
	})

	t.Run("ConcurrentConfirmOnlyOneWins", func(t *testing.T) {
		s := newStore(t)
		a := NewAction("t1", 0)
		require.NoError(t, s.Stage(ctx, a))

		const n = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Transition(ctx, a.ID, pending.StatusConfirmed, base); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("ExpireBefore", func(t *testing.T) {
		s := newStore(t)
		old := NewAction("t1", 0)
		fresh := NewAction("t2", 10*time.Minute)
		done := NewAction("t3", 0)
		require.NoError(t, s.Stage(ctx, old))
		require.NoError(t, s.Stage(ctx, fresh))
		require.NoError(t, s.Stage(ctx, done))
		require.NoError(t, s.Transition(ctx, done.ID, pending.StatusCancelled, base))

		n, err := s.ExpireBefore(ctx, base.Add(6*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.Get(ctx, old.ID)
		require.NoError(t, err)
		assert.Equal(t, pending.StatusExpired, got.Status)
		got, err = s.Get(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, pending.StatusPending, got.Status)
		got, err = s.Get(ctx, done.ID)
		require.NoError(t, err)
		assert.Equal(t, pending.StatusCancelled, got.Status)
	})
}
