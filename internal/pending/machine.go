package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opentalon/aspri/internal/intent"
)

// Machine applies the pending action lifecycle on top of a Store.
type Machine struct {
	store    Store
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
	observer func(to Status)
}

type Option func(*Machine)

func WithTTL(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver is told about every successful transition, staging included.
func WithObserver(fn func(to Status)) Option {
	return func(m *Machine) { m.observer = fn }
}

func NewMachine(store Store, opts ...Option) *Machine {
	m := &Machine{store: store, ttl: DefaultTTL, now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// TTL returns the confirmation window.
func (m *Machine) TTL() time.Duration { return m.ttl }

// Stage records in as the thread's only pending action.
func (m *Machine) Stage(ctx context.Context, userID, threadID string, in intent.Intent) (*Action, error) {
	now := m.now().UTC()
	a := &Action{
		ID:         uuid.NewString(),
		UserID:     userID,
		ThreadID:   threadID,
		ActionType: in.Action,
		Module:     in.Module,
		Payload:    in.Entities.Clone(),
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
		UpdatedAt:  now,
	}
	if err := m.store.Stage(ctx, a); err != nil {
		return nil, fmt.Errorf("stage %s: %w", in.Action, err)
	}
	m.logger.Info("pending: action staged",
		zap.String("pending_id", a.ID), zap.String("thread_id", threadID),
		zap.String("user_id", userID), zap.String("action", a.ActionType))
	m.observe(StatusPending)
	return a, nil
}

// Open returns the thread's confirmable action for userID, or nil. An action
// staged by another user in a shared thread is absent to userID. A pending
// row past its expiry is recorded as expired and treated as absent.
func (m *Machine) Open(ctx context.Context, userID, threadID string) (*Action, error) {
	a, err := m.store.OpenForThread(ctx, threadID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, nil
	}
	if a.Expired(m.now()) {
		m.expire(ctx, a)
		return nil, nil
	}
	return a, nil
}

// Confirm moves id to confirmed. It fails with ErrExpired after the TTL and
// with ErrNotPending when the action was already resolved, so a second
// confirmation never reaches the executor.
func (m *Machine) Confirm(ctx context.Context, id string) (*Action, error) {
	a, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusPending {
		return a, fmt.Errorf("confirm %s (%s): %w", id, a.Status, ErrNotPending)
	}
	now := m.now().UTC()
	if a.Expired(now) {
		m.expire(ctx, a)
		return a, fmt.Errorf("confirm %s: %w", id, ErrExpired)
	}
	if err := m.store.Transition(ctx, id, StatusConfirmed, now); err != nil {
		return a, fmt.Errorf("confirm %s: %w", id, err)
	}
	a.Status = StatusConfirmed
	a.UpdatedAt = now
	m.logger.Info("pending: action confirmed", zap.String("pending_id", id), zap.String("action", a.ActionType))
	m.observe(StatusConfirmed)
	return a, nil
}

// Cancel moves id to cancelled. Cancelling an already cancelled action
// succeeds; any other resolved status is ErrNotPending.
func (m *Machine) Cancel(ctx context.Context, id string) error {
	a, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch a.Status {
	case StatusCancelled:
		return nil
	case StatusPending:
	default:
		return fmt.Errorf("cancel %s (%s): %w", id, a.Status, ErrNotPending)
	}
	err = m.store.Transition(ctx, id, StatusCancelled, m.now().UTC())
	if errors.Is(err, ErrNotPending) {
		if cur, gerr := m.store.Get(ctx, id); gerr == nil && cur.Status == StatusCancelled {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	m.logger.Info("pending: action cancelled", zap.String("pending_id", id), zap.String("action", a.ActionType))
	m.observe(StatusCancelled)
	return nil
}

// Sweep expires every overdue pending action.
func (m *Machine) Sweep(ctx context.Context) (int, error) {
	n, err := m.store.ExpireBefore(ctx, m.now().UTC())
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		m.observe(StatusExpired)
	}
	return n, nil
}

func (m *Machine) expire(ctx context.Context, a *Action) {
	err := m.store.Transition(ctx, a.ID, StatusExpired, m.now().UTC())
	switch {
	case err == nil:
		a.Status = StatusExpired
		m.logger.Info("pending: action expired", zap.String("pending_id", a.ID))
		m.observe(StatusExpired)
	case errors.Is(err, ErrNotPending):
	default:
		m.logger.Warn("pending: expire failed", zap.String("pending_id", a.ID), zap.Error(err))
	}
}

func (m *Machine) observe(s Status) {
	if m.observer != nil {
		m.observer(s)
	}
}
