// Package pending tracks actions that wait for the user's confirmation.
// A thread has at most one pending action; confirm and cancel are
// compare-and-swap transitions from pending, and expiry is enforced when
// an action is read.
package pending

import (
	"context"
	"errors"
	"time"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/intent"
)

// DefaultTTL is how long a staged action stays confirmable.
const DefaultTTL = 5 * time.Minute

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s != StatusPending }

var (
	ErrNotFound   = errors.New("pending action not found")
	ErrNotPending = errors.New("pending action already resolved")
	ErrExpired    = errors.New("pending action expired")
)

// Action is a staged mutation.
type Action struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	ThreadID   string            `json:"thread_id"`
	ActionType string            `json:"action_type"`
	Module     capability.Module `json:"module"`
	Payload    intent.Entities   `json:"payload"`
	Status     Status            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Expired reports whether the action can no longer be confirmed at now.
func (a *Action) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// Store persists actions. Implementations must make Stage and Transition
// atomic.
type Store interface {
	// Stage cancels every pending action of a.ThreadID and inserts a.
	Stage(ctx context.Context, a *Action) error
	Get(ctx context.Context, id string) (*Action, error)
	// OpenForThread returns the newest action with status pending,
	// expired or not, or ErrNotFound.
	OpenForThread(ctx context.Context, threadID string) (*Action, error)
	// Transition moves id from pending to status. It returns ErrNotPending
	// when the action is no longer pending.
	Transition(ctx context.Context, id string, to Status, at time.Time) error
	// ExpireBefore marks every pending action with expires_at < now as
	// expired and returns how many changed.
	ExpireBefore(ctx context.Context, now time.Time) (int, error)
}
