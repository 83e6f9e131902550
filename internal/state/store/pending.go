package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/intent"
	"github.com/opentalon/aspri/internal/pending"
)

// PendingStore implements pending.Store. A partial unique index keeps at
// most one pending row per thread.
type PendingStore struct {
	db *DB
}

func NewPendingStore(db *DB) *PendingStore {
	return &PendingStore{db: db}
}

var _ pending.Store = (*PendingStore)(nil)

const pendingColumns = `id, user_id, thread_id, action_type, module, payload, status, created_at, expires_at, updated_at`

func (s *PendingStore) Stage(ctx context.Context, a *pending.Action) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("stage: marshal payload: %w", err)
	}
	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.db.exec(ctx, tx,
			`UPDATE pending_actions SET status = ?, updated_at = ? WHERE thread_id = ? AND status = ?`,
			string(pending.StatusCancelled), formatTime(a.CreatedAt), a.ThreadID, string(pending.StatusPending),
		); err != nil {
			return fmt.Errorf("stage: cancel previous: %w", err)
		}
		if _, err := s.db.exec(ctx, tx,
			`INSERT INTO pending_actions (`+pendingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.UserID, a.ThreadID, a.ActionType, string(a.Module), string(payload), string(a.Status),
			formatTime(a.CreatedAt), formatTime(a.ExpiresAt), formatTime(a.UpdatedAt),
		); err != nil {
			return fmt.Errorf("stage: insert: %w", err)
		}
		return nil
	})
}

func scanPending(sc interface{ Scan(...any) error }) (*pending.Action, error) {
	var a pending.Action
	var module, payload, status, created, expires, updated string
	if err := sc.Scan(&a.ID, &a.UserID, &a.ThreadID, &a.ActionType, &module, &payload, &status, &created, &expires, &updated); err != nil {
		return nil, err
	}
	a.Module = capability.Module(module)
	a.Status = pending.Status(status)
	a.CreatedAt = parseTime(created)
	a.ExpiresAt = parseTime(expires)
	a.UpdatedAt = parseTime(updated)
	a.Payload = intent.Entities{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func (s *PendingStore) Get(ctx context.Context, id string) (*pending.Action, error) {
	row := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT `+pendingColumns+` FROM pending_actions WHERE id = ?`, id)
	a, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pending.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending %s: %w", id, err)
	}
	return a, nil
}

func (s *PendingStore) OpenForThread(ctx context.Context, threadID string) (*pending.Action, error) {
	row := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT `+pendingColumns+` FROM pending_actions WHERE thread_id = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`, threadID, string(pending.StatusPending))
	a, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pending.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open pending for %s: %w", threadID, err)
	}
	return a, nil
}

func (s *PendingStore) Transition(ctx context.Context, id string, to pending.Status, at time.Time) error {
	res, err := s.db.exec(ctx, s.db.SQLDB(),
		`UPDATE pending_actions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(at), id, string(pending.StatusPending))
	if err != nil {
		return fmt.Errorf("transition %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return pending.ErrNotPending
}

func (s *PendingStore) ExpireBefore(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.exec(ctx, s.db.SQLDB(),
		`UPDATE pending_actions SET status = ?, updated_at = ? WHERE status = ? AND expires_at < ?`,
		string(pending.StatusExpired), formatTime(now), string(pending.StatusPending), formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("expire pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire pending: %w", err)
	}
	return int(n), nil
}
