// Package redisstore keeps pending actions in Redis so several processes can
// share one confirmation state. Stage and transitions run as Lua scripts,
// which makes each of them atomic on the server.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/intent"
	"github.com/opentalon/aspri/internal/pending"
)

// DefaultPrefix carries a hash tag so every key of one store lands in the
// same Redis Cluster slot, which multi-key scripts require.
const DefaultPrefix = "{aspri:pending}:"

// DefaultRetention is how long a resolved action stays readable.
const DefaultRetention = 24 * time.Hour

// stageAttempts bounds retries when the thread pointer moves between the
// read and the script.
const stageAttempts = 5

// Layout under prefix:
//
//	action:<id>      hash with the action fields, expiring after resolution
//	thread:<thread>  id of the thread's pending action
//	expiry           sorted set of pending ids scored by expires_at (unix ms)
//
// Scripts only touch keys passed in KEYS. A custom prefix used against
// Redis Cluster must contain a hash tag.
type PendingStore struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

type Option func(*PendingStore)

// WithRetention sets how long resolved actions are kept before Redis
// evicts them.
func WithRetention(d time.Duration) Option {
	return func(s *PendingStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

func New(rdb redis.UniversalClient, prefix string, opts ...Option) *PendingStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := &PendingStore{rdb: rdb, prefix: prefix, retention: DefaultRetention}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ pending.Store = (*PendingStore)(nil)

func (s *PendingStore) actionKey(id string) string     { return s.prefix + "action:" + id }
func (s *PendingStore) threadKey(thread string) string { return s.prefix + "thread:" + thread }
func (s *PendingStore) expiryKey() string              { return s.prefix + "expiry" }

// KEYS: thread key, new action key, expiry zset, [previous action key]
// ARGV: expected previous id ("" for none), id, updated_at, expiry score,
// retention ms, field/value pairs...
// Returns 0 when the thread pointer no longer holds the expected id.
var stageScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1]) or ''
if prev ~= ARGV[1] then
  return 0
end
if prev ~= '' and KEYS[4] then
  if redis.call('HGET', KEYS[4], 'status') == 'pending' then
    redis.call('HSET', KEYS[4], 'status', 'cancelled', 'updated_at', ARGV[3])
    redis.call('PEXPIRE', KEYS[4], ARGV[5])
    redis.call('ZREM', KEYS[3], prev)
  end
end
local fields = {}
for i = 6, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', KEYS[2], unpack(fields))
redis.call('SET', KEYS[1], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[2])
return 1
`)

// KEYS: action key, expiry zset, thread key
// ARGV: id, target status, updated_at, retention ms
// Returns -1 when the action does not exist, 0 when it is not pending.
var transitionScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status ~= 'pending' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('ZREM', KEYS[2], ARGV[1])
if redis.call('GET', KEYS[3]) == ARGV[1] then
  redis.call('DEL', KEYS[3])
end
return 1
`)

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *PendingStore) Stage(ctx context.Context, a *pending.Action) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("stage: marshal payload: %w", err)
	}
	fields := []any{
		"id", a.ID,
		"user_id", a.UserID,
		"thread_id", a.ThreadID,
		"action_type", a.ActionType,
		"module", string(a.Module),
		"payload", string(payload),
		"status", string(a.Status),
		"created_at", formatTime(a.CreatedAt),
		"expires_at", formatTime(a.ExpiresAt),
		"updated_at", formatTime(a.UpdatedAt),
	}
	threadKey := s.threadKey(a.ThreadID)
	for i := 0; i < stageAttempts; i++ {
		prev, err := s.rdb.Get(ctx, threadKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("stage %s: %w", a.ID, err)
		}
		keys := []string{threadKey, s.actionKey(a.ID), s.expiryKey()}
		if prev != "" {
			keys = append(keys, s.actionKey(prev))
		}
		args := append([]any{
			prev, a.ID, formatTime(a.CreatedAt), a.ExpiresAt.UnixMilli(), s.retention.Milliseconds(),
		}, fields...)
		n, err := stageScript.Run(ctx, s.rdb, keys, args...).Int()
		if err != nil {
			return fmt.Errorf("stage %s: %w", a.ID, err)
		}
		if n == 1 {
			return nil
		}
	}
	return fmt.Errorf("stage %s: thread %s changed concurrently", a.ID, a.ThreadID)
}

func (s *PendingStore) Get(ctx context.Context, id string) (*pending.Action, error) {
	m, err := s.rdb.HGetAll(ctx, s.actionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get pending %s: %w", id, err)
	}
	if len(m) == 0 {
		return nil, pending.ErrNotFound
	}
	a := &pending.Action{
		ID:         m["id"],
		UserID:     m["user_id"],
		ThreadID:   m["thread_id"],
		ActionType: m["action_type"],
		Module:     capability.Module(m["module"]),
		Status:     pending.Status(m["status"]),
		CreatedAt:  parseTime(m["created_at"]),
		ExpiresAt:  parseTime(m["expires_at"]),
		UpdatedAt:  parseTime(m["updated_at"]),
		Payload:    intent.Entities{},
	}
	if p := m["payload"]; p != "" {
		if err := json.Unmarshal([]byte(p), &a.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", id, err)
		}
	}
	return a, nil
}

func (s *PendingStore) OpenForThread(ctx context.Context, threadID string) (*pending.Action, error) {
	id, err := s.rdb.Get(ctx, s.threadKey(threadID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, pending.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open pending for %s: %w", threadID, err)
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != pending.StatusPending {
		return nil, pending.ErrNotFound
	}
	return a, nil
}

func (s *PendingStore) Transition(ctx context.Context, id string, to pending.Status, at time.Time) error {
	// thread_id never changes once staged, so reading it first is safe.
	thread, err := s.rdb.HGet(ctx, s.actionKey(id), "thread_id").Result()
	if errors.Is(err, redis.Nil) {
		return pending.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("transition %s: %w", id, err)
	}
	n, err := transitionScript.Run(ctx, s.rdb,
		[]string{s.actionKey(id), s.expiryKey(), s.threadKey(thread)},
		id, string(to), formatTime(at), s.retention.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("transition %s: %w", id, err)
	}
	switch n {
	case -1:
		return pending.ErrNotFound
	case 0:
		return pending.ErrNotPending
	}
	return nil
}

func (s *PendingStore) ExpireBefore(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("expire pending: %w", err)
	}
	n := 0
	for _, id := range ids {
		err := s.Transition(ctx, id, pending.StatusExpired, now)
		switch {
		case err == nil:
			n++
		case errors.Is(err, pending.ErrNotPending), errors.Is(err, pending.ErrNotFound):
			s.rdb.ZRem(ctx, s.expiryKey(), id)
		default:
			return n, err
		}
	}
	return n, nil
}
