package store

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opentalon/aspri/internal/provider"
)

// ThreadStore persists chat messages. Message ids are ULIDs, so id order
// is insertion order.
type ThreadStore struct {
	db *DB
}

func NewThreadStore(db *DB) *ThreadStore {
	return &ThreadStore{db: db}
}

func (s *ThreadStore) Append(ctx context.Context, threadID, userID string, msgs ...provider.Message) error {
	now := formatTime(time.Now())
	for _, m := range msgs {
		if _, err := s.db.exec(ctx, s.db.SQLDB(),
			`INSERT INTO chat_messages (id, thread_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			ulid.Make().String(), threadID, userID, string(m.Role), m.Content, now,
		); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	return nil
}

// Recent returns up to n of the newest messages, oldest first.
func (s *ThreadStore) Recent(ctx context.Context, threadID string, n int) ([]provider.Message, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.query(ctx, s.db.SQLDB(),
		fmt.Sprintf(`SELECT role, content FROM chat_messages WHERE thread_id = ? ORDER BY id DESC LIMIT %d`, n),
		threadID)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []provider.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("recent messages: %w", err)
		}
		out = append(out, provider.Message{Role: provider.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
