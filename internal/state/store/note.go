package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opentalon/aspri/internal/domain"
)

// NoteStore implements domain.NoteRepository. Tags are stored as a JSON
// array.
type NoteStore struct {
	db *DB
}

func NewNoteStore(db *DB) *NoteStore {
	return &NoteStore{db: db}
}

var _ domain.NoteRepository = (*NoteStore)(nil)

const noteColumns = `id, user_id, title, content, tags, pinned, created_at`

func scanNote(sc interface{ Scan(...any) error }) (*domain.Note, error) {
	var n domain.Note
	var tags, created string
	var pinned int
	if err := sc.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &tags, &pinned, &created); err != nil {
		return nil, err
	}
	if tags != "" {
		_ = json.Unmarshal([]byte(tags), &n.Tags)
	}
	n.Pinned = pinned != 0
	n.CreatedAt = parseTime(created)
	return &n, nil
}

func tagsJSON(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *NoteStore) CreateNote(ctx context.Context, n *domain.Note) error {
	fillID(&n.ID, &n.CreatedAt)
	tags, err := tagsJSON(n.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.exec(ctx, s.db.SQLDB(),
		`INSERT INTO notes (`+noteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Content, tags, boolInt(n.Pinned), formatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	return nil
}

func (s *NoteStore) GetNote(ctx context.Context, userID, id string) (*domain.Note, error) {
	row := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT `+noteColumns+` FROM notes WHERE user_id = ? AND id = ?`, userID, id)
	n, err := scanNote(row)
	if err != nil {
		return nil, notFound(err, "note")
	}
	return n, nil
}

func (s *NoteStore) LatestNoteMatching(ctx context.Context, userID, text string) (*domain.Note, error) {
	row := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT `+noteColumns+` FROM notes
		 WHERE user_id = ? AND LOWER(title) LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC LIMIT 1`, userID, likePattern(text))
	n, err := scanNote(row)
	if err != nil {
		return nil, notFound(err, "note")
	}
	return n, nil
}

func (s *NoteStore) UpdateNote(ctx context.Context, n *domain.Note) error {
	tags, err := tagsJSON(n.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.exec(ctx, s.db.SQLDB(),
		`UPDATE notes SET title = ?, content = ?, tags = ?, pinned = ? WHERE id = ? AND user_id = ?`,
		n.Title, n.Content, tags, boolInt(n.Pinned), n.ID, n.UserID)
	return affected(res, err, "update note")
}

func (s *NoteStore) DeleteNote(ctx context.Context, userID, id string) error {
	res, err := s.db.exec(ctx, s.db.SQLDB(),
		`DELETE FROM notes WHERE id = ? AND user_id = ?`, id, userID)
	return affected(res, err, "delete note")
}

func (s *NoteStore) ListNotes(ctx context.Context, f domain.NoteFilter) ([]domain.Note, error) {
	where := []string{"user_id = ?"}
	args := []any{f.UserID}
	if f.Search != "" {
		where = append(where, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(content) LIKE ? ESCAPE '\')`)
		p := likePattern(f.Search)
		args = append(args, p, p)
	}
	for _, tag := range f.Tags {
		b, _ := json.Marshal(tag)
		where = append(where, `tags LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(string(b))+"%")
	}
	q := `SELECT ` + noteColumns + ` FROM notes WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.db.query(ctx, s.db.SQLDB(), q, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("list notes: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
