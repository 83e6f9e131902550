package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentalon/aspri/internal/domain"
)

// ScheduleStore implements domain.ScheduleRepository.
type ScheduleStore struct {
	db *DB
}

func NewScheduleStore(db *DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

var _ domain.ScheduleRepository = (*ScheduleStore)(nil)

const scheduleColumns = `id, user_id, title, description, location, start_time, end_time, created_at`

func scanSchedule(sc interface{ Scan(...any) error }) (*domain.Schedule, error) {
	var s domain.Schedule
	var start, end, created string
	if err := sc.Scan(&s.ID, &s.UserID, &s.Title, &s.Description, &s.Location, &start, &end, &created); err != nil {
		return nil, err
	}
	s.StartTime = parseTime(start)
	s.EndTime = parseTime(end)
	s.CreatedAt = parseTime(created)
	return &s, nil
}

func (s *ScheduleStore) CreateSchedule(ctx context.Context, sc *domain.Schedule) error {
	fillID(&sc.ID, &sc.CreatedAt)
	_, err := s.db.exec(ctx, s.db.SQLDB(),
		`INSERT INTO schedules (`+scheduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.UserID, sc.Title, sc.Description, sc.Location,
		formatTime(sc.StartTime), formatTime(sc.EndTime), formatTime(sc.CreatedAt))
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (s *ScheduleStore) GetSchedule(ctx context.Context, userID, id string) (*domain.Schedule, error) {
	row := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT `+scheduleColumns+` FROM schedules WHERE user_id = ? AND id = ?`, userID, id)
	sc, err := scanSchedule(row)
	if err != nil {
		return nil, notFound(err, "schedule")
	}
	return sc, nil
}

func (s *ScheduleStore) LatestScheduleMatching(ctx context.Context, userID, text string) (*domain.Schedule, error) {
	row := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE user_id = ? AND LOWER(title) LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC LIMIT 1`, userID, likePattern(text))
	sc, err := scanSchedule(row)
	if err != nil {
		return nil, notFound(err, "schedule")
	}
	return sc, nil
}

func (s *ScheduleStore) UpdateSchedule(ctx context.Context, sc *domain.Schedule) error {
	res, err := s.db.exec(ctx, s.db.SQLDB(),
		`UPDATE schedules SET title = ?, description = ?, location = ?, start_time = ?, end_time = ?
		 WHERE id = ? AND user_id = ?`,
		sc.Title, sc.Description, sc.Location, formatTime(sc.StartTime), formatTime(sc.EndTime), sc.ID, sc.UserID)
	return affected(res, err, "update schedule")
}

func (s *ScheduleStore) DeleteSchedule(ctx context.Context, userID, id string) error {
	res, err := s.db.exec(ctx, s.db.SQLDB(),
		`DELETE FROM schedules WHERE id = ? AND user_id = ?`, id, userID)
	return affected(res, err, "delete schedule")
}

func (s *ScheduleStore) ListSchedules(ctx context.Context, f domain.ScheduleFilter) ([]domain.Schedule, error) {
	where := []string{"user_id = ?"}
	args := []any{f.UserID}
	if f.Range != nil {
		where = append(where, "start_time >= ? AND start_time < ?")
		args = append(args, formatTime(f.Range.From), formatTime(f.Range.To))
	}
	q := `SELECT ` + scheduleColumns + ` FROM schedules WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY start_time ASC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.db.query(ctx, s.db.SQLDB(), q, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("list schedules: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}
