package store

import (
	"context"
	"fmt"
	"time"

	"github.com/opentalon/aspri/internal/domain"
)

// ProfileStore implements domain.ProfileRepository.
type ProfileStore struct {
	db *DB
}

func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db}
}

var _ domain.ProfileRepository = (*ProfileStore)(nil)

func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	p := domain.Profile{UserID: userID}
	err := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT name, call_preference, assistant_name, persona FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.Name, &p.CallPreference, &p.AssistantName, &p.Persona)
	if err != nil {
		return nil, notFound(err, "profile")
	}
	return &p, nil
}

func (s *ProfileStore) SaveProfile(ctx context.Context, p *domain.Profile) error {
	_, err := s.db.exec(ctx, s.db.SQLDB(),
		`INSERT INTO profiles (user_id, name, call_preference, assistant_name, persona, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET name = excluded.name, call_preference = excluded.call_preference,
		 assistant_name = excluded.assistant_name, persona = excluded.persona, updated_at = excluded.updated_at`,
		p.UserID, p.Name, p.CallPreference, p.AssistantName, p.Persona, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
