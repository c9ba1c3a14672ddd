package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetProfile fetches a user's public profile. Returns ErrNotFound when no
// profile row exists for the id.
func (s *Store) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, COALESCE(avatar_url, '')
		FROM profiles WHERE id = $1`,
		userID,
	).Scan(&p.ID, &p.Username, &p.AvatarURL)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("store: get profile: %w", err)
	}
	return p, nil
}

// UpsertProfile creates or updates a profile row keyed by user id.
func (s *Store) UpsertProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, avatar_url)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username,
		    avatar_url = COALESCE(EXCLUDED.avatar_url, profiles.avatar_url)`,
		p.ID, p.Username, p.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("store: upsert profile: %w", err)
	}
	return nil
}

// SetAvatarURL records the public URL of a freshly uploaded avatar.
func (s *Store) SetAvatarURL(ctx context.Context, userID, url string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET avatar_url = $2 WHERE id = $1`,
		userID, url,
	)
	if err != nil {
		return fmt.Errorf("store: set avatar url: %w", err)
	}
	return nil
}
