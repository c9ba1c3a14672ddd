package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateRoom inserts a room and an admin membership for its creator in one
// transaction. The invite token, if any, is stored as given; generation is
// the membership layer's concern.
func (s *Store) CreateRoom(ctx context.Context, room Room) (Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, fmt.Errorf("store: begin create room: %w", err)
	}
	defer tx.Rollback()

	if room.ID == "" {
		room.ID = uuid.New().String()
	}

	var token sql.NullString
	if room.InviteToken != "" {
		token = sql.NullString{String: strings.ToLower(room.InviteToken), Valid: true}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO rooms (id, name, is_group, invite_token, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		room.ID, room.Name, room.IsGroup, token, room.CreatedBy,
	).Scan(&room.CreatedAt)
	if err != nil {
		return Room{}, fmt.Errorf("store: insert room: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO room_members (room_id, user_id, role)
		VALUES ($1, $2, $3)`,
		room.ID, room.CreatedBy, RoleAdmin,
	)
	if err != nil {
		return Room{}, fmt.Errorf("store: insert creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Room{}, fmt.Errorf("store: commit create room: %w", err)
	}
	return room, nil
}

// RedeemInvite resolves an invite token to a room and adds the user as a
// member, all in one transaction. Token comparison is case-insensitive.
// Returns the room's display name on success, ErrTokenNotFound for an
// unknown token, or ErrAlreadyMember if the membership row already exists.
func (s *Store) RedeemInvite(ctx context.Context, token, userID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin redeem: %w", err)
	}
	defer tx.Rollback()

	var roomID, roomName string
	err = tx.QueryRowContext(ctx, `
		SELECT id, name FROM rooms
		WHERE invite_token = lower($1)
		FOR UPDATE`,
		token,
	).Scan(&roomID, &roomName)
	if err == sql.ErrNoRows {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: resolve token: %w", err)
	}

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2
		)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("store: membership check: %w", err)
	}
	if exists {
		return "", ErrAlreadyMember
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO room_members (room_id, user_id, role)
		VALUES ($1, $2, $3)`,
		roomID, userID, RoleMember,
	)
	if err != nil {
		return "", fmt.Errorf("store: insert membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit redeem: %w", err)
	}
	return roomName, nil
}

// RoomsFor returns every room the user belongs to, with the user's own
// membership role attached, in membership insertion order.
func (s *Store) RoomsFor(ctx context.Context, userID string) ([]Room, []Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.is_group, COALESCE(r.invite_token, ''),
		       r.created_by, r.created_at,
		       m.role, m.joined_at
		FROM room_members m
		JOIN rooms r ON r.id = m.room_id
		WHERE m.user_id = $1
		ORDER BY m.joined_at`,
		userID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("store: rooms for user: %w", err)
	}
	defer rows.Close()

	var (
		rooms   []Room
		members []Membership
	)
	for rows.Next() {
		var r Room
		var m Membership
		if err := rows.Scan(&r.ID, &r.Name, &r.IsGroup, &r.InviteToken,
			&r.CreatedBy, &r.CreatedAt, &m.Role, &m.JoinedAt); err != nil {
			return nil, nil, fmt.Errorf("store: scan room: %w", err)
		}
		m.RoomID = r.ID
		m.UserID = userID
		rooms = append(rooms, r)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: rooms iteration: %w", err)
	}
	return rooms, members, nil
}

// GetRoom fetches a single room by id.
func (s *Store) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_group, COALESCE(invite_token, ''), created_by, created_at
		FROM rooms WHERE id = $1`,
		roomID,
	).Scan(&r.ID, &r.Name, &r.IsGroup, &r.InviteToken, &r.CreatedBy, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("store: get room: %w", err)
	}
	return r, nil
}
