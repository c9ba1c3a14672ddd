package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// InsertMessage appends a message to the room's log and fans the committed
// row out to the realtime bus. The id and created_at are server-assigned.
// A fan-out failure is logged and swallowed: the row is durable and every
// client re-fetches history on its next session open, so the bus must never
// make a successful write look failed.
func (s *Store) InsertMessage(ctx context.Context, roomID, userID, body string) (Message, error) {
	msg := Message{
		ID:      uuid.New().String(),
		RoomID:  roomID,
		UserID:  userID,
		Content: body,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, room_id, user_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		msg.ID, msg.RoomID, msg.UserID, msg.Content,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("store: insert message: %w", err)
	}

	if s.pub != nil {
		row, err := json.Marshal(msg)
		if err != nil {
			log.Printf("[store] marshal insert event msg=%s: %v", msg.ID, err)
			return msg, nil
		}
		if err := s.pub.PublishMessageInsert(msg.RoomID, row); err != nil {
			log.Printf("[store] fan-out insert msg=%s room=%s: %v", msg.ID, msg.RoomID, err)
		}
	}
	return msg, nil
}

// RecentMessages returns the most recent limit messages of a room in
// ascending (created_at, id) order — the page a session loads when it opens.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, content, created_at
		FROM (
			SELECT id, room_id, user_id, content, created_at
			FROM messages
			WHERE room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) page
		ORDER BY created_at, id`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: messages iteration: %w", err)
	}
	return msgs, nil
}
