package store

import "time"

// Role values for room memberships.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Profile is a user's public identity.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Room is a group or direct conversation.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IsGroup     bool      `json:"is_group"`
	InviteToken string    `json:"invite_token,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership is a (room, user) pair with a role.
type Membership struct {
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Message is one row of the append-only message log. The same JSON shape is
// used for the realtime row-insert events, so consumers decode bus payloads
// straight into this type.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Before reports whether m sorts before other in the room's total order:
// server-assigned timestamp first, id as tie-break.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
