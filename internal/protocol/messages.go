// Package protocol defines the WebSocket message types exchanged between
// the device UI and the sync daemon. All messages are serialized as JSON
// and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// UI -> daemon message types.
const (
	TypeOpenRoom        = "open_room"
	TypeCloseRoom       = "close_room"
	TypeSendMessage     = "send_message"
	TypeTyping          = "typing"
	TypeCreateRoom      = "create_room"
	TypeJoinRoom        = "join_room"
	TypeListRooms       = "list_rooms"
	TypeNotificationTap = "notification_tap"
	TypePing            = "ping"
)

// Daemon -> UI message types.
const (
	TypeRoomState    = "room_state"
	TypeMessage      = "message"
	TypeTypingState  = "typing_state"
	TypePresence     = "presence"
	TypeRoomCreated  = "room_created"
	TypeRoomJoined   = "room_joined"
	TypeRoomList     = "room_list"
	TypeNotification = "notification"
	TypeNavigate     = "navigate"
	TypeError        = "error"
	TypePong         = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// UI -> daemon message structs
// ---------------------------------------------------------------------------

// OpenRoomMsg asks the daemon to open a live session for a room.
type OpenRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// CloseRoomMsg tears down the live session for a room.
type CloseRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// SendMessageMsg sends a chat message into an open room.
type SendMessageMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

// TypingMsg reports whether the user is currently typing in a room.
type TypingMsg struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// CreateRoomMsg creates a new room owned by the current user.
type CreateRoomMsg struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	IsGroup bool   `json:"is_group"`
}

// JoinRoomMsg redeems an invite token.
type JoinRoomMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// ListRoomsMsg requests the cached room list.
type ListRoomsMsg struct {
	Type string `json:"type"`
}

// NotificationTapMsg reports that the user tapped a notification; the
// routing payload round-trips back so the daemon can answer with the
// matching navigation intent.
type NotificationTapMsg struct {
	Type     string `json:"type"`
	Kind     string `json:"kind"` // "chat" or "digest"
	RoomID   string `json:"room_id"`
	DigestID string `json:"digest_id,omitempty"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Daemon -> UI message structs
// ---------------------------------------------------------------------------

// MessageView is one rendered message: parsed content plus the resolved
// author display name.
type MessageView struct {
	ID         string          `json:"id"`
	RoomID     string          `json:"room_id"`
	AuthorID   string          `json:"author_id"`
	AuthorName string          `json:"author_name"`
	Kind       string          `json:"kind"` // "plain", "digest", "bot"
	Text       string          `json:"text,omitempty"`
	Model      string          `json:"model,omitempty"`
	Digest     json.RawMessage `json:"digest,omitempty"`
	Ts         int64           `json:"ts"`
}

// RoomView is one room in the membership list.
type RoomView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsGroup     bool   `json:"is_group"`
	InviteToken string `json:"invite_token,omitempty"`
	Role        string `json:"role,omitempty"`
}

// RoomStateMsg is sent once a room session reaches its active state,
// carrying the initial history page.
type RoomStateMsg struct {
	Type     string        `json:"type"`
	RoomID   string        `json:"room_id"`
	Messages []MessageView `json:"messages"`
}

// ServerMessageMsg delivers one appended message to an open room.
type ServerMessageMsg struct {
	Type    string      `json:"type"`
	Message MessageView `json:"message"`
}

// TypingStateMsg delivers the room's full typing set after a change.
type TypingStateMsg struct {
	Type   string   `json:"type"`
	RoomID string   `json:"room_id"`
	Users  []string `json:"users"`
}

// PresenceMsg delivers the room's full online snapshot after a change.
// Each snapshot replaces the previous one.
type PresenceMsg struct {
	Type   string   `json:"type"`
	RoomID string   `json:"room_id"`
	Users  []string `json:"users"`
}

// RoomCreatedMsg confirms room creation and carries the invite token.
type RoomCreatedMsg struct {
	Type string   `json:"type"`
	Room RoomView `json:"room"`
}

// RoomJoinedMsg confirms an invite redemption with the room's name.
type RoomJoinedMsg struct {
	Type     string `json:"type"`
	RoomName string `json:"room_name"`
}

// RoomListMsg carries the cached membership list.
type RoomListMsg struct {
	Type  string     `json:"type"`
	Rooms []RoomView `json:"rooms"`
}

// NotificationMsg surfaces a local notification.
type NotificationMsg struct {
	Type      string `json:"type"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	DigestID  string `json:"digest_id,omitempty"`
}

// NavigateMsg tells the UI where a notification tap should land.
type NavigateMsg struct {
	Type     string `json:"type"`
	Target   string `json:"target"` // "room" or "digest"
	RoomID   string `json:"room_id,omitempty"`
	DigestID string `json:"digest_id,omitempty"`
}

// ErrorMsg communicates a failure for a user-initiated action.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the daemon's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed UI message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// daemon-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeOpenRoom:
		var m OpenRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCloseRoom:
		var m CloseRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCreateRoom:
		var m CreateRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeListRooms:
		var m ListRoomsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNotificationTap:
		var m NotificationTapMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a daemon message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
