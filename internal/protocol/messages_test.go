package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseClientMessageOpenRoom(t *testing.T) {
	data := []byte(`{"type":"open_room","room_id":"r-1"}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeOpenRoom {
		t.Errorf("expected type %q, got %q", TypeOpenRoom, msgType)
	}

	open, ok := msg.(OpenRoomMsg)
	if !ok {
		t.Fatalf("expected OpenRoomMsg, got %T", msg)
	}
	if open.RoomID != "r-1" {
		t.Errorf("expected room r-1, got %q", open.RoomID)
	}
}

func TestParseClientMessageSend(t *testing.T) {
	data := []byte(`{"type":"send_message","room_id":"r-1","text":"hello"}`)

	_, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	send := msg.(SendMessageMsg)
	if send.Text != "hello" || send.RoomID != "r-1" {
		t.Errorf("unexpected payload: %+v", send)
	}
}

func TestParseClientMessageTyping(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{`{"type":"typing","room_id":"r-1","is_typing":true}`, true},
		{`{"type":"typing","room_id":"r-1","is_typing":false}`, false},
		{`{"type":"typing","room_id":"r-1"}`, false},
	}
	for _, tc := range cases {
		_, msg, err := ParseClientMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("ParseClientMessage(%s): %v", tc.raw, err)
		}
		typing := msg.(TypingMsg)
		if typing.IsTyping != tc.want {
			t.Errorf("ParseClientMessage(%s): is_typing=%v, want %v", tc.raw, typing.IsTyping, tc.want)
		}
	}
}

func TestParseClientMessageNotificationTap(t *testing.T) {
	data := []byte(`{"type":"notification_tap","kind":"digest","room_id":"r-2","digest_id":"d-7"}`)

	_, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tap := msg.(NotificationTapMsg)
	if tap.Kind != "digest" || tap.DigestID != "d-7" {
		t.Errorf("unexpected payload: %+v", tap)
	}
}

func TestParseClientMessageErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"room_id":"r-1"}`},
		{"empty type", `{"type":""}`},
		{"unknown type", `{"type":"reboot"}`},
		{"daemon-only type", `{"type":"room_state"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(tc.data)); err == nil {
				t.Errorf("expected error for %s", tc.data)
			}
		})
	}
}

func TestNewServerMessageInjectsType(t *testing.T) {
	out, err := NewServerMessage(TypeRoomJoined, RoomJoinedMsg{RoomName: "gophers"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if m["type"] != TypeRoomJoined {
		t.Errorf("expected type %q, got %v", TypeRoomJoined, m["type"])
	}
	if m["room_name"] != "gophers" {
		t.Errorf("expected room_name gophers, got %v", m["room_name"])
	}
}

func TestNewServerMessageRoundTrip(t *testing.T) {
	view := MessageView{
		ID:         "m-1",
		RoomID:     "r-1",
		AuthorID:   "u-1",
		AuthorName: "ada",
		Kind:       "plain",
		Text:       "hi",
		Ts:         1700000000,
	}
	out, err := NewServerMessage(TypeMessage, ServerMessageMsg{Message: view})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded ServerMessageMsg
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// MessageView carries a json.RawMessage field, so compare reflectively.
	if !reflect.DeepEqual(decoded.Message, view) {
		t.Errorf("round trip mismatch: %+v", decoded.Message)
	}
}
