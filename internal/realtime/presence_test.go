package realtime

import (
	"encoding/json"
	"testing"
	"time"
)

func announcement(t *testing.T, kind, userID, username string) []byte {
	t.Helper()
	data, err := json.Marshal(presenceMsg{Kind: kind, UserID: userID, Username: username})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newTestAggregator(snapshots *[][]PresenceEntry) *presenceAggregator {
	return &presenceAggregator{
		entries: make(map[string]PresenceEntry),
		handler: func(s []PresenceEntry) { *snapshots = append(*snapshots, s) },
		done:    make(chan struct{}),
	}
}

func TestPresenceSnapshotReplacesState(t *testing.T) {
	var snapshots [][]PresenceEntry
	agg := newTestAggregator(&snapshots)

	agg.consume(announcement(t, presenceJoin, "u1", "ada"))
	agg.consume(announcement(t, presenceJoin, "u2", "grace"))
	agg.consume(announcement(t, presenceLeave, "u1", "ada"))

	if len(snapshots) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snapshots))
	}

	last := snapshots[len(snapshots)-1]
	if len(last) != 1 {
		t.Fatalf("expected 1 entry after leave, got %d", len(last))
	}
	if last[0].UserID != "u2" {
		t.Errorf("expected u2 to remain, got %q", last[0].UserID)
	}

	// The earlier snapshot still holds both users: each delivery is a copy,
	// not a view into shared state.
	if len(snapshots[1]) != 2 {
		t.Errorf("snapshot 2 mutated retroactively: %+v", snapshots[1])
	}
}

func TestPresenceHeartbeatRefreshes(t *testing.T) {
	var snapshots [][]PresenceEntry
	agg := newTestAggregator(&snapshots)

	agg.consume(announcement(t, presenceJoin, "u1", "ada"))
	before := agg.entries["u1"].Seen

	time.Sleep(5 * time.Millisecond)
	agg.consume(announcement(t, presenceHeartbeat, "u1", "ada"))

	if !agg.entries["u1"].Seen.After(before) {
		t.Error("heartbeat did not refresh the Seen timestamp")
	}
}

func TestPresenceLeaveForUnknownUserIsSilent(t *testing.T) {
	var snapshots [][]PresenceEntry
	agg := newTestAggregator(&snapshots)

	agg.consume(announcement(t, presenceLeave, "ghost", ""))
	if len(snapshots) != 0 {
		t.Fatalf("expected no snapshot for unknown leave, got %d", len(snapshots))
	}
}

func TestPresenceSnapshotOrderedByUserID(t *testing.T) {
	var snapshots [][]PresenceEntry
	agg := newTestAggregator(&snapshots)

	agg.consume(announcement(t, presenceJoin, "zz", "zoe"))
	agg.consume(announcement(t, presenceJoin, "aa", "amy"))

	last := snapshots[len(snapshots)-1]
	if last[0].UserID != "aa" || last[1].UserID != "zz" {
		t.Errorf("snapshot not ordered: %+v", last)
	}
}

func TestTopicScopes(t *testing.T) {
	room := RoomTopic("r-1")
	if room.IsGlobal() {
		t.Error("room topic reported global")
	}
	if room.String() != "room:r-1" {
		t.Errorf("unexpected topic name %q", room.String())
	}

	global := GlobalTopic()
	if !global.IsGlobal() {
		t.Error("global topic not global")
	}
	if global.String() != "global" {
		t.Errorf("unexpected topic name %q", global.String())
	}
}
