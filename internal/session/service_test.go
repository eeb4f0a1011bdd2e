package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecollab/internal/domain"
	"codecollab/internal/protocol"
	"codecollab/internal/session"
)

// fakeBroadcaster records every frame per connection, decoded, so tests can
// assert on the event stream each participant observed. Safe for use from
// the expiry timer goroutines.
type fakeBroadcaster struct {
	mu     sync.Mutex
	frames map[string][]protocol.Envelope
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{frames: make(map[string][]protocol.Envelope)}
}

func (f *fakeBroadcaster) SendToConn(connID string, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		panic("fakeBroadcaster received undecodable frame: " + err.Error())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[connID] = append(f.frames[connID], env)
}

// count returns how many frames of the given event a connection received.
func (f *fakeBroadcaster) count(connID, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, env := range f.frames[connID] {
		if env.Event == event {
			n++
		}
	}
	return n
}

// last decodes the most recent frame of the given event into out, reporting
// whether one was found.
func (f *fakeBroadcaster) last(t *testing.T, connID, event string, out interface{}) bool {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames[connID]) - 1; i >= 0; i-- {
		if f.frames[connID][i].Event == event {
			require.NoError(t, json.Unmarshal(f.frames[connID][i].Data, out))
			return true
		}
	}
	return false
}

// nopStateRepo satisfies the activity bookkeeping dependency.
type nopStateRepo struct{}

func (nopStateRepo) TouchRoomActivity(context.Context, string) error { return nil }
func (nopStateRepo) ListRoomActivity(context.Context) (map[string]time.Time, error) {
	return map[string]time.Time{}, nil
}
func (nopStateRepo) ClearRoomActivity(context.Context, []string) error { return nil }

const (
	testTypingTTL = 50 * time.Millisecond
	testCursorTTL = 60 * time.Millisecond
)

func newTestService(t *testing.T) (*session.Service, *fakeBroadcaster) {
	t.Helper()
	svc := session.NewService(session.Config{
		TypingTTL: testTypingTTL,
		CursorTTL: testCursorTTL,
	}, nopStateRepo{})
	fb := newFakeBroadcaster()
	svc.AttachBroadcaster(fb)
	return svc, fb
}

func sendIntent(t *testing.T, svc *session.Service, connID, event string, payload interface{}) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	svc.HandleFrame(connID, frame)
}

func join(t *testing.T, svc *session.Service, connID, roomID, name string) {
	t.Helper()
	sendIntent(t, svc, connID, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID, DisplayName: name})
}

// --- joining and snapshots ---

func TestJoin_DeliversSnapshotBeforeAnythingElse(t *testing.T) {
	svc, fb := newTestService(t)

	join(t, svc, "conn-a", "R1", "Alice")

	var snap domain.RoomSnapshot
	require.True(t, fb.last(t, "conn-a", protocol.EventRoomState, &snap))
	assert.Equal(t, "R1", snap.RoomID)
	assert.Empty(t, snap.Code)
	assert.Len(t, snap.Roster, 1)
	assert.Equal(t, "conn-a", snap.CreatorID)

	join(t, svc, "conn-b", "R1", "Bob")

	require.True(t, fb.last(t, "conn-b", protocol.EventRoomState, &snap))
	assert.Len(t, snap.Roster, 2)
	assert.Equal(t, "conn-a", snap.CreatorID, "first joiner stays creator")

	var joined protocol.RosterUpdate
	require.True(t, fb.last(t, "conn-a", protocol.EventUserJoined, &joined))
	assert.Equal(t, "conn-b", joined.ConnID)
	assert.Equal(t, "Bob", joined.DisplayName)
	assert.Len(t, joined.Roster, 2)

	assert.Zero(t, fb.count("conn-b", protocol.EventUserJoined), "joiner must not see its own join broadcast")
}

func TestJoin_SecondRoomOnSameConnectionDenied(t *testing.T) {
	svc, fb := newTestService(t)

	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-a", "R2", "Alice")

	var denied protocol.ActionDenied
	require.True(t, fb.last(t, "conn-a", protocol.EventActionDenied, &denied))
	assert.Equal(t, protocol.EventJoinRoom, denied.Event)

	_, _, exists := svc.Rooms().RoomInfo("R2")
	assert.False(t, exists, "denied join must not create the second room")
}

// --- document synchronization ---

func TestCodeChange_LastWriteWins(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-b", "R1", "Bob")

	sendIntent(t, svc, "conn-a", protocol.EventCodeChange, protocol.CodeChange{RoomID: "R1", Text: "v1"})
	sendIntent(t, svc, "conn-b", protocol.EventCodeChange, protocol.CodeChange{RoomID: "R1", Text: "v2"})
	sendIntent(t, svc, "conn-a", protocol.EventCodeChange, protocol.CodeChange{RoomID: "R1", Text: "v3"})

	// Every later joiner reflects the last update the authority applied.
	join(t, svc, "conn-c", "R1", "Cara")
	var snap domain.RoomSnapshot
	require.True(t, fb.last(t, "conn-c", protocol.EventRoomState, &snap))
	assert.Equal(t, "v3", snap.Code)

	// Echo suppression: the sender of an update never receives it back.
	var update protocol.CodeUpdate
	require.True(t, fb.last(t, "conn-b", protocol.EventCodeUpdate, &update))
	assert.Equal(t, "v3", update.Text)
	assert.Equal(t, 1, fb.count("conn-a", protocol.EventCodeUpdate), "a received only b's update, never its own")
}

func TestLanguageChange_Broadcasts(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-b", "R1", "Bob")

	sendIntent(t, svc, "conn-a", protocol.EventLanguageChange, protocol.LanguageChange{RoomID: "R1", Language: "go"})

	var update protocol.LanguageUpdate
	require.True(t, fb.last(t, "conn-b", protocol.EventLanguageUpdate, &update))
	assert.Equal(t, "go", update.Language)
	assert.Zero(t, fb.count("conn-a", protocol.EventLanguageUpdate))
}

func TestCodeChange_UnknownRoomImplicitlyCreated(t *testing.T) {
	svc, fb := newTestService(t)

	sendIntent(t, svc, "conn-x", protocol.EventCodeChange, protocol.CodeChange{RoomID: "R9", Text: "early edit"})

	join(t, svc, "conn-a", "R9", "Alice")
	var snap domain.RoomSnapshot
	require.True(t, fb.last(t, "conn-a", protocol.EventRoomState, &snap))
	assert.Equal(t, "early edit", snap.Code, "implicit creation keeps the update as initial state")
}

func TestImplicitRoom_ReclaimedWhenNeverClaimed(t *testing.T) {
	svc := session.NewService(session.Config{
		TypingTTL:         testTypingTTL,
		CursorTTL:         testCursorTTL,
		ImplicitRoomGrace: 40 * time.Millisecond,
	}, nopStateRepo{})
	svc.AttachBroadcaster(newFakeBroadcaster())

	sendIntent(t, svc, "conn-x", protocol.EventCodeChange, protocol.CodeChange{RoomID: "R9", Text: "orphaned"})
	_, _, exists := svc.Rooms().RoomInfo("R9")
	require.True(t, exists)

	// Updates with made-up room IDs must not grow the room map forever.
	require.Eventually(t, func() bool {
		_, _, exists := svc.Rooms().RoomInfo("R9")
		return !exists
	}, 2*time.Second, 10*time.Millisecond, "unclaimed room must be discarded after the grace period")
}

func TestImplicitRoom_SurvivesWhenJoinedWithinGrace(t *testing.T) {
	grace := 40 * time.Millisecond
	svc := session.NewService(session.Config{
		TypingTTL:         testTypingTTL,
		CursorTTL:         testCursorTTL,
		ImplicitRoomGrace: grace,
	}, nopStateRepo{})
	fb := newFakeBroadcaster()
	svc.AttachBroadcaster(fb)

	sendIntent(t, svc, "conn-x", protocol.EventCodeChange, protocol.CodeChange{RoomID: "R9", Text: "early edit"})
	join(t, svc, "conn-a", "R9", "Alice")

	time.Sleep(4 * grace)
	participants, _, exists := svc.Rooms().RoomInfo("R9")
	require.True(t, exists, "a claimed room outlives the grace timer")
	assert.Equal(t, 1, participants)

	var snap domain.RoomSnapshot
	require.True(t, fb.last(t, "conn-a", protocol.EventRoomState, &snap))
	assert.Equal(t, "early edit", snap.Code)
}

func TestCodeChange_StaleConnectionDropped(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")

	sendIntent(t, svc, "conn-ghost", protocol.EventCodeChange, protocol.CodeChange{RoomID: "R1", Text: "intruder"})

	assert.Zero(t, fb.count("conn-a", protocol.EventCodeUpdate))
	join(t, svc, "conn-b", "R1", "Bob")
	var snap domain.RoomSnapshot
	require.True(t, fb.last(t, "conn-b", protocol.EventRoomState, &snap))
	assert.Empty(t, snap.Code, "document unchanged by non-member event")
}

// --- presence and creator re-election ---

func TestDisconnect_CreatorReElection(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-b", "R1", "Bob")
	join(t, svc, "conn-c", "R1", "Cara")

	svc.HandleDisconnect("conn-a")

	var left protocol.RosterUpdate
	require.True(t, fb.last(t, "conn-b", protocol.EventUserLeft, &left))
	assert.Equal(t, "conn-a", left.ConnID)
	assert.Equal(t, "conn-b", left.CreatorID, "smallest remaining join order becomes creator")
	assert.Len(t, left.Roster, 2)

	// A non-creator departure never moves the creator.
	svc.HandleDisconnect("conn-c")
	require.True(t, fb.last(t, "conn-b", protocol.EventUserLeft, &left))
	assert.Equal(t, "conn-c", left.ConnID)
	assert.Equal(t, "conn-b", left.CreatorID)
}

func TestLeaveRoom_EmptyRoomDiscarded(t *testing.T) {
	svc, _ := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")

	sendIntent(t, svc, "conn-a", protocol.EventCodeChange, protocol.CodeChange{RoomID: "R1", Text: "draft"})
	sendIntent(t, svc, "conn-a", protocol.EventLeaveRoom, protocol.LeaveRoom{RoomID: "R1"})

	_, _, exists := svc.Rooms().RoomInfo("R1")
	assert.False(t, exists, "room state is discarded once the roster empties")
}

// --- typing tracker ---

func TestTyping_ExpiresAfterSilence(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-b", "R1", "Bob")

	sendIntent(t, svc, "conn-a", protocol.EventTypingStart, protocol.Typing{RoomID: "R1", DisplayName: "Alice"})

	var typing protocol.UserTyping
	require.True(t, fb.last(t, "conn-b", protocol.EventUserTyping, &typing))
	assert.True(t, typing.IsTyping)
	assert.Equal(t, []string{"Alice"}, typing.Typing)

	require.Eventually(t, func() bool {
		var latest protocol.UserTyping
		return fb.last(t, "conn-b", protocol.EventUserTyping, &latest) && !latest.IsTyping
	}, 2*time.Second, 10*time.Millisecond, "marker must expire after the TTL")

	require.True(t, fb.last(t, "conn-b", protocol.EventUserTyping, &typing))
	assert.Empty(t, typing.Typing)
}

func TestTyping_StopWinsOverPendingTimer(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-b", "R1", "Bob")

	sendIntent(t, svc, "conn-a", protocol.EventTypingStart, protocol.Typing{RoomID: "R1", DisplayName: "Alice"})
	sendIntent(t, svc, "conn-a", protocol.EventTypingStop, protocol.Typing{RoomID: "R1", DisplayName: "Alice"})

	var typing protocol.UserTyping
	require.True(t, fb.last(t, "conn-b", protocol.EventUserTyping, &typing))
	assert.False(t, typing.IsTyping, "stop clears immediately")

	// The superseded expiry must not fire a second removal.
	time.Sleep(4 * testTypingTTL)
	assert.Equal(t, 2, fb.count("conn-b", protocol.EventUserTyping), "exactly one start and one stop broadcast")
}

func TestTyping_RefreshDoesNotRebroadcast(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-b", "R1", "Bob")

	sendIntent(t, svc, "conn-a", protocol.EventTypingStart, protocol.Typing{RoomID: "R1", DisplayName: "Alice"})
	sendIntent(t, svc, "conn-a", protocol.EventTypingStart, protocol.Typing{RoomID: "R1", DisplayName: "Alice"})
	sendIntent(t, svc, "conn-a", protocol.EventTypingStart, protocol.Typing{RoomID: "R1", DisplayName: "Alice"})

	assert.Equal(t, 1, fb.count("conn-b", protocol.EventUserTyping), "refreshes do not change the set")
}

func TestTyping_ClearedOnDisconnect(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-b", "R1", "Bob")

	sendIntent(t, svc, "conn-a", protocol.EventTypingStart, protocol.Typing{RoomID: "R1", DisplayName: "Alice"})
	svc.HandleDisconnect("conn-a")

	var typing protocol.UserTyping
	require.True(t, fb.last(t, "conn-b", protocol.EventUserTyping, &typing))
	assert.False(t, typing.IsTyping, "disconnect cleanup removes the marker, no waiting for expiry")
	assert.Empty(t, typing.Typing)
}

// --- cursor broadcaster ---

func TestCursor_MoveBroadcastsWithStableColor(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Sam")
	join(t, svc, "conn-b", "R1", "Bob")

	pos := domain.CursorPosition{Line: 3, Ch: 14}
	sendIntent(t, svc, "conn-a", protocol.EventCursorMove, protocol.CursorMove{RoomID: "R1", Position: pos})

	var cursor domain.RemoteCursor
	require.True(t, fb.last(t, "conn-b", protocol.EventUserCursorMove, &cursor))
	assert.Equal(t, "conn-a", cursor.ConnID)
	assert.Equal(t, pos, cursor.Position)
	assert.Equal(t, "Sam", cursor.DisplayName)
	assert.Equal(t, domain.ColorFor("Sam"), cursor.Color)
	assert.Zero(t, fb.count("conn-a", protocol.EventUserCursorMove), "no echo to the mover")
}

func TestCursor_ExpiryBroadcastsRemovalExactlyOnce(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-b", "R1", "Bob")

	sendIntent(t, svc, "conn-a", protocol.EventCursorMove, protocol.CursorMove{RoomID: "R1", Position: domain.CursorPosition{Line: 1}})

	require.Eventually(t, func() bool {
		return fb.count("conn-b", protocol.EventUserCursorRemove) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(4 * testCursorTTL)
	assert.Equal(t, 1, fb.count("conn-b", protocol.EventUserCursorRemove), "removal fires exactly once")
}

func TestCursor_RemovedImmediatelyOnLeave(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-b", "R1", "Bob")

	sendIntent(t, svc, "conn-a", protocol.EventCursorMove, protocol.CursorMove{RoomID: "R1", Position: domain.CursorPosition{Line: 1}})
	svc.HandleDisconnect("conn-a")

	var removed protocol.CursorRemove
	require.True(t, fb.last(t, "conn-b", protocol.EventUserCursorRemove, &removed))
	assert.Equal(t, "conn-a", removed.ConnID)

	time.Sleep(4 * testCursorTTL)
	assert.Equal(t, 1, fb.count("conn-b", protocol.EventUserCursorRemove), "pending expiry superseded by departure")
}

// --- interview mode ---

func TestInterviewMode_CreatorOnlyToggleAndGating(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice") // creator
	join(t, svc, "conn-b", "R1", "Bob")

	// Non-creator toggle is rejected.
	sendIntent(t, svc, "conn-b", protocol.EventInterviewModeToggle, protocol.InterviewModeToggle{RoomID: "R1", Enabled: true})
	var denied protocol.ActionDenied
	require.True(t, fb.last(t, "conn-b", protocol.EventActionDenied, &denied))
	assert.Equal(t, protocol.EventInterviewModeToggle, denied.Event)
	assert.Zero(t, fb.count("conn-a", protocol.EventInterviewModeUpdate))

	// Creator toggle converges everyone, sender included.
	sendIntent(t, svc, "conn-a", protocol.EventInterviewModeToggle, protocol.InterviewModeToggle{RoomID: "R1", Enabled: true})
	var mode protocol.InterviewModeUpdate
	require.True(t, fb.last(t, "conn-a", protocol.EventInterviewModeUpdate, &mode))
	assert.True(t, mode.Enabled)
	require.True(t, fb.last(t, "conn-b", protocol.EventInterviewModeUpdate, &mode))
	assert.True(t, mode.Enabled)

	// Non-creator edits are rejected server-side; the document stays put.
	sendIntent(t, svc, "conn-b", protocol.EventCodeChange, protocol.CodeChange{RoomID: "R1", Text: "hack"})
	assert.Zero(t, fb.count("conn-a", protocol.EventCodeUpdate))
	require.True(t, fb.last(t, "conn-b", protocol.EventActionDenied, &denied))
	assert.Equal(t, protocol.EventCodeChange, denied.Event)

	sendIntent(t, svc, "conn-b", protocol.EventLanguageChange, protocol.LanguageChange{RoomID: "R1", Language: "python"})
	assert.Zero(t, fb.count("conn-a", protocol.EventLanguageUpdate))

	// The creator keeps full read-write control.
	sendIntent(t, svc, "conn-a", protocol.EventCodeChange, protocol.CodeChange{RoomID: "R1", Text: "ok"})
	var update protocol.CodeUpdate
	require.True(t, fb.last(t, "conn-b", protocol.EventCodeUpdate, &update))
	assert.Equal(t, "ok", update.Text)

	join(t, svc, "conn-c", "R1", "Cara")
	var snap domain.RoomSnapshot
	require.True(t, fb.last(t, "conn-c", protocol.EventRoomState, &snap))
	assert.Equal(t, "ok", snap.Code)
	assert.True(t, snap.InterviewMode)
}

func TestInterviewMode_ReElectedCreatorGainsControl(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-b", "R1", "Bob")

	sendIntent(t, svc, "conn-a", protocol.EventInterviewModeToggle, protocol.InterviewModeToggle{RoomID: "R1", Enabled: true})
	svc.HandleDisconnect("conn-a")

	// Bob holds the smallest remaining join order and may now exit the mode.
	sendIntent(t, svc, "conn-b", protocol.EventInterviewModeToggle, protocol.InterviewModeToggle{RoomID: "R1", Enabled: false})
	var mode protocol.InterviewModeUpdate
	require.True(t, fb.last(t, "conn-b", protocol.EventInterviewModeUpdate, &mode))
	assert.False(t, mode.Enabled)
}

// --- chat channel ---

func TestChat_EchoesToSenderAndReplaysOnJoin(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")
	join(t, svc, "conn-b", "R1", "Bob")

	texts := []string{"hello", "anyone here?", "yes"}
	senders := []string{"conn-a", "conn-a", "conn-b"}
	for i, text := range texts {
		sendIntent(t, svc, senders[i], protocol.EventChatMessage, protocol.ChatSend{RoomID: "R1", Text: text})
	}

	// Unlike code updates, chat includes the sender.
	assert.Equal(t, 3, fb.count("conn-a", protocol.EventChatMessage))
	assert.Equal(t, 3, fb.count("conn-b", protocol.EventChatMessage))

	var msg domain.ChatMessage
	require.True(t, fb.last(t, "conn-a", protocol.EventChatMessage, &msg))
	assert.Equal(t, "yes", msg.Text)
	assert.Equal(t, "Bob", msg.DisplayName)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())

	join(t, svc, "conn-c", "R1", "Cara")
	var snap domain.RoomSnapshot
	require.True(t, fb.last(t, "conn-c", protocol.EventRoomState, &snap))
	require.Len(t, snap.ChatHistory, 3)
	for i, text := range texts {
		assert.Equal(t, text, snap.ChatHistory[i].Text, "history replays in post order")
	}
}

// --- frame handling ---

func TestHandleFrame_MalformedAndUnknownFramesDropped(t *testing.T) {
	svc, fb := newTestService(t)
	join(t, svc, "conn-a", "R1", "Alice")

	svc.HandleFrame("conn-a", []byte("{not json"))
	svc.HandleFrame("conn-a", []byte(`{"event":"no-such-event","data":{}}`))

	// The room survives and keeps working.
	sendIntent(t, svc, "conn-a", protocol.EventCodeChange, protocol.CodeChange{RoomID: "R1", Text: "still alive"})
	join(t, svc, "conn-b", "R1", "Bob")
	var snap domain.RoomSnapshot
	require.True(t, fb.last(t, "conn-b", protocol.EventRoomState, &snap))
	assert.Equal(t, "still alive", snap.Code)
}
