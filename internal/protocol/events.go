// Package protocol defines the named-event wire surface between clients and
// the session authority. Every frame is a tagged envelope {event, data};
// payload structs below are the only shapes that cross the transport, so the
// authority can be exercised in tests without a live WebSocket.
package protocol

import (
	"encoding/json"
	"fmt"

	"codecollab/internal/domain"
)

// Client intent events.
const (
	EventJoinRoom            = "join-room"
	EventLeaveRoom           = "leave-room"
	EventCodeChange          = "code-change"
	EventLanguageChange      = "language-change"
	EventTypingStart         = "typing-start"
	EventTypingStop          = "typing-stop"
	EventCursorMove          = "cursor-move"
	EventInterviewModeToggle = "interview-mode-toggle"
	EventChatMessage         = "chat-message"
)

// Authority broadcast events.
const (
	EventRoomState           = "room-state"
	EventUserJoined          = "user-joined"
	EventUserLeft            = "user-left"
	EventCodeUpdate          = "code-update"
	EventLanguageUpdate      = "language-update"
	EventUserTyping          = "user-typing"
	EventUserCursorMove      = "user-cursor-move"
	EventUserCursorRemove    = "user-cursor-remove"
	EventInterviewModeUpdate = "interview-mode-update"
	EventActionDenied        = "action-denied"
)

// Envelope is the frame format on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw frame into an envelope. The payload stays raw; the
// dispatcher unmarshals it against the type the event name demands.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("protocol: frame missing event name")
	}
	return env, nil
}

// Encode builds an outbound frame for the given event and payload.
func Encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %s envelope: %w", event, err)
	}
	return frame, nil
}

// --- Intent payloads ---

type JoinRoom struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

type CodeChange struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

type LanguageChange struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type Typing struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type CursorMove struct {
	RoomID   string                `json:"roomId"`
	Position domain.CursorPosition `json:"position"`
}

type InterviewModeToggle struct {
	RoomID  string `json:"roomId"`
	Enabled bool   `json:"enabled"`
}

type ChatSend struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// --- Broadcast payloads ---

// RosterUpdate backs both user-joined and user-left: the affected
// participant plus the surviving roster and the derived creator, so clients
// converge on membership and privileges from a single frame.
type RosterUpdate struct {
	ConnID      string               `json:"connectionId"`
	DisplayName string               `json:"displayName"`
	Roster      []domain.Participant `json:"roster"`
	CreatorID   string               `json:"creatorId"`
}

type CodeUpdate struct {
	Text string `json:"text"`
}

type LanguageUpdate struct {
	Language string `json:"language"`
}

// UserTyping carries the changed name and the full current set; clients may
// render either without diffing.
type UserTyping struct {
	DisplayName string   `json:"displayName"`
	IsTyping    bool     `json:"isTyping"`
	Typing      []string `json:"typing"`
}

type CursorRemove struct {
	ConnID string `json:"connectionId"`
}

type InterviewModeUpdate struct {
	Enabled bool `json:"enabled"`
}

// ActionDenied is echoed to a sender whose intent was rejected by the
// access-control gate. Event names the rejected intent.
type ActionDenied struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}
