// Package domain defines the value types shared by the session engine:
// participants, chat messages, cursors, and room snapshots. Everything here
// is plain data; ownership and mutation rules live in the session package.
package domain

// Participant is one connected member of a room. ConnID is unique per
// WebSocket connection and stable for its lifetime; DisplayName is chosen by
// the user and is not unique. JoinOrder is assigned by the room on join and
// is never renumbered, so the participant holding the smallest JoinOrder
// still present is the room's creator.
type Participant struct {
	ConnID      string `json:"connectionId"`
	DisplayName string `json:"displayName"`
	JoinOrder   uint64 `json:"joinOrder"`
}

// RoomSnapshot is the full room state delivered to a newly joined
// participant before any incremental update.
type RoomSnapshot struct {
	RoomID        string        `json:"roomId"`
	Code          string        `json:"document"`
	Language      string        `json:"language"`
	Roster        []Participant `json:"roster"`
	ChatHistory   []ChatMessage `json:"chatHistory"`
	InterviewMode bool          `json:"interviewMode"`
	CreatorID     string        `json:"creatorId"`
	Typing        []string      `json:"typing"`
}
