package domain

import "time"

// ChatMessage is one entry in a room's append-only chat log. Timestamp is
// assigned on arrival at the authority; client clocks are display-only and
// never used for ordering.
type ChatMessage struct {
	ID           string    `json:"id"`
	SenderConnID string    `json:"senderConnectionId"`
	DisplayName  string    `json:"displayName"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
}
