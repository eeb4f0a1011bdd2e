// Package tasks defines the asynq task types and payloads.
package tasks

import "encoding/json"

const (
	// TypeRoomActivitySweep clears activity-tracking entries for rooms that
	// have gone idle. Bookkeeping only; room state lives and dies in memory.
	TypeRoomActivitySweep = "room:activity_sweep"
)

// RoomActivitySweepPayload configures one sweep run.
type RoomActivitySweepPayload struct {
	// IdleCutoffMinutes: entries older than this are dropped.
	IdleCutoffMinutes int `json:"idle_cutoff_minutes"`
}

// NewRoomActivitySweepTask builds the payload for a sweep task.
func NewRoomActivitySweepTask(idleCutoffMinutes int) ([]byte, error) {
	if idleCutoffMinutes <= 0 {
		idleCutoffMinutes = 24 * 60
	}
	return json.Marshal(RoomActivitySweepPayload{IdleCutoffMinutes: idleCutoffMinutes})
}
