// Package repository defines the storage-facing interfaces the engine
// depends on. Room state itself is memory-only by design; what lives here is
// ephemeral operational bookkeeping.
package repository

import (
	"context"
	"time"
)

// StateRepository tracks per-room activity timestamps, typically in Redis.
// The session authority touches a room on meaningful traffic and the sweep
// worker clears entries that have gone idle.
type StateRepository interface {
	// TouchRoomActivity records "now" as the room's last activity.
	TouchRoomActivity(ctx context.Context, roomID string) error

	// ListRoomActivity returns every tracked room with its last activity time.
	ListRoomActivity(ctx context.Context) (map[string]time.Time, error)

	// ClearRoomActivity drops tracking entries for the given rooms.
	ClearRoomActivity(ctx context.Context, roomIDs []string) error
}
