// Package http exposes the small REST surface next to the WebSocket
// endpoint: a lobby lookup used by the join-or-create page.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"codecollab/internal/session"
)

type RoomHandler struct {
	sessions *session.Service
}

func NewRoomHandler(sessions *session.Service) *RoomHandler {
	if sessions == nil {
		panic("session.Service cannot be nil for RoomHandler")
	}
	return &RoomHandler{sessions: sessions}
}

// RoomInfoResponse describes a room at lobby level. A missing room is not an
// error: rooms are created lazily on first join, so the lobby only wants to
// know whether anyone is already there.
type RoomInfoResponse struct {
	RoomID       string `json:"roomId"`
	Exists       bool   `json:"exists"`
	Participants int    `json:"participants"`
	Language     string `json:"language,omitempty"`
}

// GetRoom handles GET /api/rooms/:roomId.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Room ID is required"})
		return
	}
	participants, language, exists := h.sessions.Rooms().RoomInfo(roomID)
	c.JSON(http.StatusOK, RoomInfoResponse{
		RoomID:       roomID,
		Exists:       exists,
		Participants: participants,
		Language:     language,
	})
}
