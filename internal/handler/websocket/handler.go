// Package websocket upgrades HTTP requests into hub clients.
package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"codecollab/internal/hub"
)

// WebSocketHandler accepts connections on /ws. The connection carries no
// room binding; the client's first frame is expected to be a join-room
// event, matching the protocol surface.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
}

func NewWebSocketHandler(h *hub.Hub, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		},
	}
	return &WebSocketHandler{upgrader: upgrader, hub: h}
}

// HandleConnection upgrades the request and registers the client.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logrus.WithError(err).Error("WS Handler: failed to upgrade connection")
		return
	}

	connID := uuid.NewString()
	logCtx := logrus.WithField("conn_id", connID)
	logCtx.Info("WS Handler: connection upgraded to WebSocket")

	client := hub.NewClient(h.hub, conn, connID)
	// Synchronous registration: the client must be routable before its read
	// pump can deliver a frame that expects a reply.
	if !h.hub.Register(client) {
		logCtx.Warn("WS Handler: hub is shutting down, rejecting connection")
		client.CloseConn()
		return
	}
	client.Run()
}
