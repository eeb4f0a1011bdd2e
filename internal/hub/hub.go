// Package hub is the WebSocket transport layer: it keeps the set of live
// connections and pumps frames between them and the session authority. Room
// membership is not tracked here — the session roster is the single source
// of truth, and the authority addresses connections individually through
// SendToConn.
package hub

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"codecollab/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// HubMessage is the registration traffic on the hub's internal channel.
// Frames do not pass through here: each connection's read pump hands them to
// the authority directly, which preserves per-sender ordering and lets
// different rooms progress in parallel.
type HubMessage struct {
	Type   string // "register" or "unregister"
	Client *Client
}

// Hub maintains the live connection set.
type Hub struct {
	messageChan chan HubMessage
	done        chan struct{}

	conns   map[string]*Client
	connsMu sync.RWMutex

	sessions *session.Service
}

func NewHub(sessions *session.Service) *Hub {
	if sessions == nil {
		panic("session.Service cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		done:        make(chan struct{}),
		conns:       make(map[string]*Client),
		sessions:    sessions,
	}
}

// Run drives the registration loop. It should run in its own goroutine and
// exits when Stop is called.
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")
	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			default:
				log.Warnf("Hub: received unknown message type: %s", msg.Type)
			}
		case <-h.done:
			log.Info("Hub is shutting down...")
			return
		}
	}
}

// Stop signals shutdown. The message channel itself is never closed: read
// pumps of connections that outlive the HTTP server still send their
// unregister here, and a send on a closed channel would panic the process.
func (h *Hub) Stop() {
	close(h.done)
}

// QueueMessage enqueues a hub message without blocking. Returns false if the
// hub is saturated or shutting down.
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.messageChan <- msg:
		return true
	case <-h.done:
		return false
	default:
		logrus.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

// Register adds a client to the connection set synchronously, before its
// pumps start. Registration must not ride the message channel: the read pump
// can deliver the first frame before the run loop drains the channel, and an
// unregistered connection would miss the reply. Returns false during
// shutdown.
func (h *Hub) Register(client *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	h.registerClient(client)
	return true
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: attempted to register a nil client")
		return
	}
	h.connsMu.Lock()
	h.conns[client.ConnID()] = client
	h.connsMu.Unlock()
	logrus.WithField("conn_id", client.ConnID()).Info("Client registered to Hub")
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: attempted to unregister a nil client")
		return
	}
	connID := client.ConnID()

	h.connsMu.Lock()
	registered := h.conns[connID] == client
	if registered {
		delete(h.conns, connID)
		close(client.send)
	}
	h.connsMu.Unlock()

	if !registered {
		return
	}
	// Outside the lock: disconnect cleanup walks room state and broadcasts,
	// which re-enters SendToConn.
	h.sessions.HandleDisconnect(connID)
	logrus.WithField("conn_id", connID).Info("Client unregistered from Hub")
}

// dispatch hands one inbound frame to the authority, on the calling read
// pump's goroutine.
func (h *Hub) dispatch(client *Client, raw []byte) {
	h.sessions.HandleFrame(client.ConnID(), raw)
}

// SendToConn implements session.Broadcaster. Sends are non-blocking: a
// connection whose queue is full loses the frame rather than stalling the
// room, and its write pump or keepalive will eventually tear it down.
func (h *Hub) SendToConn(connID string, frame []byte) {
	// The read lock is held across the send so unregister (which closes the
	// channel under the write lock) cannot interleave with it.
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	client, ok := h.conns[connID]
	if !ok {
		return
	}
	select {
	case client.send <- frame:
	default:
		logrus.WithField("conn_id", connID).Warn("Client send channel full, dropping frame")
	}
}
