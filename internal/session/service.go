// Package session implements the room authority: the single owner of each
// room's document, language, roster, chat log, typing set, and cursor map.
// Every mutation for a room is serialized by that room's lock; different
// rooms proceed in parallel. Clients only ever receive copies, delivered as
// a snapshot on join or as incremental broadcasts afterwards.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"codecollab/internal/domain"
	"codecollab/internal/protocol"
	"codecollab/internal/repository"
)

// Broadcaster delivers an encoded frame to one connection. The transport
// must not block: a stalled peer is the transport's problem, never the
// authority's.
type Broadcaster interface {
	SendToConn(connID string, frame []byte)
}

// Config carries the TTLs for the ephemeral trackers and the grace period
// for unclaimed rooms. Zero values take the protocol defaults; tests shorten
// them.
type Config struct {
	TypingTTL time.Duration
	CursorTTL time.Duration
	// ImplicitRoomGrace bounds how long a room created by an update, with
	// nobody joined yet, is retained before its state is discarded.
	ImplicitRoomGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.TypingTTL <= 0 {
		c.TypingTTL = 1000 * time.Millisecond
	}
	if c.CursorTTL <= 0 {
		c.CursorTTL = 2000 * time.Millisecond
	}
	if c.ImplicitRoomGrace <= 0 {
		c.ImplicitRoomGrace = 2 * time.Minute
	}
	return c
}

// intentHandler consumes one decoded intent payload for a connection.
type intentHandler func(connID string, data json.RawMessage)

// Service is the room authority plus presence registry. It consumes intent
// events through HandleFrame/HandleDisconnect and emits broadcasts through
// the attached Broadcaster.
type Service struct {
	cfg      Config
	rooms    *Manager
	b        Broadcaster
	state    repository.StateRepository
	handlers map[string]intentHandler
}

func NewService(cfg Config, stateRepo repository.StateRepository) *Service {
	if stateRepo == nil {
		panic("StateRepository cannot be nil for session.Service")
	}
	s := &Service{
		cfg:   cfg.withDefaults(),
		rooms: NewManager(),
		state: stateRepo,
	}
	s.handlers = map[string]intentHandler{
		protocol.EventJoinRoom:            s.onJoinRoom,
		protocol.EventLeaveRoom:           s.onLeaveRoom,
		protocol.EventCodeChange:          s.onCodeChange,
		protocol.EventLanguageChange:      s.onLanguageChange,
		protocol.EventTypingStart:         s.onTypingStart,
		protocol.EventTypingStop:          s.onTypingStop,
		protocol.EventCursorMove:          s.onCursorMove,
		protocol.EventInterviewModeToggle: s.onInterviewModeToggle,
		protocol.EventChatMessage:         s.onChatMessage,
	}
	return s
}

// AttachBroadcaster wires the outbound transport. Must be called before the
// service handles any frame; kept out of the constructor because the hub
// and the service reference each other.
func (s *Service) AttachBroadcaster(b Broadcaster) {
	if b == nil {
		panic("Broadcaster cannot be nil for session.Service")
	}
	s.b = b
}

// Rooms exposes lobby-level queries (HTTP handlers use this).
func (s *Service) Rooms() *Manager { return s.rooms }

// HandleFrame routes one raw inbound frame. Bad frames are dropped with a
// log line; the authority never fails a room on a single bad event.
func (s *Service) HandleFrame(connID string, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		logrus.WithField("conn_id", connID).WithError(err).Warn("Dropping malformed frame")
		return
	}
	handler, ok := s.handlers[env.Event]
	if !ok {
		logrus.WithFields(logrus.Fields{"conn_id": connID, "event": env.Event}).Warn("Dropping frame with unknown event")
		return
	}
	handler(connID, env.Data)
}

// HandleDisconnect runs best-effort cleanup for a dropped connection:
// roster removal, typing and cursor purge, creator re-election by way of
// derivation. Never an error.
func (s *Service) HandleDisconnect(connID string) {
	s.leave(connID)
}

// --- intent handlers ---

func (s *Service) onJoinRoom(connID string, data json.RawMessage) {
	var p protocol.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		logrus.WithField("conn_id", connID).Warn("Dropping join-room with bad payload")
		return
	}
	if p.DisplayName == "" {
		p.DisplayName = "Anonymous"
	}

	r, err := s.rooms.bindAndGet(connID, p.RoomID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"conn_id": connID, "room_id": p.RoomID}).WithError(err).Warn("Join rejected")
		s.deny(connID, protocol.EventJoinRoom, err.Error())
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	member := r.addParticipant(connID, p.DisplayName)
	// Snapshot goes to the joiner before anyone learns of the join, so the
	// first frame a client sees is always the full state.
	s.sendToLocked(connID, protocol.EventRoomState, r.snapshot())
	s.broadcastLocked(r, connID, protocol.EventUserJoined, protocol.RosterUpdate{
		ConnID:      member.ConnID,
		DisplayName: member.DisplayName,
		Roster:      r.rosterCopy(),
		CreatorID:   r.creatorID(),
	})
	s.touchActivity(p.RoomID)
	logrus.WithFields(logrus.Fields{
		"conn_id":      connID,
		"room_id":      p.RoomID,
		"display_name": member.DisplayName,
		"join_order":   member.JoinOrder,
	}).Info("Participant joined room")
}

func (s *Service) onLeaveRoom(connID string, _ json.RawMessage) {
	s.leave(connID)
}

func (s *Service) onCodeChange(connID string, data json.RawMessage) {
	var p protocol.CodeChange
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		logrus.WithField("conn_id", connID).Warn("Dropping code-change with bad payload")
		return
	}
	s.applyDocumentUpdate(connID, p.RoomID, protocol.EventCodeChange, func(r *room) (string, interface{}) {
		r.code = p.Text
		return protocol.EventCodeUpdate, protocol.CodeUpdate{Text: p.Text}
	})
}

func (s *Service) onLanguageChange(connID string, data json.RawMessage) {
	var p protocol.LanguageChange
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" || p.Language == "" {
		logrus.WithField("conn_id", connID).Warn("Dropping language-change with bad payload")
		return
	}
	s.applyDocumentUpdate(connID, p.RoomID, protocol.EventLanguageChange, func(r *room) (string, interface{}) {
		r.language = p.Language
		return protocol.EventLanguageUpdate, protocol.LanguageUpdate{Language: p.Language}
	})
}

// applyDocumentUpdate is the shared path for code and language updates:
// implicit room creation for unknown rooms, stale-connection drop, the
// interview-mode gate, then last-write-wins mutation and echo-suppressed
// broadcast, all under the room lock.
func (s *Service) applyDocumentUpdate(connID, roomID, intent string, apply func(*room) (string, interface{})) {
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": connID, "room_id": roomID, "event": intent})

	r, existed := s.rooms.getOrCreate(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if !existed {
		// Join-then-edit race: the update creates the room and becomes its
		// initial state. Nobody is present yet, so there is nothing to send.
		// If the expected join never lands, the grace timer reclaims the
		// room; updates with random room IDs must not grow the map forever.
		apply(r)
		s.touchActivity(roomID)
		time.AfterFunc(s.cfg.ImplicitRoomGrace, func() {
			if s.rooms.destroyIfAbandoned(roomID) {
				logrus.WithField("room_id", roomID).Info("Unclaimed room discarded")
			}
		})
		logCtx.Info("Implicitly created room from update")
		return
	}

	member, ok := r.participant(connID)
	if !ok {
		logCtx.WithError(ErrStaleConnection).Debug("Dropping update from connection outside the roster")
		return
	}
	if r.interviewMode && member.ConnID != r.creatorID() {
		logCtx.Info("Update rejected by interview-mode gate")
		s.denyLocked(connID, intent, ErrReadOnly.Error())
		return
	}

	event, payload := apply(r)
	s.broadcastLocked(r, connID, event, payload)
	s.touchActivity(roomID)
}

func (s *Service) onInterviewModeToggle(connID string, data json.RawMessage) {
	var p protocol.InterviewModeToggle
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		logrus.WithField("conn_id", connID).Warn("Dropping interview-mode-toggle with bad payload")
		return
	}
	r, ok := s.rooms.get(p.RoomID)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	member, ok := r.participant(connID)
	if !ok {
		return
	}
	if member.ConnID != r.creatorID() {
		logrus.WithFields(logrus.Fields{"conn_id": connID, "room_id": p.RoomID}).Info("Interview toggle rejected: sender is not the creator")
		s.denyLocked(connID, protocol.EventInterviewModeToggle, ErrNotCreator.Error())
		return
	}
	r.interviewMode = p.Enabled
	// The creator's own view follows the authoritative echo too, so every
	// participant converges from the same frame.
	s.broadcastLocked(r, "", protocol.EventInterviewModeUpdate, protocol.InterviewModeUpdate{Enabled: p.Enabled})
	logrus.WithFields(logrus.Fields{"room_id": p.RoomID, "enabled": p.Enabled}).Info("Interview mode toggled")
}

func (s *Service) onChatMessage(connID string, data json.RawMessage) {
	var p protocol.ChatSend
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" || p.Text == "" {
		logrus.WithField("conn_id", connID).Warn("Dropping chat-message with bad payload")
		return
	}
	r, ok := s.rooms.get(p.RoomID)
	if !ok {
		logrus.WithFields(logrus.Fields{"conn_id": connID, "room_id": p.RoomID}).WithError(ErrRoomNotFound).Debug("Dropping chat message")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	member, ok := r.participant(connID)
	if !ok {
		logrus.WithFields(logrus.Fields{"conn_id": connID, "room_id": p.RoomID}).WithError(ErrStaleConnection).Debug("Dropping chat message")
		return
	}
	msg := domain.ChatMessage{
		ID:           uuid.NewString(),
		SenderConnID: member.ConnID,
		DisplayName:  member.DisplayName,
		Text:         p.Text,
		Timestamp:    time.Now().UTC(),
	}
	r.chat = append(r.chat, msg)
	// Chat echoes to the sender as well; the log is the one order of truth.
	s.broadcastLocked(r, "", protocol.EventChatMessage, msg)
	s.touchActivity(p.RoomID)
}

// touchActivity records room traffic for the sweep worker, fire-and-forget:
// bookkeeping must never slow down or fail the authority path.
func (s *Service) touchActivity(roomID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.state.TouchRoomActivity(ctx, roomID); err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Debug("Failed to record room activity")
		}
	}()
}

// --- departure ---

func (s *Service) leave(connID string) {
	r, roomID, ok := s.rooms.roomOf(connID)
	if !ok {
		s.rooms.unbind(connID)
		return
	}

	r.mu.Lock()
	member, removed := r.removeParticipant(connID)
	if removed {
		s.clearTypingLocked(r, member.DisplayName)
		s.clearCursorLocked(r, connID)
		s.broadcastLocked(r, "", protocol.EventUserLeft, protocol.RosterUpdate{
			ConnID:      member.ConnID,
			DisplayName: member.DisplayName,
			Roster:      r.rosterCopy(),
			CreatorID:   r.creatorID(),
		})
	}
	empty := len(r.roster) == 0
	r.mu.Unlock()

	s.rooms.unbind(connID)
	if empty && s.rooms.destroyIfAbandoned(roomID) {
		logrus.WithField("room_id", roomID).Info("Room empty, state discarded")
	}
	if removed {
		logrus.WithFields(logrus.Fields{"conn_id": connID, "room_id": roomID}).Info("Participant left room")
	}
}

// --- outbound helpers, all called with the room lock held ---

// broadcastLocked fans an event out to the roster, excluding exceptConnID
// (empty string excludes nobody). Handing frames to the transport under the
// room lock is what keeps every participant's delivery order equal to the
// authority's application order.
func (s *Service) broadcastLocked(r *room, exceptConnID, event string, payload interface{}) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": r.id, "event": event}).WithError(err).Error("Failed to encode broadcast")
		return
	}
	for _, p := range r.roster {
		if p.ConnID == exceptConnID {
			continue
		}
		s.b.SendToConn(p.ConnID, frame)
	}
}

func (s *Service) sendToLocked(connID, event string, payload interface{}) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{"conn_id": connID, "event": event}).WithError(err).Error("Failed to encode frame")
		return
	}
	s.b.SendToConn(connID, frame)
}

func (s *Service) denyLocked(connID, event, reason string) {
	s.sendToLocked(connID, protocol.EventActionDenied, protocol.ActionDenied{Event: event, Reason: reason})
}

// deny is the unlocked variant for rejections raised before a room lock is
// taken (frame encoding does not touch room state).
func (s *Service) deny(connID, event, reason string) {
	s.denyLocked(connID, event, reason)
}
