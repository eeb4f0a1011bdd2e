package session

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"codecollab/internal/protocol"
)

// Typing tracker: a transient "who is typing" set per room, derived from
// signal timing. Each typing-start arms (or rearms) a per-name expiry; a
// typing-stop or a disconnect clears immediately and wins over any pending
// timer via the entry seq.

func (s *Service) onTypingStart(connID string, data json.RawMessage) {
	var p protocol.Typing
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		logrus.WithField("conn_id", connID).Warn("Dropping typing-start with bad payload")
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

	// The roster name is authoritative; the payload name is ignored.
	name := member.DisplayName
	entry, refreshing := r.typing[name]
	if refreshing {
		entry.timer.Stop()
	}
	r.seq++
	seq := r.seq
	roomID := r.id
	timer := time.AfterFunc(s.cfg.TypingTTL, func() {
		s.expireTyping(roomID, name, seq)
	})
	r.typing[name] = &typingEntry{seq: seq, timer: timer}

	// A refresh does not change the set, so only a new marker broadcasts.
	if !refreshing {
		s.broadcastTypingLocked(r, connID, name, true)
	}
}

func (s *Service) onTypingStop(connID string, data json.RawMessage) {
	var p protocol.Typing
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		logrus.WithField("conn_id", connID).Warn("Dropping typing-stop with bad payload")
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
	s.clearTypingLocked(r, member.DisplayName)
}

// expireTyping fires from a timer goroutine. The seq check makes a stale
// timer (superseded by a refresh, a stop, or room teardown) a no-op, so an
// explicit stop at 500ms is never undone and never re-fired at 1000ms.
func (s *Service) expireTyping(roomID, name string, seq uint64) {
	r, ok := s.rooms.get(roomID)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.typing[name]
	if !ok || entry.seq != seq {
		return
	}
	delete(r.typing, name)
	s.broadcastTypingLocked(r, "", name, false)
}

// clearTypingLocked removes a name's marker outright (explicit stop or
// disconnect cleanup) and broadcasts the shrunken set if anything changed.
func (s *Service) clearTypingLocked(r *room, name string) {
	entry, ok := r.typing[name]
	if !ok {
		return
	}
	entry.timer.Stop()
	delete(r.typing, name)
	s.broadcastTypingLocked(r, "", name, false)
}

func (s *Service) broadcastTypingLocked(r *room, exceptConnID, name string, isTyping bool) {
	s.broadcastLocked(r, exceptConnID, protocol.EventUserTyping, protocol.UserTyping{
		DisplayName: name,
		IsTyping:    isTyping,
		Typing:      r.typingNames(),
	})
}
