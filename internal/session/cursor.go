package session

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"codecollab/internal/domain"
	"codecollab/internal/protocol"
)

// Cursor broadcaster: ephemeral remote-cursor positions with TTL expiry, so
// stale cursors vanish from every client without a heartbeat protocol. The
// color is a pure function of the display name, stable across reconnects.

func (s *Service) onCursorMove(connID string, data json.RawMessage) {
	var p protocol.CursorMove
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		logrus.WithField("conn_id", connID).Warn("Dropping cursor-move with bad payload")
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

	if entry, ok := r.cursors[connID]; ok {
		entry.timer.Stop()
	}
	r.seq++
	seq := r.seq
	roomID := r.id
	cursor := domain.RemoteCursor{
		ConnID:      connID,
		Position:    p.Position,
		Color:       domain.ColorFor(member.DisplayName),
		DisplayName: member.DisplayName,
	}
	timer := time.AfterFunc(s.cfg.CursorTTL, func() {
		s.expireCursor(roomID, connID, seq)
	})
	r.cursors[connID] = &cursorEntry{seq: seq, timer: timer, cursor: cursor}

	s.broadcastLocked(r, connID, protocol.EventUserCursorMove, cursor)
}

// expireCursor removes an entry that went unrefreshed for the TTL and
// broadcasts the removal exactly once; the seq check discards timers
// superseded by a later move or by departure cleanup.
func (s *Service) expireCursor(roomID, connID string, seq uint64) {
	r, ok := s.rooms.get(roomID)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cursors[connID]
	if !ok || entry.seq != seq {
		return
	}
	delete(r.cursors, connID)
	s.broadcastLocked(r, "", protocol.EventUserCursorRemove, protocol.CursorRemove{ConnID: connID})
}

// clearCursorLocked removes a connection's cursor immediately on departure,
// superseding any pending expiry.
func (s *Service) clearCursorLocked(r *room, connID string) {
	entry, ok := r.cursors[connID]
	if !ok {
		return
	}
	entry.timer.Stop()
	delete(r.cursors, connID)
	s.broadcastLocked(r, "", protocol.EventUserCursorRemove, protocol.CursorRemove{ConnID: connID})
}
