package session

import (
	"sort"
	"sync"
	"time"

	"codecollab/internal/domain"
)

// typingEntry is one restartable typing marker. seq ties a scheduled expiry
// to the signal that armed it: a timer that fires after its entry was
// refreshed or cleared finds a newer seq and does nothing.
type typingEntry struct {
	seq   uint64
	timer *time.Timer
}

// cursorEntry is one restartable remote-cursor marker, same seq discipline.
type cursorEntry struct {
	seq    uint64
	timer  *time.Timer
	cursor domain.RemoteCursor
}

// room is the per-room aggregate. All fields below mu are owned by it; every
// mutation and every broadcast fan-out for the room happens under mu, which
// is what gives all participants the same relative event order.
type room struct {
	id string

	mu            sync.Mutex
	code          string
	language      string
	interviewMode bool
	roster        []domain.Participant
	nextJoinOrder uint64
	chat          []domain.ChatMessage
	typing        map[string]*typingEntry
	cursors       map[string]*cursorEntry
	seq           uint64
}

func newRoom(id string) *room {
	return &room{
		id:       id,
		language: "javascript",
		typing:   make(map[string]*typingEntry),
		cursors:  make(map[string]*cursorEntry),
	}
}

// creator derives the current creator: the present participant with the
// smallest join order. Recomputed on every call, never cached, so departures
// re-elect automatically. Caller holds mu.
func (r *room) creator() (domain.Participant, bool) {
	if len(r.roster) == 0 {
		return domain.Participant{}, false
	}
	best := r.roster[0]
	for _, p := range r.roster[1:] {
		if p.JoinOrder < best.JoinOrder {
			best = p
		}
	}
	return best, true
}

func (r *room) creatorID() string {
	if c, ok := r.creator(); ok {
		return c.ConnID
	}
	return ""
}

// participant looks up a roster member by connection ID. Caller holds mu.
func (r *room) participant(connID string) (domain.Participant, bool) {
	for _, p := range r.roster {
		if p.ConnID == connID {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// addParticipant appends a new member, assigning the next join order.
// Caller holds mu; the manager guarantees the connection is not already
// bound to any room, so the roster never holds duplicate connection IDs.
func (r *room) addParticipant(connID, displayName string) domain.Participant {
	p := domain.Participant{
		ConnID:      connID,
		DisplayName: displayName,
		JoinOrder:   r.nextJoinOrder,
	}
	r.nextJoinOrder++
	r.roster = append(r.roster, p)
	return p
}

// removeParticipant drops a member from the roster, preserving join order of
// the rest. Caller holds mu.
func (r *room) removeParticipant(connID string) (domain.Participant, bool) {
	for i, p := range r.roster {
		if p.ConnID == connID {
			r.roster = append(r.roster[:i], r.roster[i+1:]...)
			return p, true
		}
	}
	return domain.Participant{}, false
}

// rosterCopy returns a copy safe to hand to encoders outside the lock's
// lifetime. Caller holds mu.
func (r *room) rosterCopy() []domain.Participant {
	out := make([]domain.Participant, len(r.roster))
	copy(out, r.roster)
	return out
}

// typingNames returns the current typing set, sorted for stable output.
// Caller holds mu.
func (r *room) typingNames() []string {
	names := make([]string, 0, len(r.typing))
	for name := range r.typing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// snapshot assembles the full-state payload for a new joiner. Caller holds mu.
func (r *room) snapshot() domain.RoomSnapshot {
	history := make([]domain.ChatMessage, len(r.chat))
	copy(history, r.chat)
	return domain.RoomSnapshot{
		RoomID:        r.id,
		Code:          r.code,
		Language:      r.language,
		Roster:        r.rosterCopy(),
		ChatHistory:   history,
		InterviewMode: r.interviewMode,
		CreatorID:     r.creatorID(),
		Typing:        r.typingNames(),
	}
}

// stopTimers cancels every pending expiry. Used on teardown; the seq guard
// makes this best-effort (a timer that already fired finds the room gone).
// Caller holds mu.
func (r *room) stopTimers() {
	for _, e := range r.typing {
		e.timer.Stop()
	}
	for _, e := range r.cursors {
		e.timer.Stop()
	}
}
