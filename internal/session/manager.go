package session

import "sync"

// Manager owns the room map and the connection→room index. The index is the
// presence invariant: a connection belongs to at most one room at a time.
// Lock order is always manager.mu before room.mu, never the reverse.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*room
	conns map[string]string
}

func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*room),
		conns: make(map[string]string),
	}
}

func (m *Manager) get(roomID string) (*room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

// getOrCreate returns the room, creating it lazily on first reference.
// existed reports whether the room was already there, which the authority
// uses to tell implicit creation apart from a stale-connection event.
func (m *Manager) getOrCreate(roomID string) (r *room, existed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, existed = m.rooms[roomID]
	if !existed {
		r = newRoom(roomID)
		m.rooms[roomID] = r
	}
	return r, existed
}

// bindAndGet atomically checks the presence invariant, binds the connection
// to the room, and returns the room (creating it if needed). Binding and
// creation share one critical section so a concurrent teardown can never
// observe the room as abandoned while a join is in flight.
func (m *Manager) bindAndGet(connID, roomID string) (*room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, bound := m.conns[connID]; bound {
		return nil, ErrAlreadyJoined
	}
	r, ok := m.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		m.rooms[roomID] = r
	}
	m.conns[connID] = roomID
	return r, nil
}

// roomOf resolves the room a connection is bound to.
func (m *Manager) roomOf(connID string) (*room, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomID, ok := m.conns[connID]
	if !ok {
		return nil, "", false
	}
	r, ok := m.rooms[roomID]
	return r, roomID, ok
}

func (m *Manager) unbind(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connID)
}

// destroyIfAbandoned discards a room's state once no connection is bound to
// it. Checked under the manager lock so a join racing the last leave either
// rebinds first (room survives) or finds no room and creates a fresh one.
func (m *Manager) destroyIfAbandoned(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	for _, bound := range m.conns {
		if bound == roomID {
			return false
		}
	}
	r.mu.Lock()
	r.stopTimers()
	r.mu.Unlock()
	delete(m.rooms, roomID)
	return true
}

// RoomInfo reports lobby-level facts about a room without exposing state.
func (m *Manager) RoomInfo(roomID string) (participants int, language string, exists bool) {
	r, ok := m.get(roomID)
	if !ok {
		return 0, "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.roster), r.language, true
}
