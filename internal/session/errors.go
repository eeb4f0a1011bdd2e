package session

import "errors"

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrNotCreator      = errors.New("only the room creator may perform this action")
	ErrReadOnly        = errors.New("interview mode is active: editing is restricted to the creator")
	ErrAlreadyJoined   = errors.New("connection already belongs to a room")
	ErrStaleConnection = errors.New("connection is not a member of this room")
)
