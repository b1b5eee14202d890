package session

import "errors"

var (
	ErrNotActive      = errors.New("session not active")
	ErrSessionClosed  = errors.New("session closed")
	ErrJoinInProgress = errors.New("join already in progress for this room")
	ErrNotJoined      = errors.New("room not joined")
	ErrEmptyMessage   = errors.New("empty message")
)

// ProtocolError is a server-sent error or kick. Terminal for the room it
// arrives on, never for any other open room.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}
