package session

// State is the controller's lifecycle position. Transitions only move
// forward except Active ⇄ Reconnecting; Closed is terminal.
type State int32

const (
	StateIdle State = iota
	StateVerifying
	StateConnecting
	StateAwaitingJoinAck
	StateActive
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateVerifying:
		return "verifying"
	case StateConnecting:
		return "connecting"
	case StateAwaitingJoinAck:
		return "awaiting_join_ack"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
