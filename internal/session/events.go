package session

import "github.com/Coderaryanyadav/SecureChat/internal/domain"

type EventKind string

const (
	EventMessage        EventKind = "message"
	EventMessageEdited  EventKind = "message_edited"
	EventMessageDeleted EventKind = "message_deleted"
	EventWiped          EventKind = "wiped"
	EventReaction       EventKind = "reaction"
	EventMembership     EventKind = "membership"
	EventTyping         EventKind = "typing"
	EventSystem         EventKind = "system"
	EventState          EventKind = "state"
	EventClosed         EventKind = "closed"
)

// Event is what the engine surfaces to its consumer (UI, tests). Fields are
// populated per kind; Room is always set.
type Event struct {
	Room domain.RoomID
	Kind EventKind

	Message    *domain.Message // message
	ID         domain.MessageID
	Sender     string
	Text       string // system content, close reason
	Membership domain.Membership
	State      State
	Typing     bool
}
