// Package session is the secure room-session engine: per-room state, the
// join/operate/reconnect lifecycle, the message log, and the registry that
// multiplexes any number of concurrently open rooms.
package session

import (
	"sync"
	"time"

	"github.com/Coderaryanyadav/SecureChat/internal/domain"
)

// DecryptFailedPlaceholder is shown instead of silently dropping a message
// that would not open, typically because of a wrong password.
const DecryptFailedPlaceholder = "[unable to decrypt message]"

// Room holds one joined room's state. The key is derived exactly once per
// join attempt, owned exclusively by this session, and never serialized or
// logged. All mutation happens through the owning Controller; accessors are
// safe to call from any goroutine.
type Room struct {
	id          domain.RoomID
	displayName string

	mu         sync.RWMutex
	members    []string
	admin      string
	locked     bool
	messages   []domain.Message
	reconnects int
}

func newRoom(id domain.RoomID, displayName string) *Room {
	return &Room{id: id, displayName: displayName}
}

func (r *Room) ID() domain.RoomID   { return r.id }
func (r *Room) DisplayName() string { return r.displayName }

func (r *Room) Membership() domain.Membership {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]string, len(r.members))
	copy(members, r.members)
	return domain.Membership{Members: members, Admin: r.admin, Locked: r.locked}
}

// IsAdmin reports whether the server currently designates this member as the
// room admin. The client never computes adminship from anything else.
func (r *Room) IsAdmin() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admin != "" && r.admin == r.displayName
}

func (r *Room) Locked() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locked
}

func (r *Room) Messages() []domain.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Room) ReconnectAttempts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reconnects
}

// setMembership replaces members, admin and locked wholesale. Missed
// intermediate updates therefore never leave the client's view stale.
func (r *Room) setMembership(m domain.Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = m.Members
	r.admin = m.Admin
	r.locked = m.Locked
}

func (r *Room) appendMessage(msg domain.Message) {
	msg.ReceivedAt = time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// editMessage replaces the display body for id. Returns false when the id is
// unknown or already deleted, which callers treat as a no-op.
func (r *Room) editMessage(id domain.MessageID, body string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.messages[i].Body = body
			r.messages[i].DecryptFailed = false
			return true
		}
	}
	return false
}

// deleteMessage removes id from the log. Idempotent: deleting an absent id
// returns false and nothing else happens, so a self-destruct timer and a
// server-driven delete can both fire for the same message in either order.
func (r *Room) deleteMessage(id domain.MessageID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return true
		}
	}
	return false
}

// addReaction appends to the message's reaction sequence. Duplicates are
// allowed; the protocol assumes no dedup invariant.
func (r *Room) addReaction(id domain.MessageID, emoji, from string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.messages[i].Reactions = append(r.messages[i].Reactions, domain.Reaction{Emoji: emoji, From: from})
			return true
		}
	}
	return false
}

func (r *Room) wipe() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.messages)
	r.messages = nil
	return n
}

func (r *Room) setReconnects(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnects = n
}
