// Package hub is the room server: password verification, membership and
// admin bookkeeping, message-id assignment, and frame fan-out. It only ever
// relays opaque envelopes; plaintext never reaches it.
package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Coderaryanyadav/SecureChat/internal/protocol"
)

var (
	errClientClosed = errors.New("client closed")
	errBackpressure = errors.New("backpressure")
)

const (
	reasonWrongPassword = "Wrong password for this room!"
	reasonNameTaken     = "Name already taken!"
	reasonRoomLocked    = "Room is locked."
)

// roomState is the server's authoritative view of one room. The password
// set by the first member outlives an empty room; admin does not.
type roomState struct {
	password string
	admin    string
	locked   bool
	clients  []*client // join order; the oldest member is promoted on admin leave
}

func (r *roomState) memberNames() []string {
	names := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		names = append(names, c.name)
	}
	return names
}

func (r *roomState) hasName(name string) bool {
	for _, c := range r.clients {
		if c.name == name {
			return true
		}
	}
	return false
}

type Manager struct {
	mu        sync.Mutex
	rooms     map[string]*roomState
	passwords map[string]string
	history   map[string][]string
	limiter   *rateLimiter
}

func NewManager(rateLimit int, rateInterval time.Duration) *Manager {
	return &Manager{
		rooms:     make(map[string]*roomState),
		passwords: make(map[string]string),
		history:   make(map[string][]string),
		limiter:   newRateLimiter(rateLimit, rateInterval),
	}
}

// VerifyRoom checks the password, or records it when the room is new: the
// first member to verify sets the room secret.
func (m *Manager) VerifyRoom(roomID, password string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifyLocked(roomID, password)
}

func (m *Manager) verifyLocked(roomID, password string) bool {
	stored, ok := m.passwords[roomID]
	if !ok {
		m.passwords[roomID] = password
		return true
	}
	return stored == password
}

func (m *Manager) SaveRoom(userID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.history[userID] {
		if r == roomID {
			return
		}
	}
	m.history[userID] = append(m.history[userID], roomID)
}

func (m *Manager) History(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.history[userID]))
	copy(out, m.history[userID])
	return out
}

func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Join admits a client or refuses with a terminal error frame. The first
// member of a room becomes its admin.
func (m *Manager) Join(c *client, password string) bool {
	m.mu.Lock()
	if !m.verifyLocked(c.room, password) {
		m.mu.Unlock()
		m.refuse(c, reasonWrongPassword)
		return false
	}

	room, ok := m.rooms[c.room]
	if !ok {
		room = &roomState{password: m.passwords[c.room]}
		m.rooms[c.room] = room
	}
	if room.locked {
		m.mu.Unlock()
		m.refuse(c, reasonRoomLocked)
		return false
	}
	if room.hasName(c.name) {
		m.mu.Unlock()
		m.refuse(c, reasonNameTaken)
		return false
	}

	room.clients = append(room.clients, c)
	if room.admin == "" {
		room.admin = c.name
	}
	m.mu.Unlock()

	log.Info().Str("module", "hub").Str("room", c.room).Str("name", c.name).Msg("member joined")
	m.broadcastUserList(c.room)
	m.broadcastSystem(c.room, "User '"+c.name+"' joined the room.")
	return true
}

// Leave detaches a client. The longest-standing remaining member inherits
// admin; an emptied room keeps its password but loses its admin.
func (m *Manager) Leave(c *client) {
	m.mu.Lock()
	room, ok := m.rooms[c.room]
	if !ok {
		m.mu.Unlock()
		c.close()
		return
	}
	removed := false
	for i, other := range room.clients {
		if other == c {
			room.clients = append(room.clients[:i], room.clients[i+1:]...)
			removed = true
			break
		}
	}
	if removed && room.admin == c.name {
		room.admin = ""
		if len(room.clients) > 0 {
			room.admin = room.clients[0].name
		}
	}
	empty := len(room.clients) == 0
	if empty {
		delete(m.rooms, c.room)
	}
	m.mu.Unlock()

	c.close()
	if !removed {
		return
	}
	log.Info().Str("module", "hub").Str("room", c.room).Str("name", c.name).Msg("member left")
	if !empty {
		m.broadcastUserList(c.room)
		m.broadcastSystem(c.room, c.name+" has left the chat.")
	}
}

func (m *Manager) refuse(c *client, reason string) {
	data, _ := json.Marshal(protocol.Error{Type: protocol.TypeError, Message: reason})
	_ = c.trySend(data)
	// give the write pump a moment to flush before tearing down
	time.Sleep(50 * time.Millisecond)
	c.close()
}

// HandleFrame dispatches one inbound frame from a member.
func (m *Manager) HandleFrame(c *client, data []byte) {
	typ, err := protocol.Peek(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("name", c.name).Msg("bad frame")
		return
	}

	switch {
	case protocol.IsPayload(typ):
		m.handlePayload(c, typ, data)
	case typ == protocol.TypeTyping:
		var f protocol.Typing
		if json.Unmarshal(data, &f) != nil {
			return
		}
		m.broadcast(c.room, protocol.Typing{Type: protocol.TypeTyping, Sender: c.name, Active: f.Active})
	case typ == protocol.TypeEditMsg:
		var f protocol.Edit
		if json.Unmarshal(data, &f) != nil || f.ID == "" {
			return
		}
		m.broadcast(c.room, protocol.Edit{Type: protocol.TypeEditMsg, ID: f.ID, Sender: c.name, Envelope: f.Envelope})
	case typ == protocol.TypeDeleteRequest:
		var f protocol.Delete
		if json.Unmarshal(data, &f) != nil || f.ID == "" {
			return
		}
		m.broadcast(c.room, protocol.Delete{Type: protocol.TypeDeleteMsg, ID: f.ID})
	case typ == protocol.TypeReaction:
		var f protocol.Reaction
		if json.Unmarshal(data, &f) != nil || f.ID == "" {
			return
		}
		m.broadcast(c.room, protocol.Reaction{Type: protocol.TypeReaction, ID: f.ID, Emoji: f.Emoji, From: c.name})
	case typ == protocol.TypeWipe:
		if !m.isAdmin(c) {
			log.Warn().Str("module", "hub").Str("name", c.name).Msg("wipe refused, not admin")
			return
		}
		m.broadcast(c.room, protocol.Wipe{Type: protocol.TypeDeleteAll})
	case typ == protocol.TypeLock, typ == protocol.TypeUnlock:
		m.handleLock(c, typ == protocol.TypeLock)
	case typ == protocol.TypeKick:
		var f protocol.Kick
		if json.Unmarshal(data, &f) != nil {
			return
		}
		m.handleKick(c, f.Target)
	case typ == protocol.TypePing:
		data, _ := json.Marshal(map[string]string{"type": string(protocol.TypePong)})
		_ = c.trySend(data)
	default:
		log.Warn().Str("module", "hub").Str("type", string(typ)).Msg("unknown frame type")
	}
}

func (m *Manager) handlePayload(c *client, typ protocol.Type, data []byte) {
	var f protocol.Payload
	if json.Unmarshal(data, &f) != nil || f.Envelope == "" {
		return
	}
	if !m.limiter.allow(c.room + "/" + c.name) {
		log.Warn().Str("module", "hub").Str("name", c.name).Msg("rate limited")
		return
	}
	// The hub is the id authority: senders transmit without one.
	m.broadcast(c.room, protocol.Payload{
		Type:         typ,
		ID:           uuid.NewString(),
		Sender:       c.name,
		Envelope:     f.Envelope,
		SelfDestruct: f.SelfDestruct,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

func (m *Manager) handleLock(c *client, lock bool) {
	m.mu.Lock()
	room, ok := m.rooms[c.room]
	if !ok || room.admin != c.name {
		m.mu.Unlock()
		log.Warn().Str("module", "hub").Str("name", c.name).Msg("lock change refused, not admin")
		return
	}
	room.locked = lock
	m.mu.Unlock()

	m.broadcastUserList(c.room)
	state := "unlocked"
	if lock {
		state = "locked"
	}
	m.broadcastSystem(c.room, "Room "+state+" by "+c.name+".")
}

// handleKick removes every connection registered under the target display
// name. No ban is recorded: the kicked member may rejoin under the same name.
func (m *Manager) handleKick(c *client, target string) {
	m.mu.Lock()
	room, ok := m.rooms[c.room]
	if !ok || room.admin != c.name {
		m.mu.Unlock()
		log.Warn().Str("module", "hub").Str("name", c.name).Msg("kick refused, not admin")
		return
	}
	if target == "" || target == c.name {
		m.mu.Unlock()
		return
	}
	var kicked []*client
	remaining := room.clients[:0]
	for _, other := range room.clients {
		if other.name == target {
			kicked = append(kicked, other)
		} else {
			remaining = append(remaining, other)
		}
	}
	room.clients = remaining
	m.mu.Unlock()

	if len(kicked) == 0 {
		return
	}
	notice, _ := json.Marshal(protocol.Kicked{Type: protocol.TypeKicked, Target: target, Reason: "removed by admin"})
	for _, k := range kicked {
		_ = k.trySend(notice)
	}
	// The kicked notice is broadcast room-wide too, so other members see it;
	// only the named member treats it as terminal.
	m.broadcast(c.room, protocol.Kicked{Type: protocol.TypeKicked, Target: target, Reason: "removed by admin"})
	time.Sleep(50 * time.Millisecond)
	for _, k := range kicked {
		k.close()
	}
	m.broadcastUserList(c.room)
}

func (m *Manager) isAdmin(c *client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[c.room]
	return ok && room.admin == c.name
}

func (m *Manager) broadcastUserList(roomID string) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	f := protocol.UserList{
		Type:    protocol.TypeUserList,
		Members: room.memberNames(),
		Admin:   room.admin,
		Locked:  room.locked,
	}
	m.mu.Unlock()
	m.broadcast(roomID, f)
}

func (m *Manager) broadcastSystem(roomID, content string) {
	m.broadcast(roomID, protocol.System{Type: protocol.TypeSystem, Content: content})
}

// broadcast fans a frame out to every member of a room, dropping clients
// whose send buffer is dead.
func (m *Manager) broadcast(roomID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("broadcast marshal")
		return
	}

	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	targets := make([]*client, len(room.clients))
	copy(targets, room.clients)
	m.mu.Unlock()

	var dead []*client
	for _, c := range targets {
		if err := c.trySend(data); err != nil {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		m.Leave(c)
	}
}
