package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Coderaryanyadav/SecureChat/internal/crypto"
	"github.com/Coderaryanyadav/SecureChat/internal/domain"
	"github.com/Coderaryanyadav/SecureChat/internal/protocol"
)

// Transport is one room's exclusive connection, as the engine sees it.
type Transport interface {
	TrySend(frame []byte) error
	Inbound() <-chan []byte
	Close()
}

// Verifier pre-checks the room password out of band, before any socket work.
type Verifier interface {
	VerifyRoom(ctx context.Context, roomID, password string) error
}

// Recorder persists a joined room into account history. Fire-and-forget; not
// part of the state machine's correctness.
type Recorder interface {
	SaveRoom(ctx context.Context, userID, roomID string) error
}

// DialFunc opens the transport for a room, carrying the already-verified
// password as a connection parameter so the server can check it again.
type DialFunc func(ctx context.Context, roomID, displayName, password string) (Transport, error)

// Settings tune one controller's policies.
type Settings struct {
	ReconnectAttempts int
	ReconnectBase     time.Duration
	SelfDestructTTL   time.Duration
	TypingInterval    time.Duration
	TypingIdle        time.Duration
	PingPeriod        time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.ReconnectAttempts == 0 {
		s.ReconnectAttempts = 3
	}
	if s.ReconnectBase == 0 {
		s.ReconnectBase = 2 * time.Second
	}
	if s.SelfDestructTTL == 0 {
		s.SelfDestructTTL = 30 * time.Second
	}
	if s.TypingInterval == 0 {
		s.TypingInterval = time.Second
	}
	if s.TypingIdle == 0 {
		s.TypingIdle = 2 * time.Second
	}
	if s.PingPeriod == 0 {
		s.PingPeriod = 30 * time.Second
	}
	return s
}

// Controller drives one room session through its lifecycle:
// Idle → Verifying → Connecting → AwaitingJoinAck → Active → Reconnecting →
// Closed. All room state is mutated here, in response to protocol events,
// never by ad hoc handlers.
type Controller struct {
	room     *Room
	req      domain.JoinRequest
	key      []byte
	settings Settings

	verifier Verifier
	recorder Recorder
	dial     DialFunc
	userID   string

	events  chan<- Event
	onClose func(domain.RoomID)

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
	done   chan struct{}

	connMu sync.Mutex
	conn   Transport

	timersMu sync.Mutex
	timers   map[domain.MessageID]*time.Timer
	stopped  bool

	typing    *typingNotifier
	closeOnce sync.Once
}

func newController(
	req domain.JoinRequest,
	verifier Verifier,
	recorder Recorder,
	dial DialFunc,
	settings Settings,
	userID string,
	events chan<- Event,
	onClose func(domain.RoomID),
) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		room:     newRoom(req.RoomID, req.DisplayName),
		req:      req,
		settings: settings.withDefaults(),
		verifier: verifier,
		recorder: recorder,
		dial:     dial,
		userID:   userID,
		events:   events,
		onClose:  onClose,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		timers:   make(map[domain.MessageID]*time.Timer),
	}
	c.typing = newTypingNotifier(c.settings.TypingInterval, c.settings.TypingIdle, c.sendTyping)
	return c
}

func (c *Controller) Room() *Room { return c.room }

func (c *Controller) State() State { return State(c.state.Load()) }

// Done is closed once the session has fully shut down and left the registry.
func (c *Controller) Done() <-chan struct{} { return c.done }

// join runs Verifying and Connecting synchronously so the caller gets a
// fail-fast error for a wrong password or an unreachable hub, then hands the
// session to the run loop.
func (c *Controller) join(ctx context.Context) error {
	c.setState(StateVerifying)
	if err := c.verifier.VerifyRoom(ctx, string(c.req.RoomID), c.req.Password); err != nil {
		c.finish("verification failed")
		return err
	}

	// Derived exactly once per join attempt; reconnects reuse it.
	c.key = crypto.DeriveKey(c.req.Password, string(c.req.RoomID))

	c.setState(StateConnecting)
	conn, err := c.dial(ctx, string(c.req.RoomID), c.req.DisplayName, c.req.Password)
	if err != nil {
		c.finish("connect failed")
		return fmt.Errorf("open transport: %w", err)
	}
	c.setConn(conn)
	c.setState(StateAwaitingJoinAck)

	if c.recorder != nil {
		go func() {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.recorder.SaveRoom(saveCtx, c.userID, string(c.req.RoomID)); err != nil {
				log.Warn().Err(err).Str("module", "session").Str("room", string(c.req.RoomID)).Msg("save-room hint failed")
			}
		}()
	}

	go c.run()
	return nil
}

func (c *Controller) run() {
	ping := time.NewTicker(c.settings.PingPeriod)
	defer ping.Stop()

	for {
		conn := c.currentConn()
		select {
		case <-c.ctx.Done():
			c.finish("left room")
			return
		case <-ping.C:
			if c.State() == StateActive {
				c.sendFrame(protocol.Ping{Type: protocol.TypePing})
			}
		case data, ok := <-conn.Inbound():
			if !ok {
				if c.ctx.Err() != nil {
					c.finish("left room")
					return
				}
				if !c.reconnect() {
					if c.ctx.Err() != nil {
						c.finish("left room")
					} else {
						c.finish("reconnect attempts exhausted")
					}
					return
				}
				continue
			}
			if fatal, reason := c.handleFrame(data); fatal {
				c.finish(reason)
				return
			}
		}
	}
}

// reconnect retries Connecting up to the configured bound with a linearly
// growing backoff, reusing the already-derived key. A leave issued at any
// point wins: the context check after a successful dial prevents a racing
// attempt from resurrecting the session.
func (c *Controller) reconnect() bool {
	c.setState(StateReconnecting)
	c.closeConn()

	for attempt := 1; attempt <= c.settings.ReconnectAttempts; attempt++ {
		c.room.setReconnects(attempt)
		delay := time.Duration(attempt) * c.settings.ReconnectBase
		log.Info().Str("module", "session").Str("room", string(c.req.RoomID)).
			Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")

		t := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}

		c.setState(StateConnecting)
		conn, err := c.dial(c.ctx, string(c.req.RoomID), c.req.DisplayName, c.req.Password)
		if err != nil {
			log.Warn().Err(err).Str("module", "session").Str("room", string(c.req.RoomID)).
				Int("attempt", attempt).Msg("reconnect attempt failed")
			c.setState(StateReconnecting)
			continue
		}
		if c.ctx.Err() != nil {
			conn.Close()
			return false
		}
		c.setConn(conn)
		c.room.setReconnects(0)
		c.setState(StateAwaitingJoinAck)
		return true
	}
	return false
}

func (c *Controller) handleFrame(data []byte) (fatal bool, reason string) {
	typ, err := protocol.Peek(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("unparseable frame")
		return false, ""
	}

	switch {
	case typ == protocol.TypeUserList:
		var f protocol.UserList
		if err := json.Unmarshal(data, &f); err != nil {
			return false, ""
		}
		c.room.setMembership(domain.Membership{Members: f.Members, Admin: f.Admin, Locked: f.Locked})
		if c.State() == StateAwaitingJoinAck {
			c.setState(StateActive)
		}
		c.emit(Event{Room: c.room.ID(), Kind: EventMembership, Membership: c.room.Membership()})

	case protocol.IsPayload(typ):
		var f protocol.Payload
		if err := json.Unmarshal(data, &f); err != nil {
			return false, ""
		}
		msg := domain.Message{
			ID:           domain.MessageID(f.ID),
			Sender:       f.Sender,
			Kind:         domain.PayloadKind(typ),
			Envelope:     f.Envelope,
			SelfDestruct: f.SelfDestruct,
		}
		if plaintext, err := crypto.Open(c.key, f.Envelope); err != nil {
			// Never drop silently: the member must see that something
			// arrived and could not be read.
			msg.Body = DecryptFailedPlaceholder
			msg.DecryptFailed = true
		} else {
			msg.Body = string(plaintext)
		}
		c.room.appendMessage(msg)
		if msg.SelfDestruct {
			c.scheduleSelfDestruct(msg.ID)
		}
		c.emit(Event{Room: c.room.ID(), Kind: EventMessage, Message: &msg})

	case typ == protocol.TypeTyping:
		var f protocol.Typing
		if err := json.Unmarshal(data, &f); err != nil {
			return false, ""
		}
		if f.Sender != c.req.DisplayName {
			c.emit(Event{Room: c.room.ID(), Kind: EventTyping, Sender: f.Sender, Typing: f.Active})
		}

	case typ == protocol.TypeEditMsg:
		var f protocol.Edit
		if err := json.Unmarshal(data, &f); err != nil {
			return false, ""
		}
		body := DecryptFailedPlaceholder
		if plaintext, err := crypto.Open(c.key, f.Envelope); err == nil {
			body = string(plaintext)
		}
		if c.room.editMessage(domain.MessageID(f.ID), body) {
			c.emit(Event{Room: c.room.ID(), Kind: EventMessageEdited, ID: domain.MessageID(f.ID)})
		}

	case typ == protocol.TypeDeleteMsg:
		var f protocol.Delete
		if err := json.Unmarshal(data, &f); err != nil {
			return false, ""
		}
		c.removeMessage(domain.MessageID(f.ID))

	case typ == protocol.TypeDeleteAll:
		c.clearTimers()
		c.room.wipe()
		c.emit(Event{Room: c.room.ID(), Kind: EventWiped})

	case typ == protocol.TypeReaction:
		var f protocol.Reaction
		if err := json.Unmarshal(data, &f); err != nil {
			return false, ""
		}
		if c.room.addReaction(domain.MessageID(f.ID), f.Emoji, f.From) {
			c.emit(Event{Room: c.room.ID(), Kind: EventReaction, ID: domain.MessageID(f.ID), Sender: f.From, Text: f.Emoji})
		}

	case typ == protocol.TypeSystem:
		var f protocol.System
		if err := json.Unmarshal(data, &f); err != nil {
			return false, ""
		}
		c.emit(Event{Room: c.room.ID(), Kind: EventSystem, Text: f.Content})

	case typ == protocol.TypeKicked:
		var f protocol.Kicked
		if err := json.Unmarshal(data, &f); err != nil {
			return false, ""
		}
		if f.Target == c.req.DisplayName {
			// Terminal for this room; bypasses Reconnecting entirely.
			if f.Reason != "" {
				return true, "kicked: " + f.Reason
			}
			return true, "kicked from room"
		}
		c.emit(Event{Room: c.room.ID(), Kind: EventSystem, Text: f.Target + " was kicked"})

	case typ == protocol.TypeError:
		var f protocol.Error
		if err := json.Unmarshal(data, &f); err != nil {
			return true, "server error"
		}
		return true, "server error: " + f.Message

	case typ == protocol.TypePong:
		// keepalive reply, nothing to do

	default:
		log.Warn().Str("module", "session").Str("type", string(typ)).Msg("unknown frame type")
	}
	return false, ""
}

// SendText seals and transmits a text message. The message enters the local
// log only when the server echoes it back with its assigned id.
func (c *Controller) SendText(text string, selfDestruct bool) error {
	return c.SendPayload(domain.KindText, []byte(text), selfDestruct)
}

// SendPayload transmits any payload kind (text, image, file, voice) as an
// opaque sealed envelope.
func (c *Controller) SendPayload(kind domain.PayloadKind, plaintext []byte, selfDestruct bool) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid payload kind %q", kind)
	}
	if len(plaintext) == 0 {
		return ErrEmptyMessage
	}
	if c.State() != StateActive {
		return ErrNotActive
	}
	env, err := crypto.Seal(c.key, plaintext)
	if err != nil {
		return err
	}
	return c.sendFrame(protocol.Payload{
		Type:         protocol.Type(kind),
		Envelope:     env,
		SelfDestruct: selfDestruct,
	})
}

// Edit requests a display-content replacement for an existing message id.
func (c *Controller) Edit(id domain.MessageID, newText string) error {
	if c.State() != StateActive {
		return ErrNotActive
	}
	env, err := crypto.Seal(c.key, []byte(newText))
	if err != nil {
		return err
	}
	return c.sendFrame(protocol.Edit{Type: protocol.TypeEditMsg, ID: string(id), Envelope: env})
}

func (c *Controller) Delete(id domain.MessageID) error {
	if c.State() != StateActive {
		return ErrNotActive
	}
	return c.sendFrame(protocol.Delete{Type: protocol.TypeDeleteRequest, ID: string(id)})
}

func (c *Controller) React(id domain.MessageID, emoji string) error {
	if c.State() != StateActive {
		return ErrNotActive
	}
	return c.sendFrame(protocol.Reaction{Type: protocol.TypeReaction, ID: string(id), Emoji: emoji})
}

// Admin requests. The hub is the sole enforcer; the client's only duty is
// not offering these to non-admins (see Room.IsAdmin).
func (c *Controller) Lock() error   { return c.adminFrame(protocol.Lock{Type: protocol.TypeLock}) }
func (c *Controller) Unlock() error { return c.adminFrame(protocol.Lock{Type: protocol.TypeUnlock}) }
func (c *Controller) Wipe() error   { return c.adminFrame(protocol.Wipe{Type: protocol.TypeWipe}) }

// Kick targets the display name currently registered with the room, not a
// persistent account; rejoining under the same name is allowed.
func (c *Controller) Kick(target string) error {
	return c.adminFrame(protocol.Kick{Type: protocol.TypeKick, Target: target})
}

func (c *Controller) adminFrame(v any) error {
	if c.State() != StateActive {
		return ErrNotActive
	}
	return c.sendFrame(v)
}

// Typing announces input activity, debounced: at most one announcement per
// configured interval, with an automatic stop after the idle timeout.
func (c *Controller) Typing() {
	if c.State() != StateActive {
		return
	}
	c.typing.Touch()
}

// Leave shuts the session down. It cancels any pending reconnect backoff and
// all self-destruct timers, releases the transport, and removes the session
// from its registry. Safe to call more than once.
func (c *Controller) Leave() {
	c.cancel()
	c.closeConn()
}

func (c *Controller) sendTyping(active bool) {
	if c.State() != StateActive {
		return
	}
	c.sendFrame(protocol.Typing{Type: protocol.TypeTyping, Active: active})
}

func (c *Controller) sendFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn := c.currentConn()
	if conn == nil {
		return ErrNotActive
	}
	return conn.TrySend(data)
}

func (c *Controller) scheduleSelfDestruct(id domain.MessageID) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if c.stopped {
		return
	}
	if _, exists := c.timers[id]; exists {
		return
	}
	c.timers[id] = time.AfterFunc(c.settings.SelfDestructTTL, func() {
		c.removeMessage(id)
	})
}

// removeMessage is the single removal path shared by self-destruct timers
// and server-driven deletes, so either can fire first without error and the
// message ends deleted exactly once.
func (c *Controller) removeMessage(id domain.MessageID) {
	c.timersMu.Lock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	c.timersMu.Unlock()

	if c.room.deleteMessage(id) {
		c.emit(Event{Room: c.room.ID(), Kind: EventMessageDeleted, ID: id})
	}
}

func (c *Controller) clearTimers() {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

func (c *Controller) finish(reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		c.state.Store(int32(StateClosed))
		c.typing.stop()

		c.timersMu.Lock()
		c.stopped = true
		c.timersMu.Unlock()
		c.clearTimers()

		c.closeConn()
		if c.onClose != nil {
			c.onClose(c.room.ID())
		}
		log.Info().Str("module", "session").Str("room", string(c.room.ID())).Str("reason", reason).Msg("session closed")
		c.emit(Event{Room: c.room.ID(), Kind: EventState, State: StateClosed})
		c.emit(Event{Room: c.room.ID(), Kind: EventClosed, Text: reason})
		close(c.done)
	})
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.emit(Event{Room: c.room.ID(), Kind: EventState, State: s})
}

func (c *Controller) setConn(conn Transport) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Controller) currentConn() Transport {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Controller) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Controller) emit(ev Event) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- ev:
	default:
		log.Warn().Str("module", "session").Str("room", string(ev.Room)).Str("kind", string(ev.Kind)).Msg("event dropped, consumer too slow")
	}
}
