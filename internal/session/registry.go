package session

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Coderaryanyadav/SecureChat/internal/domain"
)

// Registry holds zero or more concurrently open room sessions, at most one
// per room id, and designates which one is "active" for the caller. Each
// session runs as an independent flow with its own transport and key; a
// failure in one room never touches another.
type Registry struct {
	verifier Verifier
	recorder Recorder
	dial     DialFunc
	settings Settings
	userID   string
	events   chan Event

	mu       sync.RWMutex
	sessions map[domain.RoomID]*Controller
	active   domain.RoomID
}

func NewRegistry(verifier Verifier, recorder Recorder, dial DialFunc, settings Settings, userID string) *Registry {
	return &Registry{
		verifier: verifier,
		recorder: recorder,
		dial:     dial,
		settings: settings,
		userID:   userID,
		events:   make(chan Event, 256),
		sessions: make(map[domain.RoomID]*Controller),
	}
}

// Events is the merged stream of every open session's events.
func (r *Registry) Events() <-chan Event { return r.events }

// Join opens a session for the room, running verification before any socket
// work. Joining an already-open room is a no-op that switches focus to it. A
// concurrent join for the same room id fails with ErrJoinInProgress rather
// than ever racing two live sessions.
func (r *Registry) Join(ctx context.Context, roomID, password, displayName string) (*Controller, error) {
	req, err := domain.NewJoinRequest(roomID, password, displayName)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.sessions[req.RoomID]; ok {
		switch existing.State() {
		case StateClosed:
			// shutting down; its onClose removal may still be in flight
			delete(r.sessions, req.RoomID)
		case StateIdle, StateVerifying, StateConnecting:
			r.mu.Unlock()
			return nil, ErrJoinInProgress
		default:
			r.active = req.RoomID
			r.mu.Unlock()
			log.Info().Str("module", "session").Str("room", string(req.RoomID)).Msg("room already open, switching focus")
			return existing, nil
		}
	}

	ctl := newController(req, r.verifier, r.recorder, r.dial, r.settings, r.userID, r.events, r.remove)
	r.sessions[req.RoomID] = ctl
	r.active = req.RoomID
	r.mu.Unlock()

	if err := ctl.join(ctx); err != nil {
		return nil, err
	}
	return ctl, nil
}

// remove is each controller's onClose hook; insert-on-join and this removal
// are the only mutations of the shared map.
func (r *Registry) remove(id domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	if r.active == id {
		r.active = ""
		for other := range r.sessions {
			r.active = other
			break
		}
	}
}

func (r *Registry) Get(id domain.RoomID) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctl, ok := r.sessions[id]
	return ctl, ok
}

// Active returns the focused session, if any.
func (r *Registry) Active() (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return nil, false
	}
	ctl, ok := r.sessions[r.active]
	return ctl, ok
}

func (r *Registry) SetActive(id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrNotJoined
	}
	r.active = id
	return nil
}

func (r *Registry) Rooms() []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RoomID, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Leave shuts one room down and waits for it to fully close.
func (r *Registry) Leave(id domain.RoomID) error {
	ctl, ok := r.Get(id)
	if !ok {
		return ErrNotJoined
	}
	ctl.Leave()
	<-ctl.Done()
	return nil
}

// CloseAll tears down every open session, e.g. on logout.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ctls := make([]*Controller, 0, len(r.sessions))
	for _, ctl := range r.sessions {
		ctls = append(ctls, ctl)
	}
	r.mu.RUnlock()

	for _, ctl := range ctls {
		ctl.Leave()
	}
	for _, ctl := range ctls {
		<-ctl.Done()
	}
}
