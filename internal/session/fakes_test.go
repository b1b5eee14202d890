package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Coderaryanyadav/SecureChat/internal/roomapi"
)

type fakeVerifier struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (v *fakeVerifier) VerifyRoom(ctx context.Context, roomID, password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.err
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func rejectingVerifier(reason string) *fakeVerifier {
	return &fakeVerifier{err: &roomapi.VerificationError{Reason: reason}}
}

type fakeTransport struct {
	mu     sync.Mutex
	in     chan []byte
	sent   [][]byte
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 64)}
}

func (f *fakeTransport) TrySend(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSessionClosed
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) Inbound() <-chan []byte { return f.in }

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.in)
}

// deliver marshals v and feeds it to the session as an inbound frame.
func (f *fakeTransport) deliver(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	require.False(t, f.closed, "deliver on closed transport")
	f.in <- data
}

// dropConnection simulates an unclean disconnect: the inbound stream closes
// without any leave having been requested.
func (f *fakeTransport) dropConnection() { f.Close() }

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeDialer scripts dial outcomes: each entry of outcomes is the error for
// one dial attempt (nil = success); attempts beyond the script succeed.
type fakeDialer struct {
	mu         sync.Mutex
	outcomes   []error
	dialTimes  []time.Time
	transports []*fakeTransport
}

func (d *fakeDialer) dial(ctx context.Context, roomID, displayName, password string) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.dialTimes)
	d.dialTimes = append(d.dialTimes, time.Now())
	if n < len(d.outcomes) && d.outcomes[n] != nil {
		return nil, d.outcomes[n]
	}
	tr := newFakeTransport()
	d.transports = append(d.transports, tr)
	return tr, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialTimes)
}

func (d *fakeDialer) times() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Time, len(d.dialTimes))
	copy(out, d.dialTimes)
	return out
}

func (d *fakeDialer) lastTransport() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func fastSettings() Settings {
	return Settings{
		ReconnectAttempts: 3,
		ReconnectBase:     20 * time.Millisecond,
		SelfDestructTTL:   30 * time.Millisecond,
		TypingInterval:    20 * time.Millisecond,
		TypingIdle:        40 * time.Millisecond,
		PingPeriod:        time.Hour, // keep pings out of frame assertions
	}
}

func newTestRegistry(verifier Verifier, dialer *fakeDialer, settings Settings) *Registry {
	return NewRegistry(verifier, nil, dialer.dial, settings, "user-1")
}

// joinActive joins a room and drives it to Active via a first user_list.
func joinActive(t *testing.T, r *Registry, d *fakeDialer, roomID, password, name string, members ...string) *Controller {
	t.Helper()
	ctl, err := r.Join(context.Background(), roomID, password, name)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingJoinAck, ctl.State())

	if len(members) == 0 {
		members = []string{name}
	}
	d.lastTransport().deliver(t, map[string]any{
		"type": "user_list", "members": members, "admin": members[0], "locked": false,
	})
	require.Eventually(t, func() bool { return ctl.State() == StateActive },
		time.Second, 2*time.Millisecond)
	return ctl
}

func waitState(t *testing.T, ctl *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return ctl.State() == want },
		2*time.Second, 2*time.Millisecond)
}
