package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Coderaryanyadav/SecureChat/internal/crypto"
	"github.com/Coderaryanyadav/SecureChat/internal/domain"
	"github.com/Coderaryanyadav/SecureChat/internal/protocol"
	"github.com/Coderaryanyadav/SecureChat/internal/roomapi"
)

func TestWrongPasswordNeverOpensTransport(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(rejectingVerifier("Invalid password for this room."), d, fastSettings())

	_, err := r.Join(context.Background(), "r1", "wrong", "alice")
	var verr *roomapi.VerificationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 0, d.dialCount(), "a failed verification must not open a socket")
	require.Empty(t, r.Rooms())
}

func TestValidationRejectedBeforeAnyNetworkCall(t *testing.T) {
	v := &fakeVerifier{}
	d := &fakeDialer{}
	r := newTestRegistry(v, d, fastSettings())

	cases := []struct {
		room, password, name string
		want                 error
	}{
		{"", "pw", "alice", domain.ErrRoomIDEmpty},
		{"r1", "", "alice", domain.ErrPasswordEmpty},
		{"r1", "pw", "", domain.ErrDisplayNameEmpty},
		{"r1", "pw", "   ", domain.ErrDisplayNameEmpty},
	}
	for _, tc := range cases {
		_, err := r.Join(context.Background(), tc.room, tc.password, tc.name)
		require.ErrorIs(t, err, tc.want)
	}
	require.Equal(t, 0, v.callCount())
	require.Equal(t, 0, d.dialCount())
}

func TestNoSendBeforeActive(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())

	ctl, err := r.Join(context.Background(), "r1", "pw", "alice")
	require.NoError(t, err)
	require.Equal(t, StateAwaitingJoinAck, ctl.State())
	require.ErrorIs(t, ctl.SendText("too early", false), ErrNotActive)

	ctl.Leave()
	<-ctl.Done()
}

func TestFirstUserListActivates(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice", "alice", "bob")

	m := ctl.Room().Membership()
	require.Equal(t, []string{"alice", "bob"}, m.Members)
	require.Equal(t, "alice", m.Admin)
	require.True(t, ctl.Room().IsAdmin())

	r.CloseAll()
}

func TestMembershipReplacedWholesale(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice", "alice", "bob")

	d.lastTransport().deliver(t, map[string]any{
		"type": "user_list", "members": []string{"bob", "carol"}, "admin": "bob", "locked": true,
	})
	require.Eventually(t, func() bool {
		m := ctl.Room().Membership()
		return m.Admin == "bob" && m.Locked && len(m.Members) == 2
	}, time.Second, 2*time.Millisecond)
	require.False(t, ctl.Room().IsAdmin())

	r.CloseAll()
}

func TestMessageAppendsOnServerEcho(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice")

	require.NoError(t, ctl.SendText("hello", false))
	require.Empty(t, ctl.Room().Messages(), "nothing enters the log before the server echo")

	frames := d.lastTransport().sentFrames()
	require.Len(t, frames, 1)
	var out protocol.Payload
	require.NoError(t, json.Unmarshal(frames[0], &out))
	require.Equal(t, protocol.TypeMessage, out.Type)
	require.Empty(t, out.ID, "sender never self-assigns an id")
	require.NotContains(t, out.Envelope, "hello", "plaintext never travels")

	// The hub echoes the payload back with its assigned id.
	d.lastTransport().deliver(t, protocol.Payload{
		Type: protocol.TypeMessage, ID: "m1", Sender: "alice", Envelope: out.Envelope,
	})
	require.Eventually(t, func() bool { return len(ctl.Room().Messages()) == 1 },
		time.Second, 2*time.Millisecond)

	msg := ctl.Room().Messages()[0]
	require.Equal(t, domain.MessageID("m1"), msg.ID)
	require.Equal(t, "hello", msg.Body)
	require.False(t, msg.DecryptFailed)

	r.CloseAll()
}

func TestDecryptFailureYieldsPlaceholder(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice")

	wrongKey := crypto.DeriveKey("other-password", "r1")
	env, err := crypto.Seal(wrongKey, []byte("sealed under another key"))
	require.NoError(t, err)

	d.lastTransport().deliver(t, protocol.Payload{
		Type: protocol.TypeMessage, ID: "m1", Sender: "bob", Envelope: env,
	})
	require.Eventually(t, func() bool { return len(ctl.Room().Messages()) == 1 },
		time.Second, 2*time.Millisecond)

	msg := ctl.Room().Messages()[0]
	require.True(t, msg.DecryptFailed)
	require.Equal(t, DecryptFailedPlaceholder, msg.Body)
	require.Equal(t, env, msg.Envelope, "ciphertext kept as received")

	r.CloseAll()
}

func TestEditAndDeleteAreIdempotent(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice")
	tr := d.lastTransport()

	key := crypto.DeriveKey("pw", "r1")
	env, err := crypto.Seal(key, []byte("original"))
	require.NoError(t, err)
	tr.deliver(t, protocol.Payload{Type: protocol.TypeMessage, ID: "m1", Sender: "alice", Envelope: env})
	require.Eventually(t, func() bool { return len(ctl.Room().Messages()) == 1 },
		time.Second, 2*time.Millisecond)

	edited, err := crypto.Seal(key, []byte("edited"))
	require.NoError(t, err)
	tr.deliver(t, protocol.Edit{Type: protocol.TypeEditMsg, ID: "m1", Envelope: edited})
	require.Eventually(t, func() bool { return ctl.Room().Messages()[0].Body == "edited" },
		time.Second, 2*time.Millisecond)

	// Edits to unknown ids are no-ops.
	tr.deliver(t, protocol.Edit{Type: protocol.TypeEditMsg, ID: "ghost", Envelope: edited})

	// Deleting twice is a no-op the second time.
	tr.deliver(t, protocol.Delete{Type: protocol.TypeDeleteMsg, ID: "m1"})
	tr.deliver(t, protocol.Delete{Type: protocol.TypeDeleteMsg, ID: "m1"})
	require.Eventually(t, func() bool { return len(ctl.Room().Messages()) == 0 },
		time.Second, 2*time.Millisecond)

	r.CloseAll()
}

func TestReactionsAppendWithoutDedup(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice")
	tr := d.lastTransport()

	key := crypto.DeriveKey("pw", "r1")
	env, err := crypto.Seal(key, []byte("hi"))
	require.NoError(t, err)
	tr.deliver(t, protocol.Payload{Type: protocol.TypeMessage, ID: "m1", Sender: "bob", Envelope: env})

	tr.deliver(t, protocol.Reaction{Type: protocol.TypeReaction, ID: "m1", Emoji: "🔥", From: "bob"})
	tr.deliver(t, protocol.Reaction{Type: protocol.TypeReaction, ID: "m1", Emoji: "🔥", From: "bob"})
	// Reacting to an unknown id never raises an error.
	tr.deliver(t, protocol.Reaction{Type: protocol.TypeReaction, ID: "ghost", Emoji: "🔥"})

	require.Eventually(t, func() bool {
		msgs := ctl.Room().Messages()
		return len(msgs) == 1 && len(msgs[0].Reactions) == 2
	}, time.Second, 2*time.Millisecond)

	r.CloseAll()
}

func TestSelfDestructAndServerDeleteEitherOrder(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice")
	tr := d.lastTransport()

	key := crypto.DeriveKey("pw", "r1")

	// Server delete first, self-destruct timer later.
	env1, err := crypto.Seal(key, []byte("burn-1"))
	require.NoError(t, err)
	tr.deliver(t, protocol.Payload{Type: protocol.TypeMessage, ID: "m1", Sender: "bob", Envelope: env1, SelfDestruct: true})
	require.Eventually(t, func() bool { return len(ctl.Room().Messages()) == 1 },
		time.Second, 2*time.Millisecond)
	tr.deliver(t, protocol.Delete{Type: protocol.TypeDeleteMsg, ID: "m1"})
	require.Eventually(t, func() bool { return len(ctl.Room().Messages()) == 0 },
		time.Second, 2*time.Millisecond)

	// Self-destruct first, server delete later.
	env2, err := crypto.Seal(key, []byte("burn-2"))
	require.NoError(t, err)
	tr.deliver(t, protocol.Payload{Type: protocol.TypeMessage, ID: "m2", Sender: "bob", Envelope: env2, SelfDestruct: true})
	require.Eventually(t, func() bool { return len(ctl.Room().Messages()) == 1 },
		time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return len(ctl.Room().Messages()) == 0 },
		time.Second, 2*time.Millisecond, "self-destruct timer removes the message")
	tr.deliver(t, protocol.Delete{Type: protocol.TypeDeleteMsg, ID: "m2"})

	// Give the late delete a chance to misbehave; it must be a no-op.
	time.Sleep(2 * fastSettings().SelfDestructTTL)
	require.Empty(t, ctl.Room().Messages())
	require.Equal(t, StateActive, ctl.State())

	r.CloseAll()
}

func TestWipeClearsLog(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice")
	tr := d.lastTransport()

	key := crypto.DeriveKey("pw", "r1")
	for _, id := range []string{"m1", "m2"} {
		env, err := crypto.Seal(key, []byte("msg "+id))
		require.NoError(t, err)
		tr.deliver(t, protocol.Payload{Type: protocol.TypeMessage, ID: id, Sender: "bob", Envelope: env})
	}
	require.Eventually(t, func() bool { return len(ctl.Room().Messages()) == 2 },
		time.Second, 2*time.Millisecond)

	tr.deliver(t, protocol.Wipe{Type: protocol.TypeDeleteAll})
	require.Eventually(t, func() bool { return len(ctl.Room().Messages()) == 0 },
		time.Second, 2*time.Millisecond)

	r.CloseAll()
}

func TestKickedClosesWithoutReconnect(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice")

	d.lastTransport().deliver(t, protocol.Kicked{Type: protocol.TypeKicked, Target: "alice"})
	waitState(t, ctl, StateClosed)
	<-ctl.Done()

	require.Equal(t, 1, d.dialCount(), "a kick must not trigger reconnection")
	require.Empty(t, r.Rooms())
}

func TestKickOfAnotherMemberIsNotTerminal(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice", "alice", "mallory")

	d.lastTransport().deliver(t, protocol.Kicked{Type: protocol.TypeKicked, Target: "mallory"})
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateActive, ctl.State())

	r.CloseAll()
}

func TestServerErrorFrameIsTerminal(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice")

	d.lastTransport().deliver(t, protocol.Error{Type: protocol.TypeError, Message: "room wiped by admin"})
	waitState(t, ctl, StateClosed)
	require.Empty(t, r.Rooms())
}

func TestReconnectBoundedWithGrowingBackoff(t *testing.T) {
	d := &fakeDialer{}
	fail := errors.New("connection refused")
	// First dial (the join) succeeds; every reconnect attempt fails.
	d.outcomes = []error{nil, fail, fail, fail, fail, fail}

	v := &fakeVerifier{}
	r := newTestRegistry(v, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice")

	d.lastTransport().dropConnection()
	<-ctl.Done()

	require.Equal(t, 1+3, d.dialCount(), "attempts never exceed the bound")
	require.Equal(t, 1, v.callCount(), "reconnects never re-verify the password")

	times := d.times()
	gap1 := times[2].Sub(times[1])
	gap2 := times[3].Sub(times[2])
	require.Greater(t, gap2, gap1, "attempt delays grow per attempt")
	require.Empty(t, r.Rooms())
}

func TestReconnectResumesWithSameKey(t *testing.T) {
	d := &fakeDialer{}
	d.outcomes = []error{nil, errors.New("refused")} // join ok, attempt 1 fails, attempt 2 ok

	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice")
	first := d.lastTransport()

	first.dropConnection()
	require.Eventually(t, func() bool { return d.dialCount() == 3 && d.lastTransport() != first },
		2*time.Second, 2*time.Millisecond)

	// Fresh socket, same derived key: a user_list re-activates and messages
	// still open.
	tr := d.lastTransport()
	tr.deliver(t, protocol.UserList{Type: protocol.TypeUserList, Members: []string{"alice"}, Admin: "alice"})
	waitState(t, ctl, StateActive)
	require.Equal(t, 0, ctl.Room().ReconnectAttempts(), "counter resets on successful connect")

	key := crypto.DeriveKey("pw", "r1")
	env, err := crypto.Seal(key, []byte("after reconnect"))
	require.NoError(t, err)
	tr.deliver(t, protocol.Payload{Type: protocol.TypeMessage, ID: "m9", Sender: "bob", Envelope: env})
	require.Eventually(t, func() bool {
		msgs := ctl.Room().Messages()
		return len(msgs) == 1 && msgs[0].Body == "after reconnect"
	}, time.Second, 2*time.Millisecond)

	r.CloseAll()
}

func TestLeaveWinsRaceWithReconnect(t *testing.T) {
	d := &fakeDialer{}
	d.outcomes = []error{nil, errors.New("refused"), errors.New("refused"), errors.New("refused")}
	settings := fastSettings()
	settings.ReconnectBase = 50 * time.Millisecond

	r := newTestRegistry(&fakeVerifier{}, d, settings)
	ctl := joinActive(t, r, d, "r1", "pw", "alice")

	d.lastTransport().dropConnection()
	waitState(t, ctl, StateReconnecting)

	// Leave while the backoff timer is pending; no further dial may happen.
	dialsAtLeave := d.dialCount()
	require.NoError(t, r.Leave("r1"))
	time.Sleep(3 * settings.ReconnectBase)
	require.Equal(t, dialsAtLeave, d.dialCount(), "leave cancels pending reconnect attempts")
	require.Equal(t, StateClosed, ctl.State())
	require.Empty(t, r.Rooms())
}

func TestTypingRequiresActive(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())

	ctl, err := r.Join(context.Background(), "r1", "pw", "alice")
	require.NoError(t, err)
	ctl.Typing()
	require.Empty(t, d.lastTransport().sentFrames(), "no typing frames before Active")

	r.CloseAll()
}

func TestTypingDebouncedOnWire(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(&fakeVerifier{}, d, fastSettings())
	ctl := joinActive(t, r, d, "r1", "pw", "alice")
	tr := d.lastTransport()

	// A burst of keystrokes inside the debounce window announces once.
	for i := 0; i < 5; i++ {
		ctl.Typing()
	}
	typingFrames := func() int {
		n := 0
		for _, f := range tr.sentFrames() {
			typ, err := protocol.Peek(f)
			require.NoError(t, err)
			if typ == protocol.TypeTyping {
				n++
			}
		}
		return n
	}
	require.Equal(t, 1, typingFrames())

	// The idle timeout announces "stopped typing" without an explicit signal.
	require.Eventually(t, func() bool { return typingFrames() == 2 },
		time.Second, 2*time.Millisecond)
	frames := tr.sentFrames()
	var last protocol.Typing
	require.NoError(t, json.Unmarshal(frames[len(frames)-1], &last))
	require.False(t, last.Active)

	r.CloseAll()
}
