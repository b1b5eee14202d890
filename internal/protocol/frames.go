// Package protocol defines the framed JSON wire contract between a client
// and the hub. Every websocket message is one object carrying a "type"
// discriminator; payload bodies travel as opaque envelopes produced by the
// crypto package, never as plaintext.
package protocol

import "encoding/json"

type Type string

// Inbound frame types.
const (
	TypeUserList  Type = "user_list"
	TypeMessage   Type = "message"
	TypeImage     Type = "image"
	TypeFile      Type = "file"
	TypeVoice     Type = "voice"
	TypeTyping    Type = "typing"
	TypeEditMsg   Type = "edit_msg"
	TypeDeleteMsg Type = "delete_msg"
	TypeDeleteAll Type = "delete_all"
	TypeReaction  Type = "reaction"
	TypeSystem    Type = "system"
	TypeKicked    Type = "kicked"
	TypeError     Type = "error"
	TypePong      Type = "pong"
)

// Outbound-only frame types.
const (
	TypeDeleteRequest Type = "delete_request"
	TypeWipe          Type = "wipe"
	TypeLock          Type = "lock"
	TypeUnlock        Type = "unlock"
	TypeKick          Type = "kick"
	TypePing          Type = "ping"
)

// IsPayload reports whether t carries an encrypted message envelope.
func IsPayload(t Type) bool {
	switch t {
	case TypeMessage, TypeImage, TypeFile, TypeVoice:
		return true
	}
	return false
}

// Peek extracts only the type discriminator, so callers can pick the right
// frame struct for a full unmarshal.
func Peek(data []byte) (Type, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", err
	}
	return probe.Type, nil
}

// Payload is a message/image/file/voice frame. The server assigns ID before
// echoing it to the room; a sender transmits it empty.
type Payload struct {
	Type         Type   `json:"type"`
	ID           string `json:"id,omitempty"`
	Sender       string `json:"sender,omitempty"`
	Envelope     string `json:"content"`
	SelfDestruct bool   `json:"self_destruct,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// UserList replaces the client's membership view wholesale.
type UserList struct {
	Type    Type     `json:"type"`
	Members []string `json:"members"`
	Admin   string   `json:"admin"`
	Locked  bool     `json:"locked"`
}

type Typing struct {
	Type   Type   `json:"type"`
	Sender string `json:"sender,omitempty"`
	Active bool   `json:"active"`
}

// Edit replaces the display content of an existing message. The new body
// travels sealed, like any payload.
type Edit struct {
	Type     Type   `json:"type"`
	ID       string `json:"id"`
	Sender   string `json:"sender,omitempty"`
	Envelope string `json:"content"`
}

type Delete struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
}

type Wipe struct {
	Type Type `json:"type"`
}

type Reaction struct {
	Type  Type   `json:"type"`
	ID    string `json:"id"`
	Emoji string `json:"emoji"`
	From  string `json:"from,omitempty"`
}

type System struct {
	Type    Type   `json:"type"`
	Content string `json:"content"`
}

// Kicked names the removed member; only the client whose display name
// matches treats it as terminal.
type Kicked struct {
	Type   Type   `json:"type"`
	Target string `json:"target"`
	Reason string `json:"reason,omitempty"`
}

type Error struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

type Lock struct {
	Type Type `json:"type"`
}

type Kick struct {
	Type   Type   `json:"type"`
	Target string `json:"target"`
}

type Ping struct {
	Type Type `json:"type"`
}
