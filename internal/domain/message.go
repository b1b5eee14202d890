package domain

import "time"

type MessageID string

// PayloadKind discriminates what an envelope carries. The wire type field
// uses the same values.
type PayloadKind string

const (
	KindText  PayloadKind = "message"
	KindImage PayloadKind = "image"
	KindFile  PayloadKind = "file"
	KindVoice PayloadKind = "voice"
)

func (k PayloadKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindVoice:
		return true
	}
	return false
}

type Reaction struct {
	Emoji string
	From  string
}

// Message is one entry in a room's log. Envelope holds the ciphertext as
// received; Body is the decrypted display content and the only part an edit
// replaces. Ids are assigned by the server, never by a sender.
type Message struct {
	ID            MessageID
	Sender        string
	Kind          PayloadKind
	Envelope      string
	Body          string
	DecryptFailed bool
	SelfDestruct  bool
	Reactions     []Reaction
	ReceivedAt    time.Time
}
