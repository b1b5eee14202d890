// Package crypto implements the room key derivation and the AEAD message
// envelope shared by every member of a room.
package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32

	// kdfIterations matches the reference client, so independently derived
	// keys agree across implementations.
	kdfIterations = 100_000
)

// DeriveKey turns a (password, room id) pair into the room's symmetric key.
// Deterministic and pure: every member supplying the same password for the
// same room derives a bit-identical key, with no network round trip. The
// room id is the KDF salt, so the same password in two rooms yields
// unrelated keys.
func DeriveKey(password, roomID string) []byte {
	return pbkdf2.Key([]byte(password), []byte(roomID), kdfIterations, KeySize, sha256.New)
}
