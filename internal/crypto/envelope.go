package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
)

const (
	// NonceSize is the AES-GCM nonce length used on the wire.
	NonceSize = 12

	tagSize = 16

	minEnvelopeLen = NonceSize + tagSize
)

// Seal encrypts plaintext under key and returns the transport-safe envelope:
// base64(nonce || ciphertext+tag). A fresh random nonce is drawn on every
// call; a nonce must never repeat under the same key.
func Seal(key, plaintext []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	wire := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(wire), nil
}

// Open decodes and decrypts an envelope produced by Seal. It fails closed:
// any truncation, corruption or wrong key yields ErrDecrypt, never partial
// plaintext.
func Open(key []byte, envelope string) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	wire, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, ErrDecrypt
	}
	if len(wire) < minEnvelopeLen {
		return nil, ErrDecrypt
	}
	plaintext, err := aead.Open(nil, wire[:NonceSize], wire[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrBadKey
	}
	return cipher.NewGCM(block)
}
