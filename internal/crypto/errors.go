package crypto

import "errors"

var (
	// ErrDecrypt covers every failure mode of Open: bad base64, truncated
	// wire data, wrong key, tampered ciphertext. Callers are not told which.
	ErrDecrypt = errors.New("decrypt failed: wrong key or tampered envelope")

	ErrBadKey = errors.New("invalid key length")
)
