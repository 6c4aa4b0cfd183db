package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// MinTokenBytes is the smallest token size accepted by GenerateToken (128 bits).
const MinTokenBytes = 16

// ErrTokenTooShort is returned when a caller asks for fewer than MinTokenBytes bytes.
var ErrTokenTooShort = errors.New("crypto: token length below 128 bits")

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	if length < MinTokenBytes {
		return "", ErrTokenTooShort
	}
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// TokenHasher derives stable lookup keys from opaque tokens using keyed BLAKE2b-256.
// The same token always maps to the same digest for a given key.
type TokenHasher struct {
	key []byte
}

// NewTokenHasher builds a hasher from a key of at most 64 bytes. An empty key yields
// an unkeyed hash, which is only suitable for development.
func NewTokenHasher(key []byte) (*TokenHasher, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("crypto: hash key must be at most %d bytes (got %d)", blake2b.Size, len(key))
	}
	cpy := make([]byte, len(key))
	copy(cpy, key)
	return &TokenHasher{key: cpy}, nil
}

// Hash returns the hex encoded digest of token.
func (h *TokenHasher) Hash(token string) string {
	var key []byte
	if h != nil {
		key = h.key
	}
	mac, err := blake2b.New256(key)
	if err != nil {
		// key length is checked in NewTokenHasher
		panic(err)
	}
	_, _ = mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// ConstantTimeEqual compares two strings without leaking timing on content.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
