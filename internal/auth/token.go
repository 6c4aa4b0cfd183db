package auth

import (
	"github.com/charlesng35/magiclink/pkg/crypto"
)

// DefaultTokenBytes is the entropy of generated tokens before encoding.
const DefaultTokenBytes = 32

// TokenGenerator produces unguessable opaque tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomTokenGenerator draws tokens from crypto/rand.
type RandomTokenGenerator struct {
	Bytes int
}

// NewRandomTokenGenerator returns a generator for tokens of n random bytes.
// Values below crypto.MinTokenBytes fall back to DefaultTokenBytes.
func NewRandomTokenGenerator(n int) RandomTokenGenerator {
	if n < crypto.MinTokenBytes {
		n = DefaultTokenBytes
	}
	return RandomTokenGenerator{Bytes: n}
}

func (g RandomTokenGenerator) Generate() (string, error) {
	n := g.Bytes
	if n == 0 {
		n = DefaultTokenBytes
	}
	return crypto.GenerateToken(n)
}
