package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charlesng35/magiclink/pkg/crypto"
)

// tokenPepperSalt domain-separates the argon2 derivation of the token hashing key.
const tokenPepperSalt = "magiclink.token-hasher.v1"

// DecodeKey decodes a key from hex or base64 encoding to raw bytes.
// If all decoding attempts fail, it treats the input as raw bytes.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	// runtime defaults are hex encoded
	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}

	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}

	return []byte(v), nil
}

// TokenHasher builds the keyed hasher used to derive store keys from tokens.
// Peppers that decode to 16-64 bytes are used as the key directly; anything else
// is treated as a passphrase and stretched with Argon2id.
func (c AuthConfig) TokenHasher() (*crypto.TokenHasher, error) {
	key, err := DecodeKey(c.TokenPepper)
	if err != nil {
		return nil, fmt.Errorf("auth.token_pepper: %w", err)
	}
	if len(key) >= 16 && len(key) <= 64 {
		return crypto.NewTokenHasher(key)
	}
	hasher, err := crypto.NewTokenHasherFromSecret(strings.TrimSpace(c.TokenPepper), tokenPepperSalt, crypto.DefaultArgon2Params())
	if err != nil {
		return nil, fmt.Errorf("auth.token_pepper: %w", err)
	}
	return hasher, nil
}
