package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const tokenPepperBytes = 32

// ApplyRuntimeDefaults ensures critical secrets are populated in development even when no configuration
// file is supplied. It returns a map describing which keys were generated so callers can log the event
// without exposing values. A generated pepper changes on every start, which invalidates outstanding links
// and sessions, so outside development a missing pepper is an error.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.TokenPepper) == "" {
		if !cfg.Server.IsDevelopment() {
			return nil, fmt.Errorf("auth.token_pepper is required in %q environment", cfg.Server.Environment)
		}
		pepper, err := generateHexKey(tokenPepperBytes)
		if err != nil {
			return nil, fmt.Errorf("generate token pepper: %w", err)
		}
		cfg.Auth.TokenPepper = pepper
		generated["auth.token_pepper"] = true
	}

	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
