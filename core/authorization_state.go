package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const stateTokenBytes = 32

func generateStateToken() (string, error) {
	raw := make([]byte, stateTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate authorization state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
