package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-credentials/core"
)

type Option func(*AESGCMCipher)

// AESGCMCipher seals credential secrets with AES-256-GCM under a single
// process key. Every call draws a fresh 96-bit nonce.
type AESGCMCipher struct {
	aead  cipher.AEAD
	keyID string
	rand  io.Reader
}

func WithKeyID(id string) Option {
	return func(c *AESGCMCipher) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			c.keyID = trimmed
		}
	}
}

// WithRandom replaces the nonce source.
func WithRandom(reader io.Reader) Option {
	return func(c *AESGCMCipher) {
		if reader != nil {
			c.rand = reader
		}
	}
}

func NewAESGCMCipher(key []byte, opts ...Option) (*AESGCMCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("security: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	c := &AESGCMCipher{aead: aead, keyID: "primary", rand: rand.Reader}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

func (c *AESGCMCipher) Encrypt(plaintext []byte) ([]byte, []byte, error) {
	if c == nil || c.aead == nil {
		return nil, nil, fmt.Errorf("security: cipher is not configured")
	}
	if len(plaintext) == 0 {
		return nil, nil, fmt.Errorf("security: plaintext is required")
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	return c.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (c *AESGCMCipher) Decrypt(ciphertext []byte, nonce []byte) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, fmt.Errorf("security: cipher is not configured")
	}
	if len(nonce) != c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", core.ErrIntegrity, c.aead.NonceSize())
	}
	if len(ciphertext) < c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext is truncated", core.ErrIntegrity)
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", core.ErrIntegrity, c.keyID, err)
	}
	return plaintext, nil
}

func (c *AESGCMCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

var _ core.CredentialCipher = (*AESGCMCipher)(nil)
