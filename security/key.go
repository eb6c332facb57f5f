package security

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-credentials/core"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize = 32

	keyDerivationInfo = "go-credentials/credential-cipher/v1"
)

// LoadKey decodes configured key material. A base64 value of exactly 32
// bytes is used as is. Longer material is compressed with HKDF-SHA256;
// shorter material is rejected since HKDF adds no strength to a weak secret.
func LoadKey(encoded string) ([]byte, error) {
	value := strings.TrimSpace(encoded)
	if value == "" {
		return nil, fmt.Errorf("security: cipher key is required")
	}
	material := decodeKeyMaterial(value)
	switch {
	case len(material) < KeySize:
		return nil, fmt.Errorf("security: cipher key must carry at least %d bytes, got %d", KeySize, len(material))
	case len(material) == KeySize:
		return material, nil
	}
	return DeriveKey(material)
}

func DeriveKey(material []byte) ([]byte, error) {
	if len(material) < KeySize {
		return nil, fmt.Errorf("security: key material must carry at least %d bytes", KeySize)
	}
	reader := hkdf.New(sha256.New, material, nil, []byte(keyDerivationInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("security: derive key: %w", err)
	}
	return key, nil
}

// NewCipherFromConfig builds the process cipher from core configuration.
func NewCipherFromConfig(cfg core.CipherConfig) (*AESGCMCipher, error) {
	key, err := LoadKey(cfg.Key)
	if err != nil {
		return nil, err
	}
	return NewAESGCMCipher(key, WithKeyID(cfg.KeyID))
}

func decodeKeyMaterial(value string) []byte {
	for _, encoding := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := encoding.DecodeString(value); err == nil && len(decoded) > 0 {
			return decoded
		}
	}
	return []byte(value)
}
