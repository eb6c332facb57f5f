package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/goliatone/go-credentials/core"
)

const testPassphrase = "super secret test key material for the cipher suite"

func newTestCipher(t *testing.T, secret string) *AESGCMCipher {
	t.Helper()
	key, err := LoadKey(secret)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	c, err := NewAESGCMCipher(key, WithKeyID("test-v1"))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func TestAESGCMCipher_EncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t, testPassphrase)

	plaintext := []byte("EAAGm0PX4ZCpsBA-page-token")
	ciphertext, nonce, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatalf("expected ciphertext to hide plaintext")
	}
	if len(nonce) != 12 {
		t.Fatalf("expected 12 byte nonce, got %d", len(nonce))
	}
	decrypted, err := c.Decrypt(ciphertext, nonce)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected roundtrip plaintext; got %q", string(decrypted))
	}
	if c.KeyID() != "test-v1" {
		t.Fatalf("expected key id test-v1, got %q", c.KeyID())
	}
}

func TestAESGCMCipher_FreshNoncePerCall(t *testing.T) {
	c := newTestCipher(t, testPassphrase)

	first, firstNonce, err := c.Encrypt([]byte("same"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	second, secondNonce, err := c.Encrypt([]byte("same"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(firstNonce, secondNonce) {
		t.Fatalf("expected distinct nonces")
	}
	if bytes.Equal(first, second) {
		t.Fatalf("expected distinct ciphertexts for identical plaintext")
	}
}

func TestAESGCMCipher_TamperingFailsIntegrity(t *testing.T) {
	c := newTestCipher(t, testPassphrase)
	ciphertext, nonce, err := c.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	flipped := append([]byte(nil), ciphertext...)
	flipped[0] ^= 0x01
	if _, err := c.Decrypt(flipped, nonce); !errors.Is(err, core.ErrIntegrity) {
		t.Fatalf("expected integrity error for tampered ciphertext, got %v", err)
	}

	badNonce := append([]byte(nil), nonce...)
	badNonce[0] ^= 0x01
	if _, err := c.Decrypt(ciphertext, badNonce); !errors.Is(err, core.ErrIntegrity) {
		t.Fatalf("expected integrity error for tampered nonce, got %v", err)
	}
	if _, err := c.Decrypt(ciphertext, nonce[:4]); !errors.Is(err, core.ErrIntegrity) {
		t.Fatalf("expected integrity error for short nonce, got %v", err)
	}
	if _, err := c.Decrypt([]byte("x"), nonce); !errors.Is(err, core.ErrIntegrity) {
		t.Fatalf("expected integrity error for truncated ciphertext, got %v", err)
	}
}

func TestAESGCMCipher_WrongKeyFailsIntegrity(t *testing.T) {
	issuer := newTestCipher(t, "issuer key material, long enough for derivation")
	receiver := newTestCipher(t, "receiver key material, long enough for derivation")

	ciphertext, nonce, err := issuer.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := receiver.Decrypt(ciphertext, nonce); !errors.Is(err, core.ErrIntegrity) {
		t.Fatalf("expected integrity error for wrong key, got %v", err)
	}
}

func TestNewAESGCMCipher_RejectsShortKey(t *testing.T) {
	if _, err := NewAESGCMCipher([]byte("short")); err == nil {
		t.Fatalf("expected short key to be rejected")
	}
}

func TestLoadKey_AcceptsEncodedAndDerived(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, KeySize)
	for _, encoded := range []string{
		base64.StdEncoding.EncodeToString(raw),
		base64.RawURLEncoding.EncodeToString(raw),
	} {
		key, err := LoadKey(encoded)
		if err != nil {
			t.Fatalf("load key: %v", err)
		}
		if !bytes.Equal(key, raw) {
			t.Fatalf("expected decoded key to be used verbatim")
		}
	}

	derived, err := LoadKey(testPassphrase)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	again, err := LoadKey(testPassphrase)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if len(derived) != KeySize || !bytes.Equal(derived, again) {
		t.Fatalf("expected deterministic %d byte derived key", KeySize)
	}

	if _, err := LoadKey("   "); err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("expected empty key to fail, got %v", err)
	}
}

func TestLoadKey_RejectsShortMaterial(t *testing.T) {
	for _, value := range []string{
		"x",
		"not base64 but short!",
		base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x01}, KeySize-1)),
	} {
		if _, err := LoadKey(value); err == nil {
			t.Fatalf("expected %q to be rejected", value)
		}
	}
	if _, err := DeriveKey([]byte("short")); err == nil {
		t.Fatalf("expected short derivation input to be rejected")
	}
}

func TestNewCipherFromConfig(t *testing.T) {
	c, err := NewCipherFromConfig(core.CipherConfig{Key: testPassphrase, KeyID: "cfg"})
	if err != nil {
		t.Fatalf("new cipher from config: %v", err)
	}
	if c.KeyID() != "cfg" {
		t.Fatalf("expected configured key id, got %q", c.KeyID())
	}
	if _, err := NewCipherFromConfig(core.CipherConfig{}); err == nil {
		t.Fatalf("expected missing key to fail")
	}
}
