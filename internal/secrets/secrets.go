// Package secrets implements the AES-256-GCM credential codec shared with the
// provisioning side. The wire format is base64(iv).base64(tag).base64(ct) so
// that payloads written by the Node.js tooling decrypt here unchanged.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	ivSize  = 12
	tagSize = 16
)

// Codec encrypts and decrypts credential strings with a 32-byte master key.
type Codec struct {
	key []byte
}

// NewCodec builds a Codec from a 64-char hex master key.
func NewCodec(masterKeyHex string) (*Codec, error) {
	if len(masterKeyHex) != 64 {
		return nil, fmt.Errorf("op=secrets.NewCodec: master key must be 32 bytes (64 hex chars)")
	}
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("op=secrets.NewCodec: %w", err)
	}
	return &Codec{key: key}, nil
}

// Encrypt seals plaintext under a fresh random 12-byte IV.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("op=secrets.Encrypt: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("op=secrets.Encrypt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("op=secrets.Encrypt: %w", err)
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	// Seal appends the 16-byte tag after the ciphertext.
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	parts := []string{
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ct),
	}
	return strings.Join(parts, "."), nil
}

// Decrypt opens a payload in iv.tag.ciphertext format.
func (c *Codec) Decrypt(payload string) (string, error) {
	parts := strings.Split(payload, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("op=secrets.Decrypt: invalid payload format (expected iv.tag.ciphertext)")
	}
	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("op=secrets.Decrypt: iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("op=secrets.Decrypt: tag: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("op=secrets.Decrypt: ciphertext: %w", err)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("op=secrets.Decrypt: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("op=secrets.Decrypt: %w", err)
	}
	plain, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("op=secrets.Decrypt: %w", err)
	}
	return string(plain), nil
}
