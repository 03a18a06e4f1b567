// Package envelope holds the master key and the authenticated cipher used to
// seal every blob before it reaches storage.
package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the master key length in bytes.
const KeySize = 32

var ErrInvalidKey = errors.New("encryption key must be base64 encoding of exactly 32 bytes")

// KeyManager owns the process-wide master key.
type KeyManager struct {
	key       []byte
	ephemeral bool
}

// LoadKeyManager decodes a configured base64 secret. An empty secret yields a
// random key that lives only as long as the process.
func LoadKeyManager(secret string) (*KeyManager, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		return &KeyManager{key: key, ephemeral: true}, nil
	}

	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &KeyManager{key: key}, nil
}

// NewKeyManager wraps raw key bytes.
func NewKeyManager(key []byte) (*KeyManager, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &KeyManager{key: k}, nil
}

// GenerateKey returns KeySize random bytes.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Ephemeral reports whether data sealed with this key becomes unreadable on restart.
func (m *KeyManager) Ephemeral() bool {
	return m.ephemeral
}

// Key returns the master key bytes.
func (m *KeyManager) Key() []byte {
	return m.key
}

// Fingerprint identifies the key in logs without revealing it.
func (m *KeyManager) Fingerprint() string {
	sum := sha256.Sum256(m.key)
	return hex.EncodeToString(sum[:8])
}
