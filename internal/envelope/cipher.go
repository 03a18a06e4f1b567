package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	SuiteAESGCM           = "aes-256-gcm"
	SuiteChaCha20Poly1305 = "chacha20-poly1305"
)

// ErrIntegrity is returned when sealed data is truncated or fails authentication.
var ErrIntegrity = errors.New("sealed data failed authentication")

// Cipher seals and opens byte strings. The output layout is nonce || ciphertext || tag.
type Cipher struct {
	aead  cipher.AEAD
	suite string
}

// NewCipher builds a cipher for the given suite. An empty suite selects AES-256-GCM.
func NewCipher(keys *KeyManager, suite string) (*Cipher, error) {
	if keys == nil {
		return nil, errors.New("key manager is required")
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch suite {
	case "", SuiteAESGCM:
		suite = SuiteAESGCM
		var block cipher.Block
		block, err = aes.NewCipher(keys.Key())
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case SuiteChaCha20Poly1305:
		aead, err = chacha20poly1305.New(keys.Key())
	default:
		return nil, fmt.Errorf("unsupported cipher suite %q", suite)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", suite, err)
	}

	return &Cipher{aead: aead, suite: suite}, nil
}

// Suite returns the configured suite name.
func (c *Cipher) Suite() string {
	return c.suite
}

// Overhead is the number of bytes Seal adds to the plaintext.
func (c *Cipher) Overhead() int {
	return c.aead.NonceSize() + c.aead.Overhead()
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(out, out[:nonceSize], plaintext, nil), nil
}

// Open authenticates and decrypts data produced by Seal.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize+c.aead.Overhead() {
		return nil, ErrIntegrity
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}
