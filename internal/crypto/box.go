package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/overseer/internal/domain"
)

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32

	// NonceSize is the GCM nonce length (96 bits)
	NonceSize = 12

	// TagSize is the GCM authentication tag length (128 bits)
	TagSize = 16
)

// Box performs authenticated symmetric encryption of secret payloads.
// The key is loaded once at startup and read-only afterwards.
type Box struct {
	aead cipher.AEAD
}

// NewBox creates a box from raw key material
func NewBox(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes for AES-256, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Box{aead: aead}, nil
}

// LoadKey resolves key material from a file or from the environment value.
// The file may contain either 32 raw bytes or 64 hex characters; the
// environment value must be hex encoded.
func LoadKey(keyFile, envKey string) ([]byte, error) {
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		return decodeKey(strings.TrimSpace(string(data)), data)
	}

	if envKey != "" {
		return decodeKey(strings.TrimSpace(envKey), nil)
	}

	return nil, &domain.DomainError{
		Code:    domain.ErrAuthFailed.Code,
		Message: "no encryption key configured: set ENCRYPTION_KEY_FILE or ENCRYPTION_KEY",
	}
}

func decodeKey(text string, raw []byte) ([]byte, error) {
	if len(text) == KeySize*2 {
		key, err := hex.DecodeString(text)
		if err == nil {
			return key, nil
		}
	}
	if len(raw) >= KeySize {
		return raw[:KeySize], nil
	}
	return nil, fmt.Errorf("encryption key must be %d raw bytes or %d hex characters", KeySize, KeySize*2)
}

// Encrypt encrypts plaintext, returning nonce, ciphertext and tag separately
// so they can be persisted in distinct columns.
func (b *Box) Encrypt(plaintext []byte) (iv, ciphertext, tag []byte, err error) {
	if len(plaintext) == 0 {
		return nil, nil, nil, fmt.Errorf("cannot encrypt empty payload")
	}

	iv = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends ciphertext||tag; split the tag off for storage
	sealed := b.aead.Seal(nil, iv, plaintext, nil)
	ciphertext = sealed[:len(sealed)-TagSize]
	tag = sealed[len(sealed)-TagSize:]
	return iv, ciphertext, tag, nil
}

// Decrypt reverses Encrypt. A failed tag check returns ErrAuthFailed and
// never any plaintext.
func (b *Box) Decrypt(iv, ciphertext, tag []byte) ([]byte, error) {
	if len(iv) != NonceSize {
		return nil, &domain.DomainError{
			Code:    domain.ErrAuthFailed.Code,
			Message: fmt.Sprintf("nonce must be %d bytes, got %d", NonceSize, len(iv)),
		}
	}
	if len(tag) != TagSize {
		return nil, &domain.DomainError{
			Code:    domain.ErrAuthFailed.Code,
			Message: fmt.Sprintf("tag must be %d bytes, got %d", TagSize, len(tag)),
		}
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := b.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, &domain.DomainError{
			Code:    domain.ErrAuthFailed.Code,
			Message: "authentication tag mismatch",
			Cause:   err,
		}
	}
	return plaintext, nil
}
