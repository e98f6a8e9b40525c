// Package vault seals vendor credentials so they can travel to the browser
// inside a connection URL without appearing in clear text.
//
// Sealing is encryption, not authentication: anyone holding a sealed value
// can replay it until the server-side key changes.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/hkdf"

	"github.com/mos-fine/One-Web/internal/apperr"
)

// EnvKey names the environment variable holding the sealing passphrase.
const EnvKey = "ENCRYPTION_KEY"

// fallbackPassphrase is used outside production when EnvKey is unset.
const fallbackPassphrase = "default-encryption-key"

var hkdfInfo = []byte("oneweb/vault/aes-256-gcm")

// Sealer encrypts with AES-256-GCM under a key derived from a passphrase.
type Sealer struct {
	aead cipher.AEAD
}

// New derives the sealing key from passphrase with HKDF-SHA256.
func New(passphrase string) (*Sealer, error) {
	if len(passphrase) < 8 {
		return nil, errors.New("passphrase too short")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(passphrase), nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: gcm}, nil
}

// FromEnv builds a Sealer from EnvKey, read through getenv at call time so
// key rotation takes effect without a restart. Outside production an unset
// key falls back to a fixed passphrase; in production it is a configuration
// error.
func FromEnv(getenv func(string) string, production bool, logger *slog.Logger) (*Sealer, error) {
	pass := getenv(EnvKey)
	if pass == "" {
		if production {
			return nil, apperr.New(apperr.ConfigIncomplete, EnvKey+" is not set")
		}
		if logger != nil {
			logger.Warn("vault: " + EnvKey + " not set, using development fallback key")
		}
		pass = fallbackPassphrase
	}
	s, err := New(pass)
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigIncomplete, EnvKey+" is invalid", err)
	}
	return s, nil
}

// Seal encrypts plaintext and returns the nonce-prefixed ciphertext as hex.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return hex.EncodeToString(s.aead.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, data := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
