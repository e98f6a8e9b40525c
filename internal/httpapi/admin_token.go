package httpapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const adminTokenFile = ".admin-token"

// AdminTokenHolder guards the admin bearer token. The resolved token is
// persisted under the data directory so restarts without ONEWEB_ADMIN_TOKEN
// keep the same value.
type AdminTokenHolder struct {
	mu      sync.RWMutex
	token   string
	dataDir string
}

// NewAdminTokenHolder resolves the initial token in order: the configured
// value, a previously persisted one, a newly generated random one.
func NewAdminTokenHolder(configToken, dataDir string, logger *slog.Logger) (*AdminTokenHolder, error) {
	h := &AdminTokenHolder{token: configToken, dataDir: dataDir}
	if h.token == "" {
		h.token = h.readPersisted()
	}
	if h.token == "" {
		tok, err := randomToken()
		if err != nil {
			return nil, fmt.Errorf("generate admin token: %w", err)
		}
		h.token = tok
		logger.Warn("ONEWEB_ADMIN_TOKEN not set, generated one",
			slog.String("file", filepath.Join(dataDir, adminTokenFile)))
	}
	h.persist(logger)
	return h, nil
}

// Get returns the current admin token.
func (h *AdminTokenHolder) Get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// ConstantTimeEqual reports whether provided is the admin token.
func (h *AdminTokenHolder) ConstantTimeEqual(provided string) bool {
	if provided == "" {
		return false
	}
	current := h.Get()
	return subtle.ConstantTimeCompare([]byte(provided), []byte(current)) == 1
}

// Rotate replaces the token with a random one and persists it.
func (h *AdminTokenHolder) Rotate(logger *slog.Logger) (string, error) {
	tok, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generate admin token: %w", err)
	}
	h.mu.Lock()
	h.token = tok
	h.mu.Unlock()
	h.persist(logger)
	return tok, nil
}

func (h *AdminTokenHolder) readPersisted() string {
	if h.dataDir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(h.dataDir, adminTokenFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (h *AdminTokenHolder) persist(logger *slog.Logger) {
	if h.dataDir == "" {
		return
	}
	if err := os.MkdirAll(h.dataDir, 0o700); err != nil {
		logger.Warn("failed to create data dir", slog.String("error", err.Error()))
		return
	}
	content := []byte(h.Get() + "\n")
	if err := os.WriteFile(filepath.Join(h.dataDir, adminTokenFile), content, 0o600); err != nil {
		logger.Warn("failed to write admin token file", slog.String("error", err.Error()))
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
