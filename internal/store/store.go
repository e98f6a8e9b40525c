// Package store persists the AI settings record, the usage ledger and the
// admin audit trail.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mos-fine/One-Web/internal/aisettings"
	"github.com/mos-fine/One-Web/internal/usage"
)

// Store is implemented by every persistence backend.
type Store interface {
	aisettings.Repository
	usage.Repository

	// Audit logging
	LogAudit(ctx context.Context, entry AuditEntry) error
	ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error)

	// Backend names the implementation, e.g. "sqlite".
	Backend() string
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// AuditEntry captures an admin mutation for the audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`               // e.g. "ai_settings.update"
	Resource  string    `json:"resource"`             // e.g. "spark"
	Detail    string    `json:"detail,omitempty"`     // optional JSON with change details
	RequestID string    `json:"request_id,omitempty"` // correlates to HTTP request ID
}

// Open returns the backend named by kind and runs its migrations.
func Open(ctx context.Context, kind, dsn, dataDir string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		s   Store
		err error
	)
	switch kind {
	case "", "sqlite":
		s, err = NewSQLite(dsn, logger)
	case "file":
		s, err = NewFile(dataDir, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

const defaultAuditLimit = 100
