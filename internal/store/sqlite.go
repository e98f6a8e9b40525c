package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mos-fine/One-Web/internal/aisettings"
	"github.com/mos-fine/One-Web/internal/apperr"
	"github.com/mos-fine/One-Web/internal/usage"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ensureDBDir(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// One connection: the ledger relies on a single writer, and an in-memory
	// database only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// ensureDBDir creates the directory holding a file-backed database so a
// fresh data directory works on first boot.
func ensureDBDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.HasPrefix(dsn, "file::memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create sqlite directory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Backend() string { return "sqlite" }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ai_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			doc TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ai_usage (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			daily_tokens INTEGER NOT NULL DEFAULT 0,
			monthly_tokens INTEGER NOT NULL DEFAULT 0,
			total_calls INTEGER NOT NULL DEFAULT 0,
			daily_reset TEXT NOT NULL,
			monthly_reset TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ai_usage_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			tokens INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AI settings

func (s *SQLiteStore) LoadSettings(ctx context.Context) (aisettings.Settings, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM ai_settings WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return aisettings.Settings{}, apperr.New(apperr.NotFound, "ai settings not found")
	}
	if err != nil {
		return aisettings.Settings{}, fmt.Errorf("load ai settings: %w", err)
	}
	var out aisettings.Settings
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return aisettings.Settings{}, apperr.Wrap(apperr.PersistenceCorrupt, "ai settings record is malformed", err)
	}
	return out, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, in aisettings.Settings) error {
	doc, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal ai settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ai_settings (id, doc, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		string(doc), formatTime(time.Now()))
	return err
}

// Usage ledger

func (s *SQLiteStore) UpdateUsage(ctx context.Context, fn func(*usage.Usage) error) (usage.Usage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return usage.Usage{}, fmt.Errorf("begin usage tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.loadUsage(ctx, tx)
	if err != nil {
		return usage.Usage{}, err
	}
	if err := fn(&cur); err != nil {
		return usage.Usage{}, err
	}
	if err := s.saveUsage(ctx, tx, cur); err != nil {
		return usage.Usage{}, err
	}
	if err := tx.Commit(); err != nil {
		return usage.Usage{}, fmt.Errorf("commit usage: %w", err)
	}
	return cur, nil
}

func (s *SQLiteStore) loadUsage(ctx context.Context, tx *sql.Tx) (usage.Usage, error) {
	var (
		u                  usage.Usage
		dailyTS, monthlyTS string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT daily_tokens, monthly_tokens, total_calls, daily_reset, monthly_reset FROM ai_usage WHERE id = 1`).
		Scan(&u.DailyTokens, &u.MonthlyTokens, &u.TotalCalls, &dailyTS, &monthlyTS)
	if errors.Is(err, sql.ErrNoRows) {
		return usage.Usage{}, nil
	}
	if err != nil {
		return usage.Usage{}, fmt.Errorf("load usage: %w", err)
	}
	var perr error
	if u.DailyReset, perr = parseTime(dailyTS); perr == nil {
		u.MonthlyReset, perr = parseTime(monthlyTS)
	}
	if perr != nil || u.DailyTokens < 0 || u.MonthlyTokens < 0 || u.TotalCalls < 0 {
		s.logger.Warn("usage record malformed, starting from zero", slog.Any("error", perr))
		return usage.Usage{}, nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT date, tokens FROM ai_usage_history ORDER BY seq`)
	if err != nil {
		return usage.Usage{}, fmt.Errorf("load usage history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var h usage.HistoryEntry
		if err := rows.Scan(&h.Date, &h.Tokens); err != nil {
			return usage.Usage{}, err
		}
		u.History = append(u.History, h)
	}
	return u, rows.Err()
}

func (s *SQLiteStore) saveUsage(ctx context.Context, tx *sql.Tx, u usage.Usage) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ai_usage (id, daily_tokens, monthly_tokens, total_calls, daily_reset, monthly_reset)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   daily_tokens=excluded.daily_tokens,
		   monthly_tokens=excluded.monthly_tokens,
		   total_calls=excluded.total_calls,
		   daily_reset=excluded.daily_reset,
		   monthly_reset=excluded.monthly_reset`,
		u.DailyTokens, u.MonthlyTokens, u.TotalCalls, formatTime(u.DailyReset), formatTime(u.MonthlyReset)); err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ai_usage_history`); err != nil {
		return fmt.Errorf("clear usage history: %w", err)
	}
	for _, h := range u.History {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ai_usage_history (date, tokens) VALUES (?, ?)`, h.Date, h.Tokens); err != nil {
			return fmt.Errorf("save usage history: %w", err)
		}
	}
	return nil
}

// Audit Logs

func (s *SQLiteStore) LogAudit(ctx context.Context, entry AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, action, resource, detail, request_id)
		 VALUES (?, ?, ?, ?, ?)`,
		formatTime(entry.Timestamp), entry.Action, entry.Resource, entry.Detail, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action, resource, detail, request_id
		 FROM audit_logs ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AuditEntry
	for rows.Next() {
		var l AuditEntry
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Action, &l.Resource, &l.Detail, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = parseTime(ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
