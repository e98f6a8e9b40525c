package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mos-fine/One-Web/internal/aisettings"
	"github.com/mos-fine/One-Web/internal/apperr"
	"github.com/mos-fine/One-Web/internal/usage"
)

const (
	settingsFile = "ai-settings.json"
	usageFile    = "ai-usage-stats.json"
	auditFile    = "audit.log"
)

// FileStore keeps each record in its own JSON document under a directory.
// Writes go through a temp file and a rename so readers never see a partial
// document. One process owns the directory.
type FileStore struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	nextID int64
}

// NewFile opens (creating if needed) a file-backed store in dir.
func NewFile(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, errors.New("file store: data directory is required")
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (f *FileStore) Backend() string { return "file" }

func (f *FileStore) Ping(context.Context) error {
	_, err := os.Stat(f.dir)
	return err
}

// Migrate creates the data directory and primes the audit sequence.
func (f *FileStore) Migrate(context.Context) error {
	if err := os.MkdirAll(f.dir, 0o750); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.readAudit()
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, e := range entries {
		if e.ID > f.nextID {
			f.nextID = e.ID
		}
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

// AI settings

func (f *FileStore) LoadSettings(context.Context) (aisettings.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(settingsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return aisettings.Settings{}, apperr.New(apperr.NotFound, "ai settings not found")
	}
	if err != nil {
		return aisettings.Settings{}, fmt.Errorf("load ai settings: %w", err)
	}
	var out aisettings.Settings
	if err := json.Unmarshal(data, &out); err != nil {
		return aisettings.Settings{}, apperr.Wrap(apperr.PersistenceCorrupt, "ai settings record is malformed", err)
	}
	return out, nil
}

func (f *FileStore) SaveSettings(_ context.Context, s aisettings.Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ai settings: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeAtomic(settingsFile, data)
}

// Usage ledger

func (f *FileStore) UpdateUsage(_ context.Context, fn func(*usage.Usage) error) (usage.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var cur usage.Usage
	data, err := os.ReadFile(f.path(usageFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return usage.Usage{}, fmt.Errorf("load usage: %w", err)
	default:
		if err := json.Unmarshal(data, &cur); err != nil || cur.DailyTokens < 0 || cur.MonthlyTokens < 0 || cur.TotalCalls < 0 {
			f.logger.Warn("usage record malformed, starting from zero", slog.Any("error", err))
			cur = usage.Usage{}
		}
	}

	if err := fn(&cur); err != nil {
		return usage.Usage{}, err
	}
	out, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return usage.Usage{}, fmt.Errorf("marshal usage: %w", err)
	}
	if err := f.writeAtomic(usageFile, out); err != nil {
		return usage.Usage{}, err
	}
	return cur, nil
}

// Audit Logs

func (f *FileStore) LogAudit(_ context.Context, entry AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	entry.ID = f.nextID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	fh, err := os.OpenFile(f.path(auditFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := fh.Write(append(line, '\n')); err != nil {
		_ = fh.Close()
		return fmt.Errorf("append audit log: %w", err)
	}
	return fh.Close()
}

func (f *FileStore) ListAuditLogs(_ context.Context, limit int, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	f.mu.Lock()
	entries, err := f.readAudit()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Newest first.
	var out []AuditEntry
	for i := len(entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (f *FileStore) readAudit() ([]AuditEntry, error) {
	fh, err := os.Open(f.path(auditFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = fh.Close() }()

	var entries []AuditEntry
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			f.logger.Warn("skipping malformed audit line", slog.String("error", err.Error()))
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

func (f *FileStore) path(name string) string { return filepath.Join(f.dir, name) }

// writeAtomic replaces name with data. Callers hold f.mu.
func (f *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), f.path(name)); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
