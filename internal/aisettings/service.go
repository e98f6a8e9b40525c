package aisettings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mos-fine/One-Web/internal/apperr"
)

// Repository persists the singleton settings record. LoadSettings returns an
// apperr.NotFound error when nothing has been saved yet and an
// apperr.PersistenceCorrupt error when the stored record cannot be decoded.
type Repository interface {
	LoadSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}

// Service reads and reconciles the settings record.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a settings service backed by repo.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Get returns the current record with every secret masked. On first boot the
// defaults are persisted and returned. A corrupt record reads as the defaults
// and stays on disk until the next Save replaces it.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	cur, err := s.load(ctx)
	if err != nil {
		if apperr.KindOf(err) != apperr.PersistenceCorrupt {
			return Settings{}, err
		}
		s.logger.Warn("ai settings corrupt, serving defaults", slog.String("error", err.Error()))
		return Defaults().Redacted(), nil
	}
	return cur.Redacted(), nil
}

// Raw returns the unmasked record for server-side use. A corrupt or
// unreadable record degrades to the in-memory defaults.
func (s *Service) Raw(ctx context.Context) Settings {
	cur, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("ai settings unreadable, using defaults", slog.String("error", err.Error()))
		return Defaults()
	}
	return cur
}

// Save merges incoming over the stored record and persists it. Secret fields
// that come back exactly as Get masked them keep their stored raw value. The
// masked view of the saved record is returned.
func (s *Service) Save(ctx context.Context, incoming Settings) (Settings, error) {
	if err := incoming.Validate(); err != nil {
		return Settings{}, err
	}

	stored, err := s.repo.LoadSettings(ctx)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.NotFound, apperr.PersistenceCorrupt:
			// Nothing trustworthy to merge from; masked input will be rejected below.
			s.logger.Warn("ai settings: no prior record to merge", slog.String("error", err.Error()))
			stored = Settings{}
		default:
			return Settings{}, err
		}
	}

	merged := incoming.clone()
	if err := restoreSecrets(&merged, stored); err != nil {
		return Settings{}, err
	}
	on := merged.IsEnabled()
	merged.Enabled = &on

	if err := s.repo.SaveSettings(ctx, merged); err != nil {
		return Settings{}, fmt.Errorf("save ai settings: %w", err)
	}
	return merged.Redacted(), nil
}

// restoreSecrets replaces every echoed mask in merged with the stored raw
// value. A value that carries the mask marker without matching the stored
// mask is refused so a mask string is never persisted as a credential.
func restoreSecrets(merged *Settings, stored Settings) error {
	for _, p := range pairSecrets(merged, stored) {
		in := p.incoming.Reveal()
		if in == "" {
			continue
		}
		if !p.stored.IsZero() && in == Mask(p.stored.Reveal()) {
			*p.incoming = p.stored
			continue
		}
		if IsMasked(in) {
			return apperr.New(apperr.InvalidInput, fmt.Sprintf("%s looks masked but does not match the stored value; re-enter it", p.name))
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context) (Settings, error) {
	cur, err := s.repo.LoadSettings(ctx)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, apperr.E(apperr.NotFound)) {
		return Settings{}, err
	}
	def := Defaults()
	if err := s.repo.SaveSettings(ctx, def); err != nil {
		s.logger.Warn("ai settings: failed to persist defaults", slog.String("error", err.Error()))
	} else {
		s.logger.Info("ai settings initialized with defaults")
	}
	return def, nil
}
