package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mos-fine/One-Web/internal/apperr"
)

// Repository persists the ledger. UpdateUsage loads the current record (a
// zeroed one when nothing is stored or the stored record is unreadable), runs
// fn on it and persists the result, with no other writer interleaving. When
// fn returns an error nothing is written.
type Repository interface {
	UpdateUsage(ctx context.Context, fn func(*Usage) error) (Usage, error)
}

// Ledger applies rollover and increments to the persisted usage record.
type Ledger struct {
	repo   Repository
	now    func() time.Time
	loc    *time.Location
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the calendar used for day and month boundaries.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger creates a ledger backed by repo. Day boundaries default to the
// process local time zone.
func NewLedger(repo Repository, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		now:    time.Now,
		loc:    time.Local,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Location returns the calendar used for rollover.
func (l *Ledger) Location() *time.Location { return l.loc }

// Read applies any pending rollover, persists it and returns the snapshot.
func (l *Ledger) Read(ctx context.Context) (Usage, error) {
	now := l.now()
	u, err := l.repo.UpdateUsage(ctx, func(u *Usage) error {
		if Rollover(u, now, l.loc) {
			l.logger.Debug("usage rolled over", slog.Time("now", now))
		}
		return nil
	})
	if err != nil {
		return Usage{}, fmt.Errorf("read usage: %w", err)
	}
	return u, nil
}

// Record adds tokens to the daily and monthly totals and counts one call.
// Rollover runs first so the tokens land in the current period.
func (l *Ledger) Record(ctx context.Context, tokens int64) (Usage, error) {
	if tokens <= 0 {
		return Usage{}, apperr.New(apperr.InvalidInput, "token count must be a positive integer")
	}
	now := l.now()
	u, err := l.repo.UpdateUsage(ctx, func(u *Usage) error {
		Rollover(u, now, l.loc)
		u.DailyTokens += tokens
		u.MonthlyTokens += tokens
		u.TotalCalls++
		return nil
	})
	if err != nil {
		return Usage{}, fmt.Errorf("record usage: %w", err)
	}
	return u, nil
}
