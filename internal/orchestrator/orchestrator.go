// Package orchestrator turns the stored AI configuration into a signed
// connection URL, enforcing the kill switch and the daily token quota.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mos-fine/One-Web/internal/aisettings"
	"github.com/mos-fine/One-Web/internal/apperr"
	"github.com/mos-fine/One-Web/internal/metrics"
	"github.com/mos-fine/One-Web/internal/signer"
	"github.com/mos-fine/One-Web/internal/usage"
)

// Environment fallbacks for the secure vendor's key pair.
const (
	EnvSparkAPIKey    = "SPARK_API_KEY"
	EnvSparkAPISecret = "SPARK_API_SECRET"
)

// SettingsSource yields the unmasked settings record.
type SettingsSource interface {
	Raw(ctx context.Context) aisettings.Settings
}

// UsageSource yields the usage record after rollover.
type UsageSource interface {
	Read(ctx context.Context) (usage.Usage, error)
}

// SealerFunc returns the sealer for the symmetric-encryption vendor. It is
// called per request so key rotation in the environment is picked up.
type SealerFunc func() (signer.Sealer, error)

// SignRequest is the editor's request for a connection URL.
type SignRequest struct {
	AppID string
	// Model is the client's preferred model. It is recorded but the
	// server-side configuration decides the vendor.
	Model string
}

// SignResult is a signed URL and the vendor that produced it.
type SignResult struct {
	URL       string
	ModelType aisettings.ModelType
}

// ValidateResult reports whether the active vendor is usable.
type ValidateResult struct {
	OK        bool
	Message   string
	ModelType aisettings.ModelType
}

// Orchestrator composes the settings store, usage ledger and signers.
type Orchestrator struct {
	settings SettingsSource
	ledger   UsageSource
	sealer   SealerFunc
	getenv   func(string) string
	now      func() time.Time
	metrics  *metrics.Registry
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the signing clock.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithEnv overrides the environment lookup used for credential fallbacks.
func WithEnv(getenv func(string) string) Option { return func(o *Orchestrator) { o.getenv = getenv } }

// WithMetrics records sign outcomes.
func WithMetrics(m *metrics.Registry) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator.
func New(settings SettingsSource, ledger UsageSource, sealer SealerFunc, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		settings: settings,
		ledger:   ledger,
		sealer:   sealer,
		getenv:   os.Getenv,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sign checks the kill switch and quota, then signs a URL for the active
// vendor. It performs no retries.
func (o *Orchestrator) Sign(ctx context.Context, req SignRequest) (SignResult, error) {
	start := time.Now()
	res, err := o.sign(ctx, req)
	vendor := string(res.ModelType)
	if vendor == "" {
		vendor = "none"
	}
	if o.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = string(apperr.KindOf(err))
		}
		o.metrics.SignTotal.WithLabelValues(vendor, outcome).Inc()
		o.metrics.SignLatency.WithLabelValues(vendor).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}
	if err != nil {
		o.logger.Info("sign refused", slog.String("vendor", vendor), slog.String("kind", string(apperr.KindOf(err))), slog.String("error", err.Error()))
	}
	return res, err
}

func (o *Orchestrator) sign(ctx context.Context, req SignRequest) (SignResult, error) {
	if req.AppID == "" {
		return SignResult{}, apperr.New(apperr.InvalidInput, "appId is required")
	}

	s := o.settings.Raw(ctx)
	if !s.IsEnabled() {
		return SignResult{}, apperr.New(apperr.FeatureDisabled, "AI features are disabled in the admin panel")
	}

	u, err := o.ledger.Read(ctx)
	if err != nil {
		o.logger.Warn("usage unreadable, assuming zero", slog.String("error", err.Error()))
		u = usage.Usage{}
	}
	if limit := s.Limits.DailyTokenLimit; limit > 0 && u.DailyTokens >= limit {
		if o.metrics != nil {
			o.metrics.QuotaRejections.Inc()
		}
		return SignResult{ModelType: s.ResolvedModelType()}, apperr.New(apperr.QuotaExceeded, "daily AI token limit reached, try again tomorrow")
	}

	v, err := s.Active()
	if err != nil {
		return SignResult{ModelType: s.ResolvedModelType()}, err
	}
	url, err := o.signVendor(v)
	if err != nil {
		return SignResult{ModelType: v.Type()}, err
	}
	o.logger.Debug("signed url issued", slog.String("vendor", string(v.Type())), slog.String("app_id", req.AppID), slog.String("model", req.Model))
	return SignResult{URL: url, ModelType: v.Type()}, nil
}

func (o *Orchestrator) signVendor(v aisettings.Vendor) (string, error) {
	now := o.now()
	switch v := v.(type) {
	case aisettings.OpenAI:
		if v.APIKey.IsZero() {
			return signer.OpenAI(signer.OpenAICredentials{}, nil, now)
		}
		sealer, err := o.sealer()
		if err != nil {
			return "", err
		}
		return signer.OpenAI(signer.OpenAICredentials{APIKey: v.APIKey.Reveal(), Endpoint: v.Endpoint}, sealer, now)
	case aisettings.Spark:
		return signer.Spark(signer.SparkCredentials{
			AppID:     v.AppID,
			APIKey:    v.APIKey.Reveal(),
			APISecret: v.APISecret.Reveal(),
			Version:   v.Version,
		}, now)
	case aisettings.Wenxin:
		return signer.Wenxin(v.AccessToken.Reveal())
	case aisettings.Custom:
		return signer.Custom(v.URL)
	case aisettings.Secure:
		if v.AppID == "" {
			return "", apperr.New(apperr.ConfigIncomplete, "secure proxy configuration incomplete: appId is required")
		}
		return signer.Spark(signer.SparkCredentials{
			AppID:     v.AppID,
			APIKey:    o.orEnv(v.APIKey, EnvSparkAPIKey),
			APISecret: o.orEnv(v.APISecret, EnvSparkAPISecret),
		}, now)
	default:
		return "", apperr.New(apperr.UnsupportedVendor, fmt.Sprintf("unsupported vendor %T", v))
	}
}

func (o *Orchestrator) orEnv(s aisettings.Secret, key string) string {
	if !s.IsZero() {
		return s.Reveal()
	}
	return o.getenv(key)
}

// Validate reports whether the active vendor has the credentials it needs.
// It has no side effects.
func (o *Orchestrator) Validate(ctx context.Context) ValidateResult {
	s := o.settings.Raw(ctx)
	if !s.IsEnabled() {
		return ValidateResult{Message: "AI features are disabled in the admin panel"}
	}
	t := s.ResolvedModelType()
	v, err := s.Active()
	if err != nil {
		return ValidateResult{Message: apperr.MessageOf(err), ModelType: t}
	}
	if missing := v.Missing(); len(missing) > 0 {
		return ValidateResult{Message: fmt.Sprintf("%s configuration incomplete, missing: %v", t, missing), ModelType: t}
	}
	return ValidateResult{OK: true, Message: "AI configuration is valid", ModelType: t}
}
