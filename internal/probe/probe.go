// Package probe lets an administrator check a vendor configuration from the
// admin panel before the editor relies on it.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mos-fine/One-Web/internal/aisettings"
	"github.com/mos-fine/One-Web/internal/apperr"
	"github.com/mos-fine/One-Web/internal/metrics"
	"github.com/mos-fine/One-Web/internal/providers/openai"
)

// Backup key variables consulted by the secure vendor, in order.
var backupKeyEnv = []string{"OPENAI_API_KEY", "AI_BACKUP_KEY"}

const (
	openAITimeout = 30 * time.Second
	backupTimeout = 10 * time.Second

	systemPrompt       = "You are a helpful AI assistant."
	backupSystemPrompt = "You are an AI assistant used for connectivity tests. Reply briefly."
)

// SettingsSource yields the unmasked settings record.
type SettingsSource interface {
	Raw(ctx context.Context) aisettings.Settings
}

// Prober runs admin test prompts against the configured vendor.
type Prober struct {
	settings   SettingsSource
	getenv     func(string) string
	openAIBase string
	timeout    time.Duration
	transport  http.RoundTripper
	metrics    *metrics.Registry
	logger     *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithEnv overrides the environment lookup.
func WithEnv(getenv func(string) string) Option { return func(p *Prober) { p.getenv = getenv } }

// WithOpenAIBase overrides the base URL used when no endpoint is configured.
func WithOpenAIBase(base string) Option { return func(p *Prober) { p.openAIBase = base } }

// WithTimeout bounds the configured-vendor call.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTransport sets the outbound transport, e.g. a tracing one.
func WithTransport(rt http.RoundTripper) Option { return func(p *Prober) { p.transport = rt } }

// WithMetrics counts probes by vendor and mode.
func WithMetrics(m *metrics.Registry) Option { return func(p *Prober) { p.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Prober.
func New(settings SettingsSource, opts ...Option) *Prober {
	p := &Prober{
		settings:   settings,
		getenv:     os.Getenv,
		openAIBase: "https://api.openai.com",
		timeout:    openAITimeout,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Test sends prompt to the vendor named by modelType, or the configured
// vendor when modelType is empty, and returns the reply text.
func (p *Prober) Test(ctx context.Context, modelType aisettings.ModelType, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.New(apperr.InvalidInput, "prompt must not be empty")
	}
	s := p.settings.Raw(ctx)
	if !s.IsEnabled() {
		return "", apperr.New(apperr.FeatureDisabled, "AI features are currently disabled")
	}
	if modelType == "" {
		modelType = s.ResolvedModelType()
	}

	switch modelType {
	case aisettings.ModelOpenAI:
		return p.testOpenAI(ctx, prompt, s.OpenAI)
	case aisettings.ModelSpark:
		return p.testSpark(prompt, s.Spark)
	case aisettings.ModelSecure:
		return p.testSecure(ctx, prompt, s.Secure)
	default:
		return "", apperr.New(apperr.UnsupportedVendor, fmt.Sprintf("unsupported model type for testing: %s", modelType))
	}
}

func (p *Prober) testOpenAI(ctx context.Context, prompt string, cfg *aisettings.OpenAI) (string, error) {
	if cfg == nil || cfg.APIKey.IsZero() {
		return "", apperr.New(apperr.ConfigIncomplete, "openai configuration incomplete: apiKey is required")
	}
	url := cfg.CustomURL
	if url == "" {
		base := strings.TrimRight(cfg.Endpoint, "/")
		if base == "" {
			base = p.openAIBase
		}
		url = base + "/v1/chat/completions"
	}
	model := cfg.Model
	if model == "" {
		model = openai.DefaultModel
	}
	p.logger.Info("probing openai", slog.String("url", url), slog.String("model", model))

	reply, err := openai.New(cfg.APIKey.Reveal(), url, p.timeout, p.transport).Chat(ctx, openai.ChatRequest{
		Model: model,
		Messages: []openai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   500,
		Temperature: 0.7,
	})
	if err != nil {
		p.count(aisettings.ModelOpenAI, "error")
		return "", apperr.Wrap(apperr.Internal, "openai test call failed: "+err.Error(), err)
	}
	p.count(aisettings.ModelOpenAI, "live")
	return reply, nil
}

func (p *Prober) testSpark(prompt string, cfg *aisettings.Spark) (string, error) {
	if cfg == nil || cfg.AppID == "" {
		return "", apperr.New(apperr.ConfigIncomplete, "spark configuration incomplete: appId is required")
	}
	p.count(aisettings.ModelSpark, "simulated")
	return fmt.Sprintf("[Spark simulated response] Your prompt was: %q\n\n"+
		"Spark is a WebSocket vendor and cannot be called from this test. "+
		"Make sure appId, apiKey and apiSecret are set, then try the assistant in the editor.", prompt), nil
}

func (p *Prober) testSecure(ctx context.Context, prompt string, cfg *aisettings.Secure) (string, error) {
	if cfg == nil || cfg.AppID == "" {
		return "", apperr.New(apperr.ConfigIncomplete, "secure proxy configuration incomplete: appId is required")
	}
	if key := p.backupKey(); key != "" {
		reply, err := openai.New(key, p.openAIBase+"/v1/chat/completions", backupTimeout, p.transport).Chat(ctx, openai.ChatRequest{
			Model: openai.DefaultModel,
			Messages: []openai.Message{
				{Role: "system", Content: backupSystemPrompt},
				{Role: "user", Content: prompt},
			},
			MaxTokens:   150,
			Temperature: 0.7,
		})
		if err == nil {
			p.count(aisettings.ModelSecure, "live")
			return "[Secure proxy live response]\n\n" + reply +
				"\n\n---\nSecure proxy mode is configured; vendor keys stay on the server.", nil
		}
		p.logger.Warn("secure proxy backup call failed, returning simulated response", slog.String("error", err.Error()))
	}
	p.count(aisettings.ModelSecure, "simulated")
	return fmt.Sprintf("[Secure proxy simulated response] Your prompt was: %q\n\n"+
		"In secure proxy mode every AI request is signed on the server and vendor keys never reach the browser. "+
		"Set OPENAI_API_KEY in the server environment for a live test.", prompt), nil
}

func (p *Prober) backupKey() string {
	for _, k := range backupKeyEnv {
		if v := p.getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func (p *Prober) count(vendor aisettings.ModelType, mode string) {
	if p.metrics != nil {
		p.metrics.ProbeTotal.WithLabelValues(string(vendor), mode).Inc()
	}
}
