package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/mos-fine/One-Web/internal/logging"
)

var configEnvVars = []string{
	"PORT",
	"NODE_ENV",
	EnvConfigFile,
	"ONEWEB_LISTEN_ADDR",
	"ONEWEB_LOG_LEVEL",
	"ONEWEB_ENV",
	"ONEWEB_STORE",
	"ONEWEB_DB_DSN",
	"ONEWEB_DATA_DIR",
	"ONEWEB_TIMEZONE",
	"ONEWEB_ADMIN_TOKEN",
	"ONEWEB_SESSION_SECRET",
	"ONEWEB_SESSION_TTL",
	"ONEWEB_CORS_ORIGINS",
	"ONEWEB_RATE_LIMIT_RPS",
	"ONEWEB_RATE_LIMIT_BURST",
	"ONEWEB_IDEMPOTENCY_TTL",
	"ONEWEB_PROVIDER_TIMEOUT_SECS",
	"ONEWEB_OTEL_ENABLED",
	"ONEWEB_OTEL_ENDPOINT",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":3333" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":3333")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Env != "development" || cfg.Production() {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if cfg.StoreKind != "sqlite" {
		t.Errorf("StoreKind = %q, want sqlite", cfg.StoreKind)
	}
	if want := "file:" + filepath.Join("data", "oneweb.sqlite"); cfg.DBDSN != want {
		t.Errorf("DBDSN = %q, want %q", cfg.DBDSN, want)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Errorf("SessionTTL = %s, want 12h", cfg.SessionTTL)
	}
	if cfg.ProviderTimeoutSecs != 30 {
		t.Errorf("ProviderTimeoutSecs = %d, want 30", cfg.ProviderTimeoutSecs)
	}
	if loc, err := cfg.Location(); err != nil || loc != time.Local {
		t.Errorf("Location() = %v, %v; want Local", loc, err)
	}
}

func TestLoadConfigPortFallback(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PORT", "8080")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ONEWEB_LISTEN_ADDR", ":9090")
	t.Setenv("ONEWEB_LOG_LEVEL", "debug")
	t.Setenv("ONEWEB_ENV", "Production")
	t.Setenv("ONEWEB_STORE", "file")
	t.Setenv("ONEWEB_DATA_DIR", "/var/lib/oneweb")
	t.Setenv("ONEWEB_TIMEZONE", "Asia/Shanghai")
	t.Setenv("ONEWEB_SESSION_TTL", "30m")
	t.Setenv("ONEWEB_CORS_ORIGINS", "https://blog.example.com, https://admin.example.com")
	t.Setenv("ONEWEB_RATE_LIMIT_RPS", "0.5")
	t.Setenv("ONEWEB_PROVIDER_TIMEOUT_SECS", "60")
	t.Setenv("ONEWEB_OTEL_ENABLED", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if !cfg.Production() {
		t.Errorf("Production() = false for Env %q", cfg.Env)
	}
	if cfg.StoreKind != "file" || cfg.DataDir != "/var/lib/oneweb" {
		t.Errorf("store = %q in %q", cfg.StoreKind, cfg.DataDir)
	}
	if loc, err := cfg.Location(); err != nil || loc.String() != "Asia/Shanghai" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %s, want 30m", cfg.SessionTTL)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://admin.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.RateLimitRPS != 0.5 {
		t.Errorf("RateLimitRPS = %g, want 0.5", cfg.RateLimitRPS)
	}
	if cfg.ProviderTimeoutSecs != 60 {
		t.Errorf("ProviderTimeoutSecs = %d, want 60", cfg.ProviderTimeoutSecs)
	}
	if !cfg.OTelEnabled {
		t.Error("OTelEnabled = false, want true")
	}
}

func TestLoadConfigInvalidEnvFallsBackToDefaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ONEWEB_OTEL_ENABLED", "notabool")
	t.Setenv("ONEWEB_RATE_LIMIT_BURST", "notanint")
	t.Setenv("ONEWEB_SESSION_TTL", "forever")
	t.Setenv("ONEWEB_PROVIDER_TIMEOUT_SECS", "notanint")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.OTelEnabled {
		t.Error("OTelEnabled = true, want false (default on invalid input)")
	}
	if cfg.RateLimitBurst != 20 {
		t.Errorf("RateLimitBurst = %d, want 20 (default on invalid input)", cfg.RateLimitBurst)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Errorf("SessionTTL = %s, want 12h (default on invalid input)", cfg.SessionTTL)
	}
	if cfg.ProviderTimeoutSecs != 30 {
		t.Errorf("ProviderTimeoutSecs = %d, want 30 (default on invalid input)", cfg.ProviderTimeoutSecs)
	}
}

func TestLoadConfigYAMLOverlay(t *testing.T) {
	clearConfigEnv(t)
	path := filepath.Join(t.TempDir(), "oneweb.yaml")
	yamlDoc := strings.Join([]string{
		"listen-addr: \":7000\"",
		"store: file",
		"data-dir: /srv/oneweb",
		"session-ttl: 2h",
		"rate-limit-rps: 2.5",
		"cors-origins:",
		"  - https://blog.example.com",
	}, "\n")
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigFile, path)
	t.Setenv("ONEWEB_LISTEN_ADDR", ":7001")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.ListenAddr != ":7001" {
		t.Errorf("ListenAddr = %q, want env to win over the file", cfg.ListenAddr)
	}
	if cfg.StoreKind != "file" || cfg.DataDir != "/srv/oneweb" {
		t.Errorf("store = %q in %q", cfg.StoreKind, cfg.DataDir)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %s, want 2h", cfg.SessionTTL)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS = %g, want 2.5", cfg.RateLimitRPS)
	}
	if len(cfg.CORSOrigins) != 1 {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadConfigYAMLErrors(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("store: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigFile, path)
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"env", func(c *Config) { c.Env = "staging" }},
		{"store", func(c *Config) { c.StoreKind = "postgres" }},
		{"file store without dir", func(c *Config) { c.StoreKind = "file"; c.DataDir = "" }},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"rps", func(c *Config) { c.RateLimitRPS = 0 }},
		{"burst", func(c *Config) { c.RateLimitBurst = -1 }},
		{"session ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"idempotency ttl", func(c *Config) { c.IdempotencyTTL = 0 }},
		{"provider timeout", func(c *Config) { c.ProviderTimeoutSecs = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := newTestConfig(t).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func newTestConfig(t *testing.T) Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.ListenAddr = ":0"
	cfg.LogLevel = "error"
	cfg.DBDSN = ":memory:"
	cfg.DataDir = t.TempDir()
	cfg.Timezone = "UTC"
	cfg.AdminToken = "test-admin-token"
	cfg.SessionSecret = "test-session-secret"
	return cfg
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(newTestConfig(t))
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if srv.Router() == nil {
		t.Fatal("expected non-nil Router()")
	}
}

func TestNewServerFileStore(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.StoreKind = "file"
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["backend"] != "file" {
		t.Errorf("backend = %v, want file", body["backend"])
	}
}

func TestServerRoutesEndToEnd(t *testing.T) {
	srv, err := NewServer(newTestConfig(t))
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()
	h := srv.Router()

	// Disable the feature, then the editor's signing request is refused.
	req := httptest.NewRequest(http.MethodPost, "/api/admin/ai-settings",
		strings.NewReader(`{"enabled":false,"modelType":"custom","custom":{"url":"https://ai.example.com"}}`))
	req.Header.Set("Authorization", "Bearer test-admin-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("save settings: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ai/getSignedUrl?appId=a", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("signed url: status %d, want 403", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["success"] != false || body["kind"] != "feature_disabled" {
		t.Errorf("unexpected body %v", body)
	}

	// CORS preflight.
	req = httptest.NewRequest(http.MethodOptions, "/api/ai/token-usage", nil)
	req.Header.Set("Origin", "https://blog.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS headers on preflight")
	}
}

func TestServerClose(t *testing.T) {
	srv, err := NewServer(newTestConfig(t))
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestServerReload(t *testing.T) {
	cfg := newTestConfig(t)
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	newCfg := cfg
	newCfg.LogLevel = "debug"
	srv.Reload(newCfg)

	if srv.cfg.LogLevel != "debug" {
		t.Errorf("after Reload LogLevel = %q, want %q", srv.cfg.LogLevel, "debug")
	}
	if logging.Level() != slog.LevelDebug {
		t.Errorf("after Reload level = %v, want debug", logging.Level())
	}
}

func TestNewServerDefaultConfigFirstBoot(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ONEWEB_LOG_LEVEL", "error")
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if want := "file:" + filepath.Join("data", "oneweb.sqlite"); cfg.DBDSN != want {
		t.Fatalf("DBDSN = %q, want %q", cfg.DBDSN, want)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() on a fresh directory: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if _, err := os.Stat(filepath.Join("data", "oneweb.sqlite")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}

func TestNewServerFailureShutsDownTracing(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	notADir := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(notADir, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := newTestConfig(t)
	cfg.StoreKind = "file"
	cfg.DataDir = notADir
	cfg.OTelEnabled = true
	cfg.OTelEndpoint = "127.0.0.1:4318"

	if _, err := NewServer(cfg); err == nil {
		t.Fatal("NewServer() with an unusable data dir should fail")
	}
	_, span := otel.Tracer("test").Start(context.Background(), "after-failure")
	defer span.End()
	if span.IsRecording() {
		t.Error("tracer provider still recording after NewServer failed")
	}
}
