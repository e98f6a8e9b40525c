package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // ONEWEB_TIMEZONE must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names an optional YAML file applied before the environment.
const EnvConfigFile = "ONEWEB_CONFIG"

type Config struct {
	ListenAddr string `yaml:"listen-addr"`
	LogLevel   string `yaml:"log-level"`
	// Env is "development" or "production".
	Env string `yaml:"env"`

	StoreKind string `yaml:"store"`
	DBDSN     string `yaml:"db-dsn"`
	DataDir   string `yaml:"data-dir"`
	// Timezone is the IANA zone the usage ledger rolls over in; empty means
	// the process local zone.
	Timezone string `yaml:"timezone"`

	// Security & hardening.
	AdminToken     string        `yaml:"admin-token"`
	SessionSecret  string        `yaml:"session-secret"`
	SessionTTL     time.Duration `yaml:"session-ttl"`
	CORSOrigins    []string      `yaml:"cors-origins"` // empty = ["*"]
	RateLimitRPS   float64       `yaml:"rate-limit-rps"`
	RateLimitBurst int           `yaml:"rate-limit-burst"`
	IdempotencyTTL time.Duration `yaml:"idempotency-ttl"`

	ProviderTimeoutSecs int `yaml:"provider-timeout-secs"`

	OTelEnabled  bool   `yaml:"otel-enabled"`
	OTelEndpoint string `yaml:"otel-endpoint"`
}

// Production reports whether the server runs in production mode.
func (c Config) Production() bool { return c.Env == "production" }

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func defaultConfig() Config {
	port := getEnv("PORT", "3333")
	return Config{
		ListenAddr:          ":" + port,
		LogLevel:            "info",
		Env:                 "development",
		StoreKind:           "sqlite",
		DataDir:             "data",
		SessionTTL:          12 * time.Hour,
		RateLimitRPS:        5,
		RateLimitBurst:      20,
		IdempotencyTTL:      10 * time.Minute,
		ProviderTimeoutSecs: 30,
	}
}

// LoadConfig reads .env (when present), then the ONEWEB_CONFIG YAML file,
// then ONEWEB_* environment variables. Later sources win.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultConfig()
	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if cfg.DBDSN == "" {
		cfg.DBDSN = "file:" + filepath.Join(cfg.DataDir, "oneweb.sqlite")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnv("ONEWEB_LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = getEnv("ONEWEB_LOG_LEVEL", c.LogLevel)
	c.Env = strings.ToLower(getEnv("ONEWEB_ENV", getEnv("NODE_ENV", c.Env)))

	c.StoreKind = getEnv("ONEWEB_STORE", c.StoreKind)
	c.DBDSN = getEnv("ONEWEB_DB_DSN", c.DBDSN)
	c.DataDir = getEnv("ONEWEB_DATA_DIR", c.DataDir)
	c.Timezone = getEnv("ONEWEB_TIMEZONE", c.Timezone)

	c.AdminToken = getEnv("ONEWEB_ADMIN_TOKEN", c.AdminToken)
	c.SessionSecret = getEnv("ONEWEB_SESSION_SECRET", c.SessionSecret)
	c.SessionTTL = getEnvDuration("ONEWEB_SESSION_TTL", c.SessionTTL)
	c.CORSOrigins = getEnvStringSlice("ONEWEB_CORS_ORIGINS", c.CORSOrigins)
	c.RateLimitRPS = getEnvFloat("ONEWEB_RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = getEnvInt("ONEWEB_RATE_LIMIT_BURST", c.RateLimitBurst)
	c.IdempotencyTTL = getEnvDuration("ONEWEB_IDEMPOTENCY_TTL", c.IdempotencyTTL)

	c.ProviderTimeoutSecs = getEnvInt("ONEWEB_PROVIDER_TIMEOUT_SECS", c.ProviderTimeoutSecs)

	c.OTelEnabled = getEnvBool("ONEWEB_OTEL_ENABLED", c.OTelEnabled)
	c.OTelEndpoint = getEnv("ONEWEB_OTEL_ENDPOINT", c.OTelEndpoint)
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	switch c.Env {
	case "development", "production", "test":
	default:
		return fmt.Errorf("ONEWEB_ENV must be development, production or test, got %q", c.Env)
	}
	switch c.StoreKind {
	case "sqlite", "file":
	default:
		return fmt.Errorf("ONEWEB_STORE must be sqlite or file, got %q", c.StoreKind)
	}
	if c.StoreKind == "file" && c.DataDir == "" {
		return errors.New("ONEWEB_DATA_DIR is required for the file store")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("ONEWEB_TIMEZONE: %w", err)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("ONEWEB_RATE_LIMIT_RPS must be > 0, got %g", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("ONEWEB_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("ONEWEB_SESSION_TTL must be > 0, got %s", c.SessionTTL)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("ONEWEB_IDEMPOTENCY_TTL must be > 0, got %s", c.IdempotencyTTL)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("ONEWEB_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
