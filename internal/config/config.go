// Package config loads the Centace service configuration. Values come from
// hard-coded defaults, then an optional YAML file, then the environment
// (a .env file is honoured in development).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the YAML file consulted by Load.
var DefaultPath = filepath.Join("config", "centace.yaml")

// Config is the full service configuration.
type Config struct {
	App      AppConfig      `yaml:"app"`
	HTTP     HTTPConfig     `yaml:"http"`
	Supabase SupabaseConfig `yaml:"supabase"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Session  SessionConfig  `yaml:"session"`
	Currency CurrencyConfig `yaml:"currency"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
}

// AppConfig describes the deployed application.
type AppConfig struct {
	Environment          string `yaml:"environment" env:"APP_ENV"`
	Version              string `yaml:"version" env:"APP_VERSION"`
	URL                  string `yaml:"url" env:"APP_URL"`
	ErrorLoggingEndpoint string `yaml:"error_logging_endpoint" env:"ERROR_LOGGING_ENDPOINT"`
}

// HTTPConfig configures the HTTP listener and its middleware.
type HTTPConfig struct {
	Addr           string        `yaml:"addr" env:"HTTP_ADDR"`
	CORSOrigins    []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`
	RateLimitRPS   int           `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
}

// SupabaseConfig points at the hosted backend.
type SupabaseConfig struct {
	URL        string `yaml:"url" env:"SUPABASE_URL"`
	AnonKey    string `yaml:"anon_key" env:"SUPABASE_ANON_KEY"`
	ServiceKey string `yaml:"service_key" env:"SUPABASE_SERVICE_KEY"`
	JWTSecret  string `yaml:"jwt_secret" env:"SUPABASE_JWT_SECRET"`
}

// SMTPConfig configures outgoing mail.
type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM"`
}

// SessionConfig configures the inactivity timer.
type SessionConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"SESSION_TIMEOUT"`
	Warning time.Duration `yaml:"warning" env:"SESSION_WARNING"`
	// ExpiredRetention is how long an expired session keeps rejecting its token.
	ExpiredRetention time.Duration `yaml:"expired_retention" env:"SESSION_EXPIRED_RETENTION"`
}

// CurrencyConfig configures the exchange-rate cache.
type CurrencyConfig struct {
	RateAPIURL      string        `yaml:"rate_api_url" env:"RATE_API_URL"`
	Base            string        `yaml:"base" env:"BASE_CURRENCY"`
	TTL             time.Duration `yaml:"ttl" env:"RATE_CACHE_TTL"`
	RefreshSchedule string        `yaml:"refresh_schedule" env:"RATE_REFRESH_SCHEDULE"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// StorageConfig holds optional local infrastructure.
type StorageConfig struct {
	DatabaseURL       string        `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL          string        `yaml:"redis_url" env:"REDIS_URL"`
	ErrorLogRetention time.Duration `yaml:"error_log_retention" env:"ERROR_LOG_RETENTION"`
	ErrorLogHashKey   string        `yaml:"error_log_hash_key" env:"ERROR_LOG_HASH_KEY"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Environment: "development",
			Version:     "0.1.0",
			URL:         "http://localhost:3000",
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			CORSOrigins:    []string{"http://localhost:3000"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
		},
		Supabase: SupabaseConfig{
			URL: "http://localhost:54321",
		},
		SMTP: SMTPConfig{
			Host: "smtp.gmail.com",
			Port: 587,
			From: "Centace <no-reply@centace.com>",
		},
		Session: SessionConfig{
			Timeout:          10 * time.Minute,
			Warning:          2 * time.Minute,
			ExpiredRetention: time.Hour,
		},
		Currency: CurrencyConfig{
			RateAPIURL:      "https://api.exchangerate-api.com/v4/latest/USD",
			Base:            "USD",
			TTL:             4 * time.Hour,
			RefreshSchedule: "@every 4h",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			ErrorLogRetention: 30 * 24 * time.Hour,
		},
	}
}

// Load reads DefaultPath (if present) and the environment.
func Load() (*Config, error) {
	return LoadFromPath(DefaultPath)
}

// LoadFromPath reads the given YAML file (if present) and the environment.
func LoadFromPath(path string) (*Config, error) {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.App.Environment = strings.ToLower(strings.TrimSpace(c.App.Environment))
	c.Supabase.URL = strings.TrimRight(strings.TrimSpace(c.Supabase.URL), "/")
	c.Currency.Base = strings.ToUpper(strings.TrimSpace(c.Currency.Base))

	origins := c.HTTP.CORSOrigins[:0]
	for _, o := range c.HTTP.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.HTTP.CORSOrigins = origins
}

// Validate checks invariants that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if c.Session.Warning < 0 || c.Session.Warning >= c.Session.Timeout {
		return fmt.Errorf("session warning (%s) must be shorter than timeout (%s)", c.Session.Warning, c.Session.Timeout)
	}
	if c.Currency.TTL <= 0 {
		return fmt.Errorf("currency ttl must be positive")
	}
	if len(c.Currency.Base) != 3 {
		return fmt.Errorf("base currency %q must be a 3-letter code", c.Currency.Base)
	}
	if c.SMTP.Port <= 0 {
		return fmt.Errorf("smtp port must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
