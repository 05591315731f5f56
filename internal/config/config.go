// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Authentication modes.
const (
	AuthModeSingle = "single"
	AuthModeMulti  = "multi"
)

// Credential store backends.
const (
	CredentialBackendFile   = "file"
	CredentialBackendSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT" env-default:"8080"`
	FrontendURL string `env:"FRONTEND_URL" env-default:""`
	DBPath      string `env:"DB_PATH" env-default:"./data/curriculum.db"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy bool `env:"TRUST_PROXY" env-default:"false"`
	// PDFFontPath is a TrueType font embedded in PDF exports. Empty uses
	// Helvetica, which cannot show text outside Windows-1252.
	PDFFontPath string `env:"PDF_FONT_PATH" env-default:""`

	Auth            AuthConfig
	Gemini          GeminiConfig
	Breaker         BreakerConfig
	Session         SessionConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// AuthConfig selects how accounts are verified.
type AuthConfig struct {
	Mode            string `env:"AUTH_MODE" env-default:"multi"`
	Backend         string `env:"CREDENTIAL_BACKEND" env-default:"file"`
	CredentialsPath string `env:"CREDENTIALS_PATH" env-default:"./data/users.json"`
	DefaultUsername string `env:"DEFAULT_USERNAME" env-default:"teacher"`
	DefaultPassword string `env:"DEFAULT_PASSWORD" env-default:"curriculum2025"`
}

// GeminiConfig configures the text-generation service.
type GeminiConfig struct {
	APIKey       string        `env:"GEMINI_API_KEY"`
	BaseURL      string        `env:"GEMINI_BASE_URL" env-default:"https://generativelanguage.googleapis.com"`
	Models       []string      `env:"GEMINI_MODELS" env-separator:"," env-default:"gemini-1.5-flash,gemini-1.5-pro,gemini-2.5-flash,gemini-2.5-pro"`
	DefaultModel string        `env:"GEMINI_DEFAULT_MODEL" env-default:"gemini-2.5-flash"`
	NotesModel   string        `env:"GEMINI_NOTES_MODEL" env-default:"gemini-2.5-flash"`
	Timeout      time.Duration `env:"GEMINI_TIMEOUT" env-default:"60s"`
}

// BreakerConfig tunes the circuit breaker in front of the generation service.
type BreakerConfig struct {
	Enabled          bool          `env:"BREAKER_ENABLED" env-default:"true"`
	MaxRequests      uint32        `env:"BREAKER_MAX_REQUESTS" env-default:"1"`
	Interval         time.Duration `env:"BREAKER_INTERVAL" env-default:"60s"`
	Timeout          time.Duration `env:"BREAKER_TIMEOUT" env-default:"30s"`
	FailureThreshold uint32        `env:"BREAKER_FAILURE_THRESHOLD" env-default:"5"`
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	TTL           time.Duration `env:"SESSION_TTL" env-default:"24h"`
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" env-default:"5m"`
}

// RateLimitConfig limits generation requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int           `env:"RATE_LIMIT_REQUESTS" env-default:"20"`
	WindowDuration    time.Duration `env:"RATE_LIMIT_WINDOW" env-default:"1m"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool   `env:"CONVERSATION_LOG_ENABLED" env-default:"true"`
	Dir       string `env:"CONVERSATION_LOG_DIR" env-default:"./data/logs/conversations"`
	QueueSize int    `env:"CONVERSATION_LOG_QUEUE_SIZE" env-default:"1000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Auth.Mode {
	case AuthModeSingle, AuthModeMulti:
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeSingle, AuthModeMulti, c.Auth.Mode)
	}
	switch c.Auth.Backend {
	case CredentialBackendFile, CredentialBackendSQLite:
	default:
		return fmt.Errorf("CREDENTIAL_BACKEND must be %q or %q, got %q", CredentialBackendFile, CredentialBackendSQLite, c.Auth.Backend)
	}
	if c.Auth.Backend == CredentialBackendFile && c.Auth.CredentialsPath == "" {
		return fmt.Errorf("CREDENTIALS_PATH cannot be empty")
	}
	if c.Auth.DefaultUsername == "" || c.Auth.DefaultPassword == "" {
		return fmt.Errorf("DEFAULT_USERNAME and DEFAULT_PASSWORD cannot be empty")
	}
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY is required (https://aistudio.google.com/app/apikey)")
	}
	if len(c.Gemini.Models) == 0 {
		return fmt.Errorf("GEMINI_MODELS cannot be empty")
	}
	if !c.IsAllowedModel(c.Gemini.DefaultModel) {
		return fmt.Errorf("GEMINI_DEFAULT_MODEL %q is not listed in GEMINI_MODELS", c.Gemini.DefaultModel)
	}
	if c.Gemini.Timeout <= 0 {
		return fmt.Errorf("GEMINI_TIMEOUT must be > 0")
	}
	if c.Session.TTL <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_TTL and SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsAllowedModel reports whether model is one of the configured selectable models.
func (c *Config) IsAllowedModel(model string) bool {
	for _, m := range c.Gemini.Models {
		if m == model {
			return true
		}
	}
	return false
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
