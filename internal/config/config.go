package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	ProviderMailTM  = "mailtm"
	ProviderMailcow = "mailcow"

	// RecoveryReauth re-authenticates a known address and links unknown ones
	RecoveryReauth = "reauth"
	// RecoveryLink only links the entered address as a recovery address
	RecoveryLink = "link"
)

// Config application configuration
type Config struct {
	// Telegram
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN,required"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/tempmail.db"`

	// Mail provider
	MailProvider string `env:"MAIL_PROVIDER" envDefault:"mailtm"` // "mailtm" or "mailcow"
	MailTMURL    string `env:"MAIL_TM_API" envDefault:"https://api.mail.tm"`

	// Mailcow provider
	MailcowURL      string        `env:"MAILCOW_URL"` // e.g., https://mail.example.com
	MailcowAPIKey   string        `env:"MAILCOW_API_KEY"`
	MailcowDomain   string        `env:"MAILCOW_DOMAIN"` // e.g., example.com
	MailcowIMAP     string        `env:"MAILCOW_IMAP_SERVER"` // defaults to MAILCOW_URL host:993
	MailcowQuotaMB  int           `env:"MAILCOW_QUOTA_MB" envDefault:"100"`
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"5s"`

	// Polling
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"8s"`
	SeenCapacity   int           `env:"SEEN_CAPACITY" envDefault:"100"`
	PreviewLength  int           `env:"PREVIEW_LENGTH" envDefault:"200"`

	// Sessions
	RecoveryMode      string `env:"RECOVERY_MODE" envDefault:"reauth"` // "reauth" or "link"
	ProvisionAttempts int    `env:"PROVISION_ATTEMPTS" envDefault:"3"`

	// Health check server
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":3000"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// MailcowEnabled returns true if Mailcow integration is configured
func (c *Config) MailcowEnabled() bool {
	return c.MailcowURL != "" && c.MailcowAPIKey != "" && c.MailcowDomain != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that env tags cannot express
func (c *Config) Validate() error {
	// 32 bytes for AES-256
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}

	switch c.MailProvider {
	case ProviderMailTM:
	case ProviderMailcow:
		if !c.MailcowEnabled() {
			return fmt.Errorf("MAIL_PROVIDER=mailcow requires MAILCOW_URL, MAILCOW_API_KEY and MAILCOW_DOMAIN")
		}
	default:
		return fmt.Errorf("unknown MAIL_PROVIDER %q", c.MailProvider)
	}

	switch c.RecoveryMode {
	case RecoveryReauth, RecoveryLink:
	default:
		return fmt.Errorf("unknown RECOVERY_MODE %q", c.RecoveryMode)
	}

	if c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least 1s, got %s", c.PollInterval)
	}
	if c.RequestTimeout <= 0 || c.RequestTimeout >= 10*time.Second {
		return fmt.Errorf("REQUEST_TIMEOUT must be between 0 and 10s, got %s", c.RequestTimeout)
	}
	if c.SeenCapacity <= 0 {
		return fmt.Errorf("SEEN_CAPACITY must be positive, got %d", c.SeenCapacity)
	}
	if c.ProvisionAttempts <= 0 {
		return fmt.Errorf("PROVISION_ATTEMPTS must be positive, got %d", c.ProvisionAttempts)
	}

	return nil
}
