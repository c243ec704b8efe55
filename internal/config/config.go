// Package config loads process configuration from the environment.
//
// A .env file in the working directory is loaded first (godotenv) and then
// mapped onto Config through go-simpler/env struct tags.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	Port         string `env:"PORT" default:"8080"`
	CallbackURL  string `env:"CALLBACK_URL"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`

	UpdateInterval time.Duration `env:"UPDATE_INTERVAL" default:"5s"`

	DBPath        string `env:"DB_PATH" default:"./data/nowplaying.db"`
	MigrationsDir string `env:"MIGRATIONS_DIR" default:"./migrations"`
	RedisURL      string `env:"REDIS_URL"`

	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`
	TokenPassphrase    string `env:"TOKEN_PASSPHRASE"`

	CORSOrigin string `env:"CORS_ORIGIN" default:"*"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	Dev       bool   `env:"DEV" default:"false"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required values and the shape of the encryption settings.
func (c *Config) Validate() error {
	required := []struct{ name, value string }{
		{"CALLBACK_URL", c.CallbackURL},
		{"CLIENT_ID", c.ClientID},
		{"CLIENT_SECRET", c.ClientSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if c.UpdateInterval <= 0 {
		return errors.New("UPDATE_INTERVAL must be positive")
	}

	if c.TokenEncryptionKey != "" && c.TokenPassphrase != "" {
		return errors.New("set only one of TOKEN_ENCRYPTION_KEY and TOKEN_PASSPHRASE")
	}
	if c.TokenEncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.TokenEncryptionKey)
		if err != nil {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be valid base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
		}
	}
	return nil
}

// EffectiveLogLevel returns the configured level, forced to debug in dev mode.
func (c *Config) EffectiveLogLevel() string {
	if c.Dev {
		return "debug"
	}
	return c.LogLevel
}

func (c *Config) ListenAddr() string {
	return ":" + c.Port
}
