package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	TargetDir   string `envconfig:"TARGET_DIR" required:"true"`
	TargetsFile string `envconfig:"TARGETS_FILE"`

	MaxConcurrentTransfers int           `envconfig:"MAX_CONCURRENT_TRANSFERS" default:"0"`
	ConnectTimeout         time.Duration `envconfig:"CONNECT_TIMEOUT" default:"6s"`
	TotalTimeout           time.Duration `envconfig:"TOTAL_TIMEOUT" default:"0"`
	MaxWait                time.Duration `envconfig:"MAX_WAIT" default:"30s"`
	ProgressInterval       int64         `envconfig:"PROGRESS_INTERVAL" default:"104857600"`
	UserAgent              string        `envconfig:"USER_AGENT" default:"multifetch"`

	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"multifetch.db"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"multifetch"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxConcurrentTransfers < 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_TRANSFERS must not be negative"))
	}

	if c.ConnectTimeout < 0 {
		errs = append(errs, errors.New("CONNECT_TIMEOUT must not be negative"))
	}

	if c.TotalTimeout < 0 {
		errs = append(errs, errors.New("TOTAL_TIMEOUT must not be negative"))
	}

	if c.MaxWait <= 0 {
		errs = append(errs, errors.New("MAX_WAIT must be positive"))
	}

	if c.ProgressInterval < 0 {
		errs = append(errs, errors.New("PROGRESS_INTERVAL must not be negative"))
	}

	if (c.API.Username == "") != (c.API.Password == "") {
		errs = append(errs, errors.New("API_USERNAME and API_PASSWORD must be set together"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
