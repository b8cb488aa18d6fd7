// Package config loads ZipClaw configuration from YAML with .env loading
// and ${VAR} environment expansion.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jholhewres/zipclaw/pkg/zipclaw/channels/telegram"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/storage"
)

// Duration wraps time.Duration for YAML values like "24h" or "5m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML emits the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AuthConfig controls the password gate.
type AuthConfig struct {
	// Password is the shared secret in plain text. Prefer an env
	// reference like ${ZIPCLAW_PASSWORD}.
	Password string `yaml:"password"`

	// PasswordHash is a bcrypt hash of the secret. When set, Password
	// is ignored.
	PasswordHash string `yaml:"password_hash"`

	// MaxAttempts is the number of consecutive failed attempts before
	// a temporary lockout. 0 disables the lockout.
	MaxAttempts int `yaml:"max_attempts"`

	// Lockout is how long password attempts are refused after
	// MaxAttempts failures.
	Lockout Duration `yaml:"lockout"`
}

// StorageConfig selects and configures the artifact backend.
type StorageConfig struct {
	// Backend is "local", "zipfile", or "s3".
	Backend string `yaml:"backend"`

	// LocalDir is the directory for the "local" backend.
	LocalDir string `yaml:"local_dir"`

	// ZipDir is the directory for the "zipfile" backend containers.
	ZipDir string `yaml:"zip_dir"`

	// S3 configures the "s3" backend.
	S3 storage.S3Config `yaml:"s3"`
}

// HistoryConfig controls the SQLite audit log.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ChannelsConfig holds per-transport settings.
type ChannelsConfig struct {
	Telegram telegram.Config `yaml:"telegram"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug" or "info"
	Format string `yaml:"format"` // "text" or "json"
}

// Config is the root configuration.
type Config struct {
	// Name is the bot's display name.
	Name string `yaml:"name"`

	Auth AuthConfig `yaml:"auth"`

	// Categories are the artifact namespaces offered to the user.
	// With a single category the category-selection step is skipped.
	Categories []string `yaml:"categories"`

	// ScratchDir holds staged files and in-progress archives.
	ScratchDir string `yaml:"scratch_dir"`

	// MaxFileSize caps a single uploaded file, in bytes.
	MaxFileSize int64 `yaml:"max_file_size"`

	// SessionTTL is the inactivity window before a session is swept.
	SessionTTL Duration `yaml:"session_ttl"`

	// SweepInterval is how often stale sessions and orphaned scratch
	// files are cleaned up.
	SweepInterval Duration `yaml:"sweep_interval"`

	Storage  StorageConfig  `yaml:"storage"`
	History  HistoryConfig  `yaml:"history"`
	Channels ChannelsConfig `yaml:"channels"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Name:          "ZipClaw",
		Categories:    []string{"documents"},
		ScratchDir:    "./data/scratch",
		MaxFileSize:   50 * 1024 * 1024,
		SessionTTL:    Duration(24 * time.Hour),
		SweepInterval: Duration(30 * time.Minute),
		Auth: AuthConfig{
			MaxAttempts: 5,
			Lockout:     Duration(5 * time.Minute),
		},
		Storage: StorageConfig{
			Backend:  "local",
			LocalDir: "./data/archives",
			ZipDir:   "./data/zipstore",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./data/history.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth.password or auth.password_hash is required")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}
	switch c.Storage.Backend {
	case "local", "zipfile":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want local, zipfile, or s3)", c.Storage.Backend)
	}
	return nil
}
