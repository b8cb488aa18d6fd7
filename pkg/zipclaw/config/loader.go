// loader.go reads YAML config files with .env loading and ${VAR}
// expansion, so secrets live in the environment rather than the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} or $VAR_NAME in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadFile reads and parses a YAML configuration file. .env files are
// loaded first and ${VAR} references are expanded before parsing.
func LoadFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse([]byte(expandEnvVars(string(data))))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	checkFilePermissions(path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse parses YAML bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// FindFile searches standard locations for a config file.
func FindFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"zipclaw.yaml",
		"zipclaw.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env files from standard locations.
// godotenv.Load does not overwrite existing env vars.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} and $VAR references with environment
// values, leaving unset references in place.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// resolveSecrets fills in secrets from the environment when the config
// value is empty or still a placeholder.
func resolveSecrets(cfg *Config) {
	if cfg.Auth.Password == "" || isEnvReference(cfg.Auth.Password) {
		if v := os.Getenv("ZIPCLAW_PASSWORD"); v != "" {
			cfg.Auth.Password = v
		}
	}
	if cfg.Channels.Telegram.Token == "" || isEnvReference(cfg.Channels.Telegram.Token) {
		if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
			cfg.Channels.Telegram.Token = v
		}
	}
}

// isEnvReference checks if a string is an unexpanded env reference.
func isEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}

// checkFilePermissions warns if the config file is group/world readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
		)
	}
}
