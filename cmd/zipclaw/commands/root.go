// Package commands implements the ZipClaw CLI commands using cobra.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zipclaw/pkg/zipclaw/config"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/storage"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zipclaw",
		Short: "ZipClaw - password-gated archive bot",
		Long: `ZipClaw is a chat bot that collects files from authorized users,
bundles them into named zip archives, and stores them in a local
directory, a zip container, or an S3-compatible object store.

Examples:
  zipclaw serve
  zipclaw archives list
  zipclaw archives get documents 2025-01-01.zip -o ./2025-01-01.zip
  zipclaw history --limit 20`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newArchivesCmd(),
		newHistoryCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// resolveConfig loads the configuration from the --config flag or from
// the conventional file locations, falling back to defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := config.FindFile(); found != "" {
		cfg, err := config.LoadFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section and the
// --verbose flag.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// newBackend builds the storage backend selected in the configuration.
func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "local", "":
		return storage.NewLocal(cfg.Storage.LocalDir, logger), nil
	case "zipfile":
		return storage.NewZipStore(cfg.Storage.ZipDir, logger), nil
	case "s3":
		return storage.NewS3(ctx, cfg.Storage.S3, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
