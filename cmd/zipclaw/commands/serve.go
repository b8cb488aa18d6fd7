package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zipclaw/pkg/zipclaw/bot"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/channels/telegram"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/history"
)

// newServeCmd creates the `zipclaw serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the archive bot daemon",
		Long: `Start ZipClaw as a daemon, connecting to the configured chat
channels and processing uploads and downloads.

Examples:
  zipclaw serve
  zipclaw serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating storage backend: %w", err)
	}

	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.History.Path, logger)
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer hist.Close()
	}

	b := bot.New(cfg, backend, hist, logger)

	if cfg.Channels.Telegram.Token != "" {
		tg := telegram.New(cfg.Channels.Telegram, logger)
		if err := b.ChannelManager().Register(tg); err != nil {
			return fmt.Errorf("registering Telegram: %w", err)
		}
		logger.Info("Telegram channel registered")
	} else {
		return fmt.Errorf("no channel configured: set channels.telegram.token or TELEGRAM_BOT_TOKEN")
	}

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	logger.Info("ZipClaw running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"backend", cfg.Storage.Backend,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		b.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}
