package bot

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/jholhewres/zipclaw/pkg/zipclaw/config"
)

func TestNewWiresDependencies(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Password = "secret"
	cfg.ScratchDir = t.TempDir()

	b := New(cfg, newMemBackend(), nil, nil)

	if b.Controller() == nil {
		t.Fatal("controller not wired")
	}
	if b.ChannelManager() == nil {
		t.Fatal("channel manager not wired")
	}
}

func TestSubsystemLogsCarrySingleComponent(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Password = "secret"
	cfg.ScratchDir = t.TempDir()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	b := New(cfg, newMemBackend(), nil, logger)

	if _, err := b.stager.Stage(context.Background(), "a.txt", strings.NewReader("x")); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	line := buf.String()
	if !strings.Contains(line, "file staged") {
		t.Fatalf("expected stager log output, got %q", line)
	}
	if got := strings.Count(line, "component="); got != 1 {
		t.Errorf("expected exactly one component attribute, got %d in %q", got, line)
	}
}
