package bot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/zipclaw/pkg/zipclaw/archive"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/channels"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/config"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/history"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/session"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/staging"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/storage"
)

// Bot ties the channel manager, the conversation controller, and the
// maintenance scheduler into one runnable unit.
type Bot struct {
	config     *config.Config
	channelMgr *channels.Manager
	controller *Controller
	sessions   *session.Store
	stager     *staging.Stager
	cron       *cron.Cron
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Bot with all dependencies wired from the configuration.
func New(cfg *config.Config, backend storage.Backend, hist *history.Store, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}

	stager := staging.New(cfg.ScratchDir, cfg.MaxFileSize, logger)
	sessions := session.NewStore(logger)
	assembler := archive.New(stager, logger)

	return &Bot{
		config:     cfg,
		channelMgr: channels.NewManager(logger),
		controller: NewController(cfg, sessions, stager, assembler, backend, hist, logger),
		sessions:   sessions,
		stager:     stager,
		cron:       cron.New(),
		logger:     logger,
	}
}

// ChannelManager returns the channel manager for channel registration.
func (b *Bot) ChannelManager() *channels.Manager {
	return b.channelMgr
}

// Controller returns the conversation controller.
func (b *Bot) Controller() *Controller {
	return b.controller
}

// Start brings up the channels, the maintenance jobs, and the message loop.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.logger.Info("starting "+b.config.Name,
		"backend", b.config.Storage.Backend,
		"categories", b.config.Categories,
		"session_ttl", b.config.SessionTTL.Std(),
	)

	if err := b.channelMgr.Start(b.ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	spec := fmt.Sprintf("@every %s", b.config.SweepInterval.Std())
	if _, err := b.cron.AddFunc(spec, b.sweep); err != nil {
		return fmt.Errorf("scheduling session sweep: %w", err)
	}
	b.cron.Start()

	go b.messageLoop()

	b.logger.Info(b.config.Name + " started")
	return nil
}

// Stop shuts everything down in reverse order.
func (b *Bot) Stop() {
	b.logger.Info("stopping " + b.config.Name)

	if b.cancel != nil {
		b.cancel()
	}
	<-b.cron.Stop().Done()
	b.channelMgr.Stop()

	b.logger.Info(b.config.Name + " stopped")
}

// sweep expires idle sessions and removes their orphaned staged files,
// then clears stale leftovers from the scratch directory.
func (b *Bot) sweep() {
	ttl := b.config.SessionTTL.Std()

	orphans := b.sessions.Sweep(ttl)
	if len(orphans) > 0 {
		b.stager.Discard(orphans)
		b.logger.Info("expired sessions swept", "orphaned_files", len(orphans))
	}

	if n := b.stager.SweepOlderThan(time.Now().Add(-ttl)); n > 0 {
		b.logger.Info("stale scratch files removed", "count", n)
	}
}

// messageLoop consumes messages from all channels.
func (b *Bot) messageLoop() {
	for {
		select {
		case msg, ok := <-b.channelMgr.Messages():
			if !ok {
				return
			}
			go b.handleMessage(msg)

		case <-b.ctx.Done():
			return
		}
	}
}

// handleMessage processes one incoming message end to end.
func (b *Bot) handleMessage(msg *channels.IncomingMessage) {
	start := time.Now()
	logger := b.logger.With(
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"from", msg.From,
		"msg_id", msg.ID,
	)

	// Sessions are keyed per channel so the same account id on two
	// transports never shares state.
	userID := msg.Channel + ":" + msg.From

	var replies []Reply
	switch msg.Type {
	case channels.MessageDocument:
		replies = b.handleDocument(msg, userID, logger)
	default:
		replies = b.controller.HandleText(b.ctx, userID, msg.Content)
	}

	for _, r := range replies {
		b.dispatch(msg, r, logger)
	}

	logger.Debug("message processed",
		"duration_ms", time.Since(start).Milliseconds(),
		"replies", len(replies),
	)
}

// handleDocument pulls the file off the transport and feeds it to the
// controller as a staged upload.
func (b *Bot) handleDocument(msg *channels.IncomingMessage, userID string, logger *slog.Logger) []Reply {
	if msg.Document == nil {
		return []Reply{textReply("I couldn't read that attachment, send it again.")}
	}

	ch, ok := b.channelMgr.Channel(msg.Channel)
	if !ok {
		logger.Error("unknown originating channel")
		return nil
	}
	media, ok := ch.(channels.MediaChannel)
	if !ok {
		return []Reply{textReply("This channel doesn't support file uploads.")}
	}

	data, err := media.DownloadDocument(b.ctx, msg)
	if err != nil {
		logger.Warn("document download failed", "file", msg.Document.Filename, "error", err)
		return []Reply{textReply("Downloading your file failed, please send it again.")}
	}

	return b.controller.HandleFile(b.ctx, userID, msg.Document.Filename, bytes.NewReader(data))
}

// dispatch sends one reply back on the originating channel.
func (b *Bot) dispatch(original *channels.IncomingMessage, r Reply, logger *slog.Logger) {
	if r.Document != nil {
		if err := b.channelMgr.SendDocument(b.ctx, original.Channel, original.ChatID, r.Document); err != nil {
			logger.Error("failed to send document", "error", err)
		}
		if r.Text == "" {
			return
		}
	}

	out := &channels.OutgoingMessage{
		Content:        r.Text,
		Keyboard:       r.Keyboard,
		RemoveKeyboard: r.RemoveKeyboard,
	}
	if err := b.channelMgr.Send(b.ctx, original.Channel, original.ChatID, out); err != nil {
		logger.Error("failed to send reply", "error", err)
	}
}
