package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maxbridge/internal/domain"
	"maxbridge/internal/fetch"
	"maxbridge/internal/registry"
)

// Dispatcher orchestrates one inbound Max message end to end: classify the
// attachment, resolve and download it, then fan the result out to every
// active Telegram chat. Every failure along the way is logged and degraded;
// Handle never lets one message take down the event loop.
type Dispatcher struct {
	users    domain.UserDirectory
	resolver *Resolver
	fetcher  *fetch.Fetcher
	sender   domain.MediaSender
	registry *registry.Registry
	logger   *slog.Logger
}

type DispatcherConfig struct {
	Users    domain.UserDirectory
	Resolver *Resolver
	Fetcher  *fetch.Fetcher
	Sender   domain.MediaSender
	Registry *registry.Registry
	Logger   *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		users:    cfg.Users,
		resolver: cfg.Resolver,
		fetcher:  cfg.Fetcher,
		sender:   cfg.Sender,
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}
}

// outbound pairs downloaded bytes with the send operation they belong to.
type outbound struct {
	media *domain.DownloadedMedia
	kind  domain.MediaKind
}

// Handle processes a single inbound message. Messages are handled one at a
// time; the caller must not invoke Handle concurrently.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message handling panic",
				"message_id", msg.ID, "chat_id", msg.ChatID, "panic", r,
			)
		}
	}()

	if msg.Removed {
		d.logger.Debug("skipping removed message", "message_id", msg.ID)
		return
	}
	if msg.Text == "" && len(msg.Attachments) == 0 {
		d.logger.Debug("skipping empty message", "message_id", msg.ID)
		return
	}

	name := d.senderName(ctx, msg.SenderID)
	d.logger.Info("forwarding message",
		"message_id", msg.ID, "sender", name, "attachments", len(msg.Attachments),
	)

	out := d.prepareMedia(ctx, msg)
	if out == nil && msg.Text == "" {
		// The only payload was an attachment that resolved to skip.
		return
	}
	defer func() {
		if out != nil {
			out.media.Data = nil
		}
	}()

	caption := formatCaption(name, msg.Text)

	targets := d.registry.Snapshot()
	if len(targets) == 0 {
		d.logger.Debug("no active chats to forward to", "message_id", msg.ID)
		return
	}

	for _, chatID := range targets {
		err := d.deliver(ctx, chatID, caption, out)
		if err == nil {
			d.logger.Debug("delivered", "message_id", msg.ID, "chat_id", chatID)
			continue
		}
		d.logger.Error("delivery failed", "message_id", msg.ID, "chat_id", chatID, "err", err)
		if errors.Is(err, domain.ErrChatGone) {
			if d.registry.Remove(chatID) {
				d.logger.Info("removed vanished chat from registry", "chat_id", chatID)
			}
		}
	}
}

// prepareMedia resolves and downloads the first attachment, if any. Extra
// attachments are dropped; resolution and download failures degrade to a
// text-only forward.
func (d *Dispatcher) prepareMedia(ctx context.Context, msg domain.InboundMessage) *outbound {
	if len(msg.Attachments) == 0 {
		return nil
	}
	if len(msg.Attachments) > 1 {
		d.logger.Warn("forwarding first attachment only",
			"message_id", msg.ID, "dropped", len(msg.Attachments)-1,
		)
	}

	att := msg.Attachments[0]
	resolved, err := d.resolver.Resolve(ctx, msg.ChatID, msg.ID, att)
	if err != nil {
		d.logger.Error("attachment resolution failed",
			"message_id", msg.ID, "kind", att.Kind.String(), "err", err,
		)
		return nil
	}
	if resolved == nil {
		return nil
	}

	media, err := d.fetcher.Fetch(ctx, resolved.URL, resolved.Filename)
	if err != nil {
		d.logger.Error("media download failed",
			"message_id", msg.ID, "kind", resolved.Kind.String(), "err", err,
		)
		return nil
	}
	return &outbound{media: media, kind: resolved.Kind}
}

func (d *Dispatcher) deliver(ctx context.Context, chatID, caption string, out *outbound) error {
	if out == nil {
		return d.sender.SendText(ctx, chatID, caption)
	}
	switch out.kind {
	case domain.MediaPhoto:
		return d.sender.SendPhoto(ctx, chatID, out.media, caption)
	case domain.MediaVideo:
		return d.sender.SendVideo(ctx, chatID, out.media, caption)
	case domain.MediaAudio:
		return d.sender.SendAudio(ctx, chatID, out.media, caption)
	default:
		return d.sender.SendDocument(ctx, chatID, out.media, caption)
	}
}

// senderName resolves the Max user id to a display name, falling back to a
// synthetic ID_<id> name so a lookup failure never blocks forwarding.
func (d *Dispatcher) senderName(ctx context.Context, senderID int64) string {
	if senderID == 0 {
		return "Unknown"
	}
	name, err := d.users.DisplayName(ctx, senderID)
	if err != nil {
		d.logger.Error("user lookup failed", "user_id", senderID, "err", err)
		return fmt.Sprintf("ID_%d", senderID)
	}
	if name == "" {
		d.logger.Warn("user has no name", "user_id", senderID)
		return fmt.Sprintf("ID_%d", senderID)
	}
	return name
}

func formatCaption(sender, text string) string {
	caption := fmt.Sprintf("📩 *MAX*\n*From:* %s", sender)
	if text != "" {
		caption += "\n\n" + text
	}
	return caption
}
