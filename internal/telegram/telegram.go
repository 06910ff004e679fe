package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"maxbridge/internal/domain"
	"maxbridge/internal/registry"
)

const (
	maxMessageLen = 4000
	maxCaptionLen = 1024
	pollTimeout   = 30 // seconds, long-poll
)

// Bot is the destination side of the bridge: it delivers forwarded content
// and polls for the /start and /stop subscription commands.
type Bot struct {
	bot        *tgbotapi.BotAPI
	parseMode  string
	registry   *registry.Registry
	sourceChat int64
	logger     *slog.Logger
}

type Config struct {
	Token      string
	ParseMode  string
	Registry   *registry.Registry
	SourceChat int64 // Max chat id, echoed in the /start acknowledgement
	Logger     *slog.Logger
}

func New(cfg Config) (*Bot, error) {
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return &Bot{
		bot:        bot,
		parseMode:  cfg.ParseMode,
		registry:   cfg.Registry,
		sourceChat: cfg.SourceChat,
		logger:     cfg.Logger,
	}, nil
}

// Start polls for updates until ctx is cancelled, handling the subscription
// commands. Everything that is not a command is ignored.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.bot.GetUpdatesChan(u)

	b.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("telegram command layer stopping")
			b.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(update)
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.Chat == nil || !update.Message.IsCommand() {
		return
	}

	chatID := update.Message.Chat.ID
	id := strconv.FormatInt(chatID, 10)

	switch update.Message.Command() {
	case "start":
		if b.registry.Add(id) {
			b.logger.Info("chat activated", "chat_id", id)
			b.reply(chatID, fmt.Sprintf("🚀 Forwarding from Max (chat %d) is now active.", b.sourceChat))
		} else {
			b.reply(chatID, "✅ Already active.")
		}
	case "stop":
		if b.registry.Remove(id) {
			b.logger.Info("chat deactivated", "chat_id", id)
			b.reply(chatID, "🛑 Forwarding stopped.")
		} else {
			b.reply(chatID, "❌ Forwarding was not active here.")
		}
	default:
		b.reply(chatID, "Unknown command. Use /start to receive forwarded messages, /stop to unsubscribe.")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("command reply failed", "chat_id", chatID, "err", err)
	}
}

// SendText delivers a text message, chunked at the Telegram length limit.
func (b *Bot) SendText(ctx context.Context, chatID string, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(text, maxMessageLen) {
		err := b.sendOne(func(plain bool) tgbotapi.Chattable {
			msg := tgbotapi.NewMessage(id, chunk)
			if !plain {
				msg.ParseMode = b.parseMode
			}
			return msg
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) SendPhoto(ctx context.Context, chatID string, media *domain.DownloadedMedia, caption string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return b.sendOne(func(plain bool) tgbotapi.Chattable {
		msg := tgbotapi.NewPhoto(id, fileBytes(media))
		msg.Caption = trimCaption(caption)
		if !plain {
			msg.ParseMode = b.parseMode
		}
		return msg
	})
}

func (b *Bot) SendVideo(ctx context.Context, chatID string, media *domain.DownloadedMedia, caption string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return b.sendOne(func(plain bool) tgbotapi.Chattable {
		msg := tgbotapi.NewVideo(id, fileBytes(media))
		msg.Caption = trimCaption(caption)
		if !plain {
			msg.ParseMode = b.parseMode
		}
		return msg
	})
}

func (b *Bot) SendAudio(ctx context.Context, chatID string, media *domain.DownloadedMedia, caption string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return b.sendOne(func(plain bool) tgbotapi.Chattable {
		msg := tgbotapi.NewAudio(id, fileBytes(media))
		msg.Caption = trimCaption(caption)
		if !plain {
			msg.ParseMode = b.parseMode
		}
		return msg
	})
}

func (b *Bot) SendDocument(ctx context.Context, chatID string, media *domain.DownloadedMedia, caption string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return b.sendOne(func(plain bool) tgbotapi.Chattable {
		msg := tgbotapi.NewDocument(id, fileBytes(media))
		msg.Caption = trimCaption(caption)
		if !plain {
			msg.ParseMode = b.parseMode
		}
		return msg
	})
}

// sendOne tries the markup send first; a markup parse error is retried once
// as plain text before the error is classified and returned.
func (b *Bot) sendOne(build func(plain bool) tgbotapi.Chattable) error {
	_, err := b.bot.Send(build(false))
	if err == nil {
		return nil
	}

	if b.parseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		b.logger.Warn("markup parse error, retrying as plain text", "err", err)
		if _, err2 := b.bot.Send(build(true)); err2 == nil {
			return nil
		} else {
			err = err2
		}
	}

	return classify(err)
}

func fileBytes(media *domain.DownloadedMedia) tgbotapi.FileBytes {
	return tgbotapi.FileBytes{Name: media.Filename, Bytes: media.Data}
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}

// classify maps Bot API failures onto domain errors. The structured error
// from the SDK is preferred; the substring check is the fallback for errors
// that arrive as bare strings, a known fragility of the Bot API surface.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		if apiErr.Code == http.StatusForbidden ||
			(apiErr.Code == http.StatusBadRequest && strings.Contains(msg, "chat not found")) {
			return fmt.Errorf("%w: %v", domain.ErrChatGone, err)
		}
		return err
	}

	if s := strings.ToLower(err.Error()); strings.Contains(s, "chat not found") {
		return fmt.Errorf("%w: %v", domain.ErrChatGone, err)
	}
	return err
}

// splitMessage cuts text into chunks below limit, preferring newline breaks.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= limit {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:limit], "\n")
		if cutAt < limit/2 {
			cutAt = limit
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// trimCaption cuts at the caption limit without splitting a rune.
func trimCaption(caption string) string {
	if len(caption) <= maxCaptionLen {
		return caption
	}
	cut := maxCaptionLen
	for cut > 0 && !utf8.RuneStart(caption[cut]) {
		cut--
	}
	return caption[:cut]
}
