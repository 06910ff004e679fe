package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"maxbridge/internal/bridge"
	"maxbridge/internal/bus"
	"maxbridge/internal/config"
	"maxbridge/internal/domain"
	"maxbridge/internal/fetch"
	"maxbridge/internal/maxclient"
	"maxbridge/internal/registry"
	"maxbridge/internal/telegram"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "maxbridge",
		Short:   "One-way message bridge from Max to Telegram",
		Long:    "maxbridge forwards text and media from one Max chat into Telegram chats subscribed via /start.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.maxbridge/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(chatsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.General.LogLevel)}))
	return cfg, nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("config written, fill in max.phone, max.chatId, and telegram.token", "path", cfgPath)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge",
		Long:  "Connects to Max, polls Telegram for /start and /stop, and forwards messages until interrupted.",
		RunE:  runBridge,
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.Load(cfg.General.StateFile, logger)

	bot, err := telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		ParseMode:  cfg.Telegram.ParseMode,
		Registry:   reg,
		SourceChat: cfg.Max.ChatID,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	fetcher := fetch.New(fetch.Config{
		ConnectTimeout:  time.Duration(cfg.Fetch.ConnectTimeoutSeconds) * time.Second,
		ResponseTimeout: time.Duration(cfg.Fetch.ResponseTimeoutSeconds) * time.Second,
		TotalTimeout:    time.Duration(cfg.Fetch.TotalTimeoutSeconds) * time.Second,
		Policy: fetch.RetryPolicy{
			MaxAttempts: cfg.Fetch.MaxAttempts,
			Backoff:     fetch.ExpBackoff,
			Retryable:   fetch.Transient,
		},
		Logger: logger,
	})

	maxc, err := maxclient.New(maxclient.Config{
		Phone:    cfg.Max.Phone,
		Endpoint: cfg.Max.Endpoint,
		WorkDir:  cfg.Max.WorkDir,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	dispatcher := bridge.NewDispatcher(bridge.DispatcherConfig{
		Users:    maxc,
		Resolver: bridge.NewResolver(maxc, logger),
		Fetcher:  fetcher,
		Sender:   bot,
		Registry: reg,
		Logger:   logger,
	})

	messageBus := bus.New(64, logger)

	maxc.OnMessage(cfg.Max.ChatID, func(msg domain.InboundMessage) {
		messageBus.Publish(msg)
	})
	maxc.OnMessageDelete(cfg.Max.ChatID, func(messageID int64) {
		logger.Info("max message deleted, ignoring", "message_id", messageID)
	})

	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		if err := bot.Start(ctx); err != nil {
			logger.Error("telegram command layer error", "err", err)
		}
	}()

	if err := maxc.Connect(ctx); err != nil {
		return fmt.Errorf("max connect: %w", err)
	}

	logger.Info("bridge started, press Ctrl+C to stop",
		"source_chat", cfg.Max.ChatID, "active_chats", reg.Len(),
	)

	// Single consumer: one message is fully handled, fan-out included,
	// before the next one starts.
	inbound := messageBus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return shutdown(botDone, maxc, messageBus)
		case msg, ok := <-inbound:
			if !ok {
				return shutdown(botDone, maxc, messageBus)
			}
			dispatcher.Handle(ctx, msg)
		}
	}
}

// shutdown stops the Telegram command layer first, then tears down the Max
// connection, bounded by a timeout.
func shutdown(botDone <-chan struct{}, maxc *maxclient.Client, messageBus *bus.InMemoryBus) error {
	logger.Info("shutting down bridge...")

	const shutdownTimeout = 10 * time.Second
	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()

	select {
	case <-botDone:
	case <-timer.C:
		logger.Warn("telegram shutdown timed out")
	}

	if err := maxc.Close(); err != nil {
		logger.Error("max client close", "err", err)
	}
	messageBus.Close()

	logger.Info("bridge stopped")
	return nil
}
