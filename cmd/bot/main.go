package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"

	"github.com/mixelka/tempmailbot/internal/config"
	"github.com/mixelka/tempmailbot/internal/database"
	"github.com/mixelka/tempmailbot/internal/formatter"
	"github.com/mixelka/tempmailbot/internal/mailbox"
	"github.com/mixelka/tempmailbot/internal/mailcow"
	"github.com/mixelka/tempmailbot/internal/mailtm"
	"github.com/mixelka/tempmailbot/internal/parser"
	"github.com/mixelka/tempmailbot/internal/secret"
	"github.com/mixelka/tempmailbot/internal/server"
	"github.com/mixelka/tempmailbot/internal/telegram"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting temp mail bot", "provider", cfg.MailProvider)

	box, err := secret.NewBox([]byte(cfg.EncryptionKey))
	if err != nil {
		logger.Error("failed to create secret box", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := database.New(cfg.DatabasePath, box)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Create components
	provider := newProvider(cfg, logger)
	authority := mailbox.NewAuthority(provider, cfg.RequestTimeout, logger)
	provisioner := mailbox.NewProvisioner(provider, mailbox.ProvisionerConfig{
		RequestTimeout: cfg.RequestTimeout,
		Attempts:       cfg.ProvisionAttempts,
		RetryDelay:     200 * time.Millisecond,
	}, logger)

	bot, err := telegram.NewBot(telegram.BotDeps{
		Config: cfg,
		DB:     db,
		Mailbox: mailbox.Deps{
			Provider:   provider,
			Authority:  authority,
			Saver:      db,
			Extractor:  parser.NewOTPExtractor(),
			HTMLParser: parser.NewHTMLParser(),
			Clock:      clockwork.NewRealClock(),
			Config: mailbox.PollerConfig{
				Interval:       cfg.PollInterval,
				RequestTimeout: cfg.RequestTimeout,
				SeenCapacity:   cfg.SeenCapacity,
				PreviewLength:  cfg.PreviewLength,
			},
			Logger: logger,
		},
		Provisioner: provisioner,
		Formatter:   formatter.NewTelegramFormatter(),
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}
	registry := bot.Registry()

	// Restore mailbox pollers from database
	sessions, err := db.GetActiveSessions(ctx)
	if err != nil {
		logger.Error("failed to get active sessions", "error", err)
		os.Exit(1)
	}
	if len(sessions) > 0 {
		registry.RestoreAll(ctx, sessions)
	}

	health := server.NewHealthServer(cfg.HTTPAddr, registry, logger)
	go func() {
		if err := health.Start(); err != nil {
			logger.Error("health server failed", "error", err)
		}
	}()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		logger.Info("shutting down...")

		registry.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := health.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop health server", "error", err)
		}

		cancel()
	}()

	// Start bot
	logger.Info("bot is running, press Ctrl+C to stop")
	bot.Start(ctx)

	logger.Info("bot stopped")
}

func newProvider(cfg *config.Config, logger *slog.Logger) mailbox.Provider {
	if cfg.MailProvider == config.ProviderMailcow {
		logger.Info("using mailcow provider", "domain", cfg.MailcowDomain)
		return mailcow.NewProvider(mailcow.ProviderConfig{
			API: mailcow.Config{
				BaseURL: cfg.MailcowURL,
				APIKey:  cfg.MailcowAPIKey,
				Domain:  cfg.MailcowDomain,
				Timeout: cfg.RequestTimeout,
			},
			IMAP: mailcow.IMAPConfig{
				Server:      cfg.MailcowIMAP,
				DialTimeout: cfg.IMAPDialTimeout,
			},
			QuotaMB:   cfg.MailcowQuotaMB,
			ListLimit: cfg.SeenCapacity,
		}, logger)
	}

	logger.Info("using mail.tm provider", "api", cfg.MailTMURL)
	return mailtm.NewClient(mailtm.Config{
		BaseURL: cfg.MailTMURL,
		Timeout: cfg.RequestTimeout,
	})
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
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
