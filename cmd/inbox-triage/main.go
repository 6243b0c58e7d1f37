// Package main is the entry point for the inbox triage run.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/inbox-triage-lite/internal/config"
	"github.com/shineum/inbox-triage-lite/internal/creds"
	"github.com/shineum/inbox-triage-lite/internal/notify"
	"github.com/shineum/inbox-triage-lite/internal/notify/console"
	"github.com/shineum/inbox-triage-lite/internal/notify/sesdigest"
	"github.com/shineum/inbox-triage-lite/internal/notify/telegram"
	"github.com/shineum/inbox-triage-lite/internal/rules"
	"github.com/shineum/inbox-triage-lite/internal/source/gmailapi"
	"github.com/shineum/inbox-triage-lite/internal/triage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	rulesPath := flag.String("rules", "", "path to the categorization ruleset (overrides config)")
	limit := flag.Int64("limit", 0, "max unread messages to process (overrides config)")
	dryRun := flag.Bool("dry-run", false, "categorize and print the digest without mutating the mailbox or notifying")
	validateCreds := flag.Bool("validate-creds", false, "check the cached credential offline and exit")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn or error (overrides config)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *rulesPath != "" {
		cfg.Rules.File = *rulesPath
	}
	if *limit > 0 {
		cfg.Fetch.Limit = *limit
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	// Build the credential store before anything else: both the offline
	// validate path and the run need it.
	store, err := buildStore(cfg)
	if err != nil {
		slog.Error("failed to set up credentials", "error", err)
		os.Exit(1)
	}

	if *validateCreds {
		if store.Validate() {
			slog.Info("cached credential is valid")
			os.Exit(0)
		}
		slog.Error("cached credential is missing, expired or unreadable")
		os.Exit(1)
	}

	// Compile the ruleset before touching the network: a broken ruleset
	// must fail fast.
	ruleset, err := rules.LoadFile(cfg.Rules.File)
	if err != nil {
		slog.Error("failed to load ruleset", "file", cfg.Rules.File, "error", err)
		os.Exit(1)
	}
	engine, err := rules.Compile(ruleset)
	if err != nil {
		slog.Error("failed to compile ruleset", "file", cfg.Rules.File, "error", err)
		os.Exit(1)
	}
	slog.Info("ruleset compiled",
		"file", cfg.Rules.File,
		"categories", len(engine.Categories())-1,
	)

	sink := selectSink(cfg)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, aborting run", "signal", sig)
		cancel()
	}()

	// The Gmail client gets a lazy token source: no network happens until
	// the orchestrator has authenticated.
	src, err := gmailapi.New(ctx, store.TokenSource(ctx))
	if err != nil {
		slog.Error("failed to create gmail client", "error", err)
		os.Exit(1)
	}

	orch := triage.New(triage.Config{
		Auth:       store,
		Classifier: engine,
		Source:     src,
		Sink:       sink,
	})

	slog.Info("starting inbox-triage-lite",
		"limit", cfg.Fetch.Limit,
		"sink", sink.Name(),
		"dry_run", *dryRun,
	)

	res, err := orch.Run(ctx, cfg.Fetch.Limit, *dryRun)
	if err != nil {
		slog.Error("run failed", "state", orch.State().String(), "error", err)
		os.Exit(1)
	}

	if len(res.Errors) > 0 {
		slog.Warn("run finished with item errors", "errors", len(res.Errors))
	}
	slog.Info("inbox-triage-lite finished", "total", res.Total)
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// buildStore creates the credential store for the configured auth mode.
func buildStore(cfg *config.Config) (*creds.Store, error) {
	switch cfg.Auth.Mode {
	case "service":
		keyJSON, err := os.ReadFile(cfg.Auth.ServiceAccountFile)
		if err != nil {
			return nil, err
		}
		return creds.NewServiceIdentity(keyJSON, cfg.Auth.Impersonate, gmailapi.Scopes...)

	default:
		oauthCfg, err := creds.ParseClientFile(cfg.Auth.ClientFile, gmailapi.Scopes...)
		if err != nil {
			return nil, err
		}
		consent := creds.NewLocalConsent(oauthCfg)
		return creds.NewInteractive(oauthCfg, cfg.Auth.TokenFile, consent), nil
	}
}

// selectSink chooses the digest delivery backend based on configuration.
// If the NOTIFIER env var (or config field) is set, it takes precedence.
// Otherwise, it falls back to auto-detection (Telegram if configured, then
// SES, else console).
func selectSink(cfg *config.Config) notify.Sink {
	switch cfg.Notifier {
	case "telegram":
		if !cfg.TelegramConfigured() {
			slog.Error("telegram sink selected but TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required")
			os.Exit(1)
		}
		slog.Info("using Telegram sink", "chat_id", cfg.Telegram.ChatID)
		return telegram.New(telegram.Config{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
		})

	case "ses":
		if !cfg.SESConfigured() {
			slog.Error("SES sink selected but SES_REGION, SES_SENDER and SES_RECIPIENT are required")
			os.Exit(1)
		}
		slog.Info("using AWS SES sink",
			"region", cfg.SES.Region,
			"recipient", cfg.SES.Recipient,
		)
		s, err := sesdigest.New(context.Background(), sesdigest.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
			Recipient:       cfg.SES.Recipient,
		})
		if err != nil {
			slog.Error("failed to create SES sink", "error", err)
			os.Exit(1)
		}
		return s

	case "console":
		slog.Info("using console sink")
		return console.New()

	case "":
		// Auto-detection fallback
		if cfg.TelegramConfigured() {
			slog.Info("using Telegram sink (auto-detected)", "chat_id", cfg.Telegram.ChatID)
			return telegram.New(telegram.Config{
				BotToken: cfg.Telegram.BotToken,
				ChatID:   cfg.Telegram.ChatID,
			})
		}
		if cfg.SESConfigured() {
			slog.Info("using AWS SES sink (auto-detected)",
				"region", cfg.SES.Region,
				"recipient", cfg.SES.Recipient,
			)
			s, err := sesdigest.New(context.Background(), sesdigest.Config{
				Region:          cfg.SES.Region,
				AccessKeyID:     cfg.SES.AccessKeyID,
				SecretAccessKey: cfg.SES.SecretAccessKey,
				Sender:          cfg.SES.Sender,
				Recipient:       cfg.SES.Recipient,
			})
			if err != nil {
				slog.Error("failed to create SES sink", "error", err)
				os.Exit(1)
			}
			return s
		}
		slog.Info("no sink configured, using console sink")
		return console.New()

	default:
		slog.Error("unknown notifier", "notifier", cfg.Notifier)
		os.Exit(1)
		return nil
	}
}
