package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ratewatch/internal/config"
	"ratewatch/internal/engine"
	"ratewatch/internal/events"
	"ratewatch/internal/feed"
	"ratewatch/internal/fetch"
	"ratewatch/internal/notify"
	"ratewatch/internal/scheduler"
	"ratewatch/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load("./config")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := buildLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Alert storage: a missing or corrupt database degrades to an empty
	// in-memory set rather than failing startup.
	alertStore := store.Open(logger, cfg.Store.Path)
	defer alertStore.Close()

	alertEngine := engine.New(alertStore, logger)

	// Optional trigger event bus
	var publisher notify.EventPublisher
	if cfg.NATS.Enabled {
		if p := connectPublisher(cfg, logger); p != nil {
			publisher = p
		}
	}

	dispatcher := notify.NewDispatcher(alertEngine, buildNotifier(cfg, logger), publisher, logger)

	fetcher := fetch.NewClient(cfg.Fetch.BaseURL, cfg.Fetch.Timeout, logger)

	windows := scheduler.NewTimerWindows(logger,
		scheduler.Availability(cfg.Scheduler.Background.Availability),
		cfg.Scheduler.Background.Interval,
		cfg.Scheduler.Background.Budget)

	refresher := scheduler.NewRefreshScheduler(alertEngine, fetcher, dispatcher, windows,
		cfg.Scheduler.PollInterval, logger)
	if err := refresher.Start(ctx); err != nil {
		logger.Fatal("Failed to start refresh scheduler", zap.Error(err))
	}
	defer refresher.Stop()

	feedManager := feed.NewManager(cfg.Feed.URL, alertEngine, dispatcher,
		&feed.ExponentialBackoff{
			InitialDelay: cfg.Feed.Reconnect.InitialDelay,
			MaxDelay:     cfg.Feed.Reconnect.MaxDelay,
			Multiplier:   cfg.Feed.Reconnect.Multiplier,
		},
		cfg.Feed.ReadTimeout, logger)
	if err := feedManager.Start(ctx); err != nil {
		logger.Fatal("Failed to start feed manager", zap.Error(err))
	}
	defer feedManager.Stop()
	feedManager.SetEnabled(cfg.Feed.Enabled)

	// Keep the feed's subscription set in step with the alerts that
	// currently need streaming quotes.
	go trackSubjects(ctx, alertEngine, feedManager, cfg.Scheduler.PollInterval, logger)

	logger.Info("ratewatch started",
		zap.String("store", cfg.Store.Path),
		zap.Bool("feed_enabled", cfg.Feed.Enabled),
		zap.Bool("nats_enabled", cfg.NATS.Enabled))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()
}

func buildLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}

// connectPublisher connects to NATS and builds the trigger event
// publisher. Bus unavailability is a degraded mode, not a startup failure.
func connectPublisher(cfg *config.Config, logger *zap.Logger) *events.Publisher {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.NATS.URL, opts...)
	if err != nil {
		logger.Warn("Failed to connect to NATS, trigger events stay in-process",
			zap.String("url", cfg.NATS.URL),
			zap.Error(err))
		return nil
	}

	js, err := nc.JetStream()
	if err != nil {
		logger.Warn("Failed to create JetStream context", zap.Error(err))
		nc.Close()
		return nil
	}

	publisher, err := events.NewPublisher(js, logger)
	if err != nil {
		logger.Warn("Failed to create trigger publisher", zap.Error(err))
		nc.Close()
		return nil
	}
	return publisher
}

func buildNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	switch cfg.Notify.Channel {
	case "webhook":
		return notify.NewWebhookNotifier(cfg.Notify.WebhookURL, logger)
	case "email":
		return notify.NewEmailNotifier(notify.EmailConfig{
			Host:     cfg.Notify.Email.Host,
			Port:     cfg.Notify.Email.Port,
			Username: cfg.Notify.Email.Username,
			Password: cfg.Notify.Email.Password,
			From:     cfg.Notify.Email.From,
			To:       cfg.Notify.Email.To,
		}, logger)
	default:
		return notify.NewLogNotifier(logger)
	}
}

func trackSubjects(ctx context.Context, eng *engine.Engine, manager *feed.Manager, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	update := func() {
		subjects, err := eng.Subjects(ctx)
		if err != nil {
			logger.Warn("Failed to refresh feed subjects", zap.Error(err))
			return
		}
		manager.SetSubjects(subjects)
	}

	update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
