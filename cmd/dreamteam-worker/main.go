package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dreamteam/internal/config"
	"dreamteam/internal/db"
	"dreamteam/internal/ledger"
	"dreamteam/internal/outbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	store, kind, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db open failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	pubs := outbox.Fanout{outbox.NewLogPublisher(logger)}
	if cfg.NATSURL != "" {
		np, err := outbox.NewNATSPublisher(ctx, outbox.DefaultNATSConfig(cfg.NATSURL), logger)
		if err != nil {
			logger.Error("nats init failed", "err", err)
			os.Exit(1)
		}
		defer np.Close()
		pubs = append(pubs, np)
	}
	if cfg.DiscordToken != "" {
		session, err := outbox.OpenDiscord(cfg.DiscordToken)
		if err != nil {
			logger.Error("discord init failed", "err", err)
			os.Exit(1)
		}
		defer session.Close()
		pubs = append(pubs, outbox.NewDiscordPublisher(session, cfg.DiscordChannelID))
	}

	relayCfg := outbox.DefaultRelayConfig()
	relayCfg.PollEvery = cfg.PollEvery
	relayCfg.BatchSize = cfg.BatchSize

	var opts []outbox.RelayOption
	if kind == db.KindPostgres && !cfg.RunOnce {
		notifier, err := outbox.NewPGNotifier(cfg.DatabaseURL, ledger.NotifyChannel, logger)
		if err != nil {
			logger.Warn("outbox listen unavailable, polling only", "err", err)
		} else {
			defer notifier.Close()
			opts = append(opts, outbox.WithWake(notifier.C()))
		}
	}
	relay := outbox.NewRelay(store, pubs, relayCfg, logger, opts...)

	if cfg.RunOnce {
		n, err := relay.Drain(ctx)
		if err != nil {
			logger.Error("outbox drain failed", "err", err, "published", n)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "published", n)
		return
	}

	logger.Info("worker started", "store", kind, "poll_every", relayCfg.PollEvery.String(), "publishers", len(pubs))
	if err := relay.Run(ctx); err != nil {
		logger.Error("relay stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("worker shutdown")
}
