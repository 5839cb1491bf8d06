package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dreamteam/internal/api"
	"dreamteam/internal/auth"
	"dreamteam/internal/config"
	"dreamteam/internal/db"
	"dreamteam/internal/game"
	"dreamteam/internal/market"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg, err := config.LoadAPIFromEnv()
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
	if kind == db.KindMemory {
		logger.Warn("using in-memory store, data is lost on restart")
	}

	authSvc := auth.NewService(store, auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL), logger)
	gameSvc, err := game.NewService(store, logger)
	if err != nil {
		logger.Error("game init failed", "err", err)
		os.Exit(1)
	}
	engine := market.NewEngine(store, logger, nil)

	server := api.New(cfg, logger, authSvc, gameSvc, engine)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("dreamteam api listening", "addr", cfg.Addr, "store", kind)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
