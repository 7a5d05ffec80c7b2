package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shoplife/internal/api"
	"shoplife/internal/config"
	"shoplife/internal/db"
	"shoplife/internal/kv"
	"shoplife/internal/shop"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var store kv.Store
	switch cfg.Backend {
	case config.BackendRedis:
		rs, err := kv.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rs.Close()
		store = rs
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		ps, err := kv.NewPostgres(ctx, pool)
		if err != nil {
			logger.Error("kv schema init failed", "err", err)
			os.Exit(1)
		}
		store = ps
	case config.BackendMemory:
		store = kv.NewMemory()
	}

	shopSvc := shop.NewService(store, logger, cfg.FlagPayload)
	server := api.New(cfg, logger, shopSvc)
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

	logger.Info("shoplife api listening", "addr", cfg.Addr, "backend", cfg.Backend)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
