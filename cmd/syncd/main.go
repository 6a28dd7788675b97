package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"roomsync/internal/app"
	"roomsync/internal/config"
	"roomsync/internal/provider/httpapi"
	"roomsync/internal/store"
	"roomsync/internal/store/redisstore"
	"roomsync/internal/store/sqlitestore"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[MAIN] No .env file found, relying on system env vars")
	}
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	local, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open local store", zap.Error(err))
	}

	api := httpapi.New(httpapi.Config{BaseURL: cfg.APIBaseURL, APIKey: cfg.APIKey}, logger)

	client := app.New(cfg, api, api, local, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := api.Connect(ctx); err != nil {
		logger.Warn("auth change stream unavailable", zap.Error(err))
	}
	client.Start(ctx)
	logger.Info("roomsync client started",
		zap.String("api", cfg.APIBaseURL),
		zap.String("store", cfg.StoreDriver))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := client.Close(); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}

func openStore(cfg config.AppConfig, logger *zap.Logger) (store.LocalStore, error) {
	if cfg.StoreDriver == "redis" {
		return redisstore.Open(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			PoolSize: 10,
		}, logger)
	}
	return sqlitestore.Open(cfg.SQLitePath, logger)
}
