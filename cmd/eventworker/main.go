package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/power-dialer/internal/app"
	"github.com/acme/power-dialer/internal/telemetry"
	"github.com/acme/power-dialer/internal/worker/events"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())
	logger := container.Logger
	cfg := container.Config

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App, "eventworker")
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		logger.Fatal("failed to ensure kafka topics", zap.Error(err))
	}

	repos, err := container.Repositories()
	if err != nil {
		logger.Fatal("failed to build repositories", zap.Error(err))
	}

	reader := container.Kafka.EventReader(cfg.Kafka.ConsumerGroupID + "-events")
	defer reader.Close()

	logger.Info("event worker started", zap.String("topic", cfg.Kafka.EventTopic))
	if err := events.New(reader, repos.LineEvents, logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("event worker terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
