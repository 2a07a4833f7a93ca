package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acme/power-dialer/internal/api"
	"github.com/acme/power-dialer/internal/app"
	"github.com/acme/power-dialer/internal/metrics"
	"github.com/acme/power-dialer/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	migrate := flag.Bool("migrate", false, "apply database schemas before serving")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()
	logger := container.Logger.Named("api")
	cfg := container.Config

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App, "api")
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() { _ = shutdown(context.Background()) }()

	if *migrate {
		if err := container.Migrate(ctx); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		logger.Info("schemas applied")
	}
	if err := container.EnsureTopics(ctx); err != nil {
		logger.Warn("failed to ensure kafka topics", zap.Error(err))
	}

	handlerSet, err := container.HandlerSet()
	if err != nil {
		logger.Fatal("failed to build handlers", zap.Error(err))
	}
	server := api.NewServer(cfg.HTTP, handlerSet)
	sweeper, err := container.Janitor()
	if err != nil {
		logger.Fatal("failed to build janitor", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.Int("port", cfg.HTTP.Port))
		return server.Start(gctx)
	})
	g.Go(func() error {
		if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.Metrics.Enabled {
		metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(sctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
