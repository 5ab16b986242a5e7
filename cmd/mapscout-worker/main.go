// Command mapscout-worker runs the worker pool coordinator: it claims
// waiting searches from the queue, executes them with the headless Maps
// scraper, and writes results back. It shares nothing with the API
// process except the database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pedrolm/mapscout/internal/config"
	"github.com/pedrolm/mapscout/internal/coordinator"
	"github.com/pedrolm/mapscout/internal/logging"
	"github.com/pedrolm/mapscout/internal/metrics"
	"github.com/pedrolm/mapscout/internal/scraper"
	"github.com/pedrolm/mapscout/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		Name:     cfg.DB.Name,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		MaxConns: int32(cfg.DB.MaxConns),
	})
	if err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("schema bootstrap failed", zap.Error(err))
	}

	searches := postgres.NewSearchStore(pool)
	campaigns := postgres.NewCampaignStore(pool)

	mapsScraper, err := scraper.NewMapsScraper(scraper.Config{
		MaxParallel:    cfg.Scraper.MaxParallel,
		UserAgent:      cfg.Scraper.UserAgent,
		NavTimeout:     cfg.Scraper.NavTimeout(),
		ScrollAttempts: cfg.Scraper.ScrollAttempts,
	}, logger)
	if err != nil {
		logger.Fatal("scraper init failed", zap.Error(err))
	}
	defer mapsScraper.Close()

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("worker metrics listening", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	coord := coordinator.New(searches, searches, campaigns, mapsScraper, coordinator.Config{
		BatchSize:            cfg.Queue.BatchSize,
		MaxConcurrentTasks:   cfg.Queue.MaxConcurrentTasks,
		CheckInterval:        cfg.Queue.CheckInterval(),
		UpdateInterval:       cfg.Queue.UpdateInterval(),
		StaleProcessingAfter: cfg.Queue.StaleProcessingAfter(),
	}, logger)

	coord.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}
}
