// Command mapscout runs the HTTP ingress gateway: it authenticates API
// keys, accepts scrape submissions into the queue, and serves status
// queries. Processing happens in the separate mapscout-worker process;
// the two communicate only through Postgres.
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

	"github.com/pedrolm/mapscout/internal/api"
	"github.com/pedrolm/mapscout/internal/auth"
	"github.com/pedrolm/mapscout/internal/config"
	"github.com/pedrolm/mapscout/internal/logging"
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
	keys := postgres.NewKeyStore(pool)

	authService := auth.NewService(keys, logger)
	if err := authService.Bootstrap(ctx, auth.BootstrapPolicy{
		Name:        cfg.Auth.DefaultKeyName,
		AllowedIPs:  cfg.Auth.DefaultKeyAllowedIPList(),
		ExpiresDays: cfg.Auth.DefaultKeyExpiresDays,
	}); err != nil {
		logger.Fatal("api key bootstrap failed", zap.Error(err))
	}

	server := api.NewServer(searches, campaigns, authService, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", zap.Int("port", cfg.Server.Port))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("api server stopped")
}
