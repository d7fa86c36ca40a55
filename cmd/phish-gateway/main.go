package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/di"
	"github.com/mikey/phish-gateway/internal/factory"
	"github.com/mikey/phish-gateway/internal/metrics"
	"github.com/mikey/phish-gateway/internal/ports"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	gateway ports.Gateway,
	repo core.Repository,
	explainer core.Explainer,
	redis *factory.RedisFactory,
) error {
	defer logger.Sync()

	var metricsServer *metrics.Server
	if m := cfg.GetMetrics(); m.Enabled {
		metricsServer = metrics.NewServer(m.ListenAddress, logger.Named("metrics"))
		metricsServer.Start()
	}

	// Start the gateway
	if err := gateway.Start(); err != nil {
		logger.Error("Failed to start gateway", zap.Error(err))
		return err
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	if err := gateway.Stop(); err != nil {
		logger.Error("Failed to stop gateway", zap.Error(err))
	}

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Stop(ctx); err != nil {
			logger.Error("Failed to stop metrics server", zap.Error(err))
		}
		cancel()
	}

	// Close any resources that need closing
	if closer, ok := explainer.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM providers", zap.Error(err))
		}
	}
	if err := repo.Close(); err != nil {
		logger.Error("Failed to close repository", zap.Error(err))
	}
	if err := redis.Close(); err != nil {
		logger.Error("Failed to close Redis client", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
