package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/alertsync/internal/api"
	"github.com/t77yq/alertsync/internal/client"
	"github.com/t77yq/alertsync/internal/credential"
	"github.com/t77yq/alertsync/internal/feed"
	"github.com/t77yq/alertsync/internal/history"
	"github.com/t77yq/alertsync/internal/monitor"
	"github.com/t77yq/alertsync/internal/poller"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetDefault("counter.interval", poller.DefaultInterval)
	viper.SetDefault("stats.interval", 30*time.Second)
	viper.SetDefault("feed.http_timeout", 30*time.Second)
	viper.SetDefault("api.listen_addr", ":8080")
	viper.SetEnvPrefix("alertsync")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// The credential gate holds the access secret; nothing talks to
	// the remote service until it is set.
	gate := credential.NewGate()
	if secret := viper.GetString("feed.api_key"); secret != "" {
		gate.Set(secret)
	} else {
		logger.Warn("No API key configured; synchronization is gated until one is supplied")
	}

	// Session resolution log, in memory only.
	resolutionLog, err := history.NewSQLiteResolutionLog(logger, history.InMemoryDSN)
	if err != nil {
		logger.Fatal("Failed to create resolution log", zap.Error(err))
	}
	defer resolutionLog.Close()

	feedClient := client.NewFeedClient(
		viper.GetString("feed.base_url"),
		gate,
		viper.GetDuration("feed.http_timeout"),
		logger,
	)

	synchronizer := feed.NewSynchronizer(feedClient, gate, resolutionLog, logger)
	synchronizer.OnChange(func() {
		logger.Debug("Feed state changed",
			zap.Int64("cutoff", synchronizer.Cutoff()),
			zap.String("state", string(synchronizer.State())))
	})

	counterPoller := poller.NewCounterPoller(
		feedClient,
		gate,
		viper.GetDuration("counter.interval"),
		logger,
	)

	statsReporter := monitor.NewStatsReporter(
		synchronizer,
		counterPoller,
		viper.GetDuration("stats.interval"),
		logger,
	)

	apiServer := api.NewServer(
		viper.GetString("api.listen_addr"),
		synchronizer,
		counterPoller,
		statsReporter,
		resolutionLog,
		logger,
	)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	synchronizer.Start(ctx)
	if err := counterPoller.Start(ctx); err != nil {
		logger.Fatal("Failed to start counter poller", zap.Error(err))
	}
	statsReporter.Start(ctx)
	apiServer.Start()

	// Wait for shutdown signal
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}
	counterPoller.Stop()
	statsReporter.Stop()

	logger.Info("Watcher shutting down gracefully")
}
