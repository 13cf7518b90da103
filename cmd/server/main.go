// Package main is the telemetry repository's server entry point: it loads
// configuration, builds the in-memory Repository, bridges it to the dashboard
// WebSocket broadcaster, and serves both over HTTP until an interrupt signal arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"brokle-telemetry/internal/config"
	"brokle-telemetry/internal/ingest"
	"brokle-telemetry/internal/telemetry"
	"brokle-telemetry/internal/version"
	"brokle-telemetry/pkg/logging"
	"brokle-telemetry/pkg/realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.NewLoggerWithFormat(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logger.Info("starting telemetry server", "version", version.Get(), "env", cfg.Environment)

	limits := telemetry.Limits{
		MaxLogCount:        cfg.Observability.MaxLogCount,
		MaxTraceCount:      cfg.Observability.MaxTraceCount,
		MaxMetricsCount:    cfg.Observability.MaxMetricsCount,
		MaxAttributeCount:  cfg.Observability.MaxAttributeCount,
		MaxAttributeLength: cfg.Observability.MaxAttributeLength,
		MaxSpanEventCount:  cfg.Observability.MaxSpanEventCount,
	}
	repo := telemetry.NewRepository(limits, logger, logrus.StandardLogger())

	broadcaster := realtime.NewBroadcaster(&realtime.BroadcasterConfig{
		BufferSize:        cfg.Realtime.BufferSize,
		MaxSubscribers:    cfg.Realtime.MaxSubscribers,
		MaxChannels:       8,
		DefaultChannelTTL: 0,
		CleanupInterval:   time.Minute,
		SubscriberTimeout: 2 * time.Minute,
	})
	if err := broadcaster.Start(); err != nil {
		log.Fatalf("failed to start broadcaster: %v", err)
	}
	bridge := realtime.NewBridge(repo, broadcaster, cfg.Realtime.MinExecuteInterval)

	server := ingest.New(repo, broadcaster, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	bridge.Close()
	if err := broadcaster.Stop(); err != nil {
		logger.Warn("broadcaster shutdown error", "error", err)
	}
	repo.Stop()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
