// Command admin-server runs the HTTP surface for operators: task
// status/progress polling, queue and DLQ administration, consumer
// pause/resume, and a live WebSocket event feed. It never creates tasks;
// that is the caller's responsibility via queue.Producer.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cleanpipe/core/internal/api"
	"github.com/cleanpipe/core/internal/config"
	"github.com/cleanpipe/core/internal/events"
	"github.com/cleanpipe/core/internal/logger"
	"github.com/cleanpipe/core/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting admin server")

	manager, err := queue.NewManager(&cfg.Redis, &cfg.Queue)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create queue manager")
	}
	defer func() {
		if err := manager.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close queue manager")
		}
	}()

	dlq := queue.NewDLQ(manager.Client())

	recovery := queue.NewRecoveryManager(
		manager,
		cfg.Recovery.RecoveryBatchSize,
		time.Duration(cfg.Recovery.AbandonedTaskThresholdMs)*time.Millisecond,
		time.Duration(cfg.Recovery.RecoveryCheckIntervalMs)*time.Millisecond,
		cfg.Queue.MaxRetries,
		time.Duration(cfg.Queue.TaskTTLSeconds)*time.Second,
	)

	publisher := events.NewRedisPubSub(manager.Client())
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	server := api.NewServer(cfg, manager, dlq, recovery, publisher)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.AdminPort),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.Start(ctx)

	if cfg.Recovery.EnableAutoRecovery {
		recovery.Start(ctx)
		defer recovery.Stop()
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("admin server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down admin server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	server.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown error")
	}

	log.Info().Msg("admin server stopped")
}
