// Command consumer runs a single TaskConsumer process: it dequeues tasks
// from the shared Redis queue, runs each one through the parallel cleaning
// subsystem, and applies the retry/DLQ policy on failure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cleanpipe/core/internal/clean"
	"github.com/cleanpipe/core/internal/config"
	"github.com/cleanpipe/core/internal/consumer"
	"github.com/cleanpipe/core/internal/events"
	"github.com/cleanpipe/core/internal/logger"
	"github.com/cleanpipe/core/internal/queue"
	"github.com/cleanpipe/core/internal/task"
	"github.com/cleanpipe/core/internal/timeout"
	"github.com/cleanpipe/core/pkg/cleanrow"
)

// redisProgressReporter adapts queue.Manager and the event bus to
// clean.ProgressReporter, so a task's in-flight percentage lands in
// task:progress:<taskId> (§4.10) and on the event bus as it runs, not just
// at the final 100% write.
type redisProgressReporter struct {
	manager   *queue.Manager
	publisher events.Publisher
}

func (r *redisProgressReporter) ReportProgress(ctx context.Context, taskID string, processedRows, totalRows, pct int) error {
	err := r.manager.UpdateProgress(ctx, taskID, func(p *task.ProgressInfo) {
		p.Progress = float64(pct)
		p.ProcessedRows = processedRows
		p.TotalRows = totalRows
		p.CurrentPhase = "processing"
		p.LastUpdated = time.Now().UTC()
	})
	if r.publisher != nil {
		event := events.NewEvent(events.EventTaskProgress, events.TaskEventData(taskID, map[string]interface{}{
			"progress_pct":   pct,
			"processed_rows": processedRows,
			"total_rows":     totalRows,
		}))
		_ = r.publisher.Publish(ctx, event)
	}
	return err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting consumer")

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

	var recovery *queue.RecoveryManager
	if cfg.Recovery.EnableAutoRecovery {
		recovery = queue.NewRecoveryManager(
			manager,
			cfg.Recovery.RecoveryBatchSize,
			time.Duration(cfg.Recovery.AbandonedTaskThresholdMs)*time.Millisecond,
			time.Duration(cfg.Recovery.RecoveryCheckIntervalMs)*time.Millisecond,
			cfg.Queue.MaxRetries,
			time.Duration(cfg.Queue.TaskTTLSeconds)*time.Second,
		)
	}

	// SchemaValidator/NoopSink is the reference Cleaner/Sink pair (§1): a
	// production deployment replaces these with the real rule engine and
	// persistence layer without touching the parallel processing core.
	cleaner := cleanrow.SchemaValidator{}
	sink := cleanrow.NoopSink{}

	publisher := events.NewRedisPubSub(manager.Client())
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	reporter := &redisProgressReporter{manager: manager, publisher: publisher}

	processingMgr := clean.NewParallelProcessingManager(cleaner, sink, clean.ManagerConfig{
		WorkerCount:    cfg.Queue.WorkerCount,
		BatchSize:      cfg.Queue.BatchSize,
		ChunkTimeout:   time.Duration(cfg.Queue.ChunkTimeoutMs) * time.Millisecond,
		SampleInterval: cfg.Resource.PerformanceSampleInterval,
		Limits: clean.ResourceLimits{
			MaxMemoryMB:              float64(cfg.Resource.MaxMemoryMB),
			MaxCPUUsage:              cfg.Resource.MaxCPUUsage,
			MemoryWarningThresholdMB: float64(cfg.Resource.MemoryWarningThresholdMB),
			ConsecutiveExceeded:      cfg.Resource.ConsecutiveExceededThreshold,
			SampleInterval:           cfg.Resource.PerformanceSampleInterval,
		},
	}, reporter)

	consumerID := os.Getenv("CONSUMER_ID")

	var c *consumer.Consumer
	watchdog := timeout.NewManager(
		time.Duration(cfg.Timeout.TimeoutCheckIntervalMs)*time.Millisecond,
		time.Duration(cfg.Timeout.MaxProcessingTimeMs)*time.Millisecond,
		func(taskID string) {
			log.Warn().Str("task_id", taskID).Msg("task exceeded its processing budget, cancelling")
			c.CancelTask(taskID)
		},
	)
	watchdog.Start()
	defer watchdog.Stop()

	retryPolicy := &task.RetryPolicy{
		BaseDelay:  cfg.Queue.BaseRetryDelay,
		MaxDelay:   5 * time.Minute,
		MaxRetries: cfg.Queue.MaxRetries,
	}

	// fileRecords is nil: no external relational file-record store is
	// wired into this deployment (§1, out of scope). A deployment with
	// config.FileRecord.Enabled true supplies its own FileRecordUpdater here.
	c = consumer.NewConsumer(consumerID, manager, dlq, processingMgr, retryPolicy, watchdog, 0, publisher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if recovery != nil {
		recovery.Start(ctx)
		defer recovery.Stop()
	}

	go c.Start(ctx)
	log.Info().Str("consumer_id", c.ID()).Msg("consumer running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down consumer")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	c.Stop(shutdownCtx)

	log.Info().Msg("consumer stopped")
}
