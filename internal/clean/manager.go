package clean

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cleanpipe/core/internal/logger"
	"github.com/cleanpipe/core/internal/metrics"
	"github.com/cleanpipe/core/internal/task"
	"github.com/cleanpipe/core/pkg/cleanrow"
)

// ErrBusy is returned by ProcessFile when the manager is already working
// a task (§4.13 step 1: a single manager instance runs one task at a time).
var ErrBusy = errors.New("clean: manager is already processing a task")

// ErrResourceGateTimedOut classifies as RETRYABLE_RESOURCE (§4.12): the
// memory ceiling never cleared in time to spawn the next chunk's worker.
var ErrResourceGateTimedOut = errors.New("clean: timed out waiting for memory to release before spawning worker")

// ManagerConfig configures one ParallelProcessingManager run (§6).
type ManagerConfig struct {
	WorkerCount    int
	BatchSize      int
	ChunkTimeout   time.Duration
	SampleInterval time.Duration
	Limits         ResourceLimits
}

// DefaultManagerConfig matches the §6 defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		WorkerCount:    4,
		BatchSize:      10000,
		ChunkTimeout:   DefaultChunkTimeout,
		SampleInterval: 1 * time.Second,
		Limits:         DefaultResourceLimits(),
	}
}

// ProgressReporter pushes a task's live progress to durable storage (and,
// optionally, an event bus) as chunks report rows processed. This is what
// makes task:progress:<taskId> (§4.10, "read by API polling") reflect an
// in-flight run instead of only the terminal 100% write.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, taskID string, processedRows, totalRows, pct int) error
}

// ParallelProcessingManager is the Parallel Processing Subsystem's
// orchestrator (§4.13). It implements consumer.Processor so a TaskConsumer
// can dispatch a dequeued task's file directly into it.
type ParallelProcessingManager struct {
	cleaner  cleanrow.Cleaner
	sink     cleanrow.Sink
	cfg      ManagerConfig
	reporter ProgressReporter

	mu   sync.Mutex
	busy bool
}

// NewParallelProcessingManager creates a ParallelProcessingManager. cfg
// falls back to DefaultManagerConfig when its WorkerCount is zero.
// reporter may be nil, in which case live progress is tracked in memory
// only and never pushed to the queue layer.
func NewParallelProcessingManager(cleaner cleanrow.Cleaner, sink cleanrow.Sink, cfg ManagerConfig, reporter ProgressReporter) *ParallelProcessingManager {
	if cfg.WorkerCount <= 0 {
		cfg = DefaultManagerConfig()
	}
	return &ParallelProcessingManager{cleaner: cleaner, sink: sink, cfg: cfg, reporter: reporter}
}

// ProcessFile implements consumer.Processor. It runs the 9-step
// processFile algorithm of §4.13 and returns task.Statistics reconciled
// from every chunk's WorkerResult.
func (m *ParallelProcessingManager) ProcessFile(ctx context.Context, taskID, filePath string) (*task.Statistics, error) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	m.busy = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}()

	log := logger.WithTask(taskID)

	splitter := NewChunkSplitter()
	chunks, err := splitter.Split(filePath, m.cfg.WorkerCount)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	totalRows := 0
	for _, c := range chunks {
		totalRows += c.RowCount
	}

	resourceMon, err := NewResourceMonitor(m.cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("resource monitor: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	resourceMon.Start(runCtx)
	defer func() {
		resourceMon.Stop()
		cancel()
	}()

	tracker := NewProgressTracker(taskID, totalRows)
	perf := NewPerformanceMonitor()
	perf.Start(taskID)

	pool := NewWorkerPool(filePath, m.cleaner, m.sink, taskID, m.cfg.BatchSize, m.cfg.ChunkTimeout, MessageHandler{
		OnProgress: func(p ProgressPayload) {
			pct := tracker.Report(p)
			if m.reporter != nil {
				if err := m.reporter.ReportProgress(runCtx, taskID, tracker.ProcessedRows(), totalRows, pct); err != nil {
					log.Warn().Err(err).Msg("progress report failed")
				}
			}
		},
		OnMetrics: func(mp MetricsPayload) { perf.RecordMetrics(mp) },
	})
	pool.Initialize(m.cfg.WorkerCount)
	metrics.SetWorkerPoolActiveWorkers(float64(m.cfg.WorkerCount))
	defer func() {
		pool.Terminate(m.cfg.ChunkTimeout)
		metrics.SetWorkerPoolActiveWorkers(0)
	}()

	collector := &ResultCollector{}
	collector.Initialize(len(chunks), totalRows)

	group, gctx := errgroup.WithContext(runCtx)
	var succeeded int32

	for i, chunk := range chunks {
		workerID := i % m.cfg.WorkerCount
		chunk := chunk

		if resourceMon.ShouldPauseWorkerCreation() {
			if !resourceMon.WaitForMemoryRelease(gctx, 30*time.Second) {
				return nil, ErrResourceGateTimedOut
			}
		}

		group.Go(func() error {
			chunkStart := time.Now()
			result, err := pool.ExecuteTask(gctx, workerID, chunk)
			if err != nil {
				log.Error().Err(err).Int("chunk_id", chunk.ChunkID).Msg("chunk failed")
				metrics.RecordChunkFailure()
				collector.AddResult(WorkerResult{WorkerID: workerID, ChunkID: chunk.ChunkID, ErrorCount: chunk.RowCount, Errors: []string{err.Error()}})
				if gctx.Err() != nil {
					// gctx is canceled only by a task-level cancellation
					// (e.g. the TimeoutManager's sweep), never by a single
					// chunk's own timeout. Propagate so the task surfaces
					// as failed/timed out instead of silently completing
					// with a pile of per-row errors.
					return err
				}
				return nil // all-settled: one chunk's failure doesn't cancel the rest
			}
			atomic.AddInt32(&succeeded, 1)
			metrics.RecordChunkCompletion(time.Since(chunkStart).Seconds(), result.SuccessCount, result.ErrorCount)
			collector.AddResult(result)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("clean: task canceled: %w", err)
	}

	if succeeded == 0 && len(chunks) > 0 {
		return nil, fmt.Errorf("clean: all %d chunks failed", len(chunks))
	}

	final, err := collector.GetFinalResult()
	if err != nil {
		var integrityErr *IntegrityError
		if errors.As(err, &integrityErr) {
			log.Error().Err(err).Msg("result integrity check failed")
		}
		return nil, err
	}

	report := perf.Stop()
	log.Info().
		Float64("avg_cpu_pct", report.AvgCPUPercent).
		Float64("peak_rss_mb", report.PeakRSSMB).
		Float64("avg_throughput", report.AvgThroughput).
		Msg("performance summary")

	return &task.Statistics{
		TotalRows:    final.TotalRows,
		SuccessCount: final.SuccessCount,
		ErrorCount:   final.ErrorCount,
	}, nil
}
