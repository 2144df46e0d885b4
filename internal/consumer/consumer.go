// Package consumer implements the TaskConsumer (§4.3): the long-running
// loop that dequeues tasks, dispatches them to a Processor, and applies the
// retry policy on failure.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cleanpipe/core/internal/classify"
	"github.com/cleanpipe/core/internal/events"
	"github.com/cleanpipe/core/internal/logger"
	"github.com/cleanpipe/core/internal/queue"
	"github.com/cleanpipe/core/internal/task"
	"github.com/cleanpipe/core/internal/timeout"
)

// State is the consumer's operational state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "STOPPED"
	}
}

// dequeueTimeoutSeconds is the blocking-pop timeout of the main loop's step 1.
const dequeueTimeoutSeconds = 30

// DefaultGracefulShutdown is how long Stop waits for an in-flight task
// before re-enqueueing it and returning.
const DefaultGracefulShutdown = 5 * time.Minute

// Processor runs the cleaning operation for a single task's input file.
// The Parallel Processing Subsystem's orchestrator is the production
// implementation of this interface; the consumer is reached only through
// it, so this package never imports that one directly.
type Processor interface {
	ProcessFile(ctx context.Context, taskID, filePath string) (*task.Statistics, error)
}

// FileNotFoundError wraps the permanent failure of step 4: the task's
// input file does not exist on disk.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("FileNotFound: %s", e.Path)
}

// Consumer is a single TaskConsumer instance.
type Consumer struct {
	id          string
	manager     *queue.Manager
	dlq         *queue.DLQ
	processor   Processor
	retry       *task.RetryPolicy
	watchdog    *timeout.Manager
	heartbeat   *Heartbeat
	publisher   events.Publisher
	fileRecords queue.FileRecordUpdater

	gracefulShutdown time.Duration

	stateMu sync.RWMutex
	state   State

	current sync.Map // taskID -> *task.ProcessingTask, read by Stop's re-enqueue path
	cancels sync.Map // taskID -> context.CancelFunc, read by CancelTask

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewConsumer creates a Consumer. retry and watchdog fall back to package
// defaults when nil; gracefulShutdown falls back to DefaultGracefulShutdown
// when zero. publisher and fileRecords may both be nil, in which case
// event-bus publication and the OQ1 terminal file-record sync are skipped
// entirely.
func NewConsumer(id string, manager *queue.Manager, dlq *queue.DLQ, processor Processor, retry *task.RetryPolicy, watchdog *timeout.Manager, gracefulShutdown time.Duration, publisher events.Publisher, fileRecords queue.FileRecordUpdater) *Consumer {
	if id == "" {
		id = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if retry == nil {
		retry = task.DefaultRetryPolicy()
	}
	if watchdog == nil {
		watchdog = timeout.NewManager(0, 0, nil)
	}
	if gracefulShutdown <= 0 {
		gracefulShutdown = DefaultGracefulShutdown
	}
	c := &Consumer{
		id:               id,
		manager:          manager,
		dlq:              dlq,
		processor:        processor,
		retry:            retry,
		watchdog:         watchdog,
		gracefulShutdown: gracefulShutdown,
		publisher:        publisher,
		fileRecords:      fileRecords,
		state:            StateStopped,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
	if manager != nil {
		c.heartbeat = NewHeartbeat(manager.Client(), id, 15*time.Second, 45*time.Second)
	}
	return c
}

// publishTaskEvent is a no-op when no publisher was wired in.
func (c *Consumer) publishTaskEvent(ctx context.Context, eventType events.EventType, taskID string, extra map[string]interface{}) {
	if c.publisher == nil {
		return
	}
	event := events.NewEvent(eventType, events.TaskEventData(taskID, extra))
	if err := c.publisher.Publish(ctx, event); err != nil {
		logger.WithTask(taskID).Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish task event")
	}
}

// syncFileRecord is a no-op when no FileRecordUpdater was wired in (OQ1).
func (c *Consumer) syncFileRecord(ctx context.Context, t *task.ProcessingTask, status string) {
	if c.fileRecords == nil {
		return
	}
	if err := c.fileRecords.UpdateQueueStatus(ctx, t.FileID, t.TaskID, status, time.Now().UTC()); err != nil {
		logger.WithTask(t.TaskID).Warn().Err(err).Str("status", status).Msg("file-record sync failed at terminal transition")
	}
}

// CancelTask cancels the context passed to ProcessFile for taskID, if this
// consumer currently owns it. The timeout.Manager's onTimeout callback
// calls this so a sweep-detected timeout actually interrupts a hung
// Processor instead of waiting for it to return on its own.
func (c *Consumer) CancelTask(taskID string) {
	if v, ok := c.cancels.Load(taskID); ok {
		v.(context.CancelFunc)()
	}
}

// ID returns the consumer's identifier.
func (c *Consumer) ID() string {
	return c.id
}

// Status returns the consumer's current state.
func (c *Consumer) Status() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Consumer) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Start runs the main loop until the context is canceled or Stop is
// called. Start blocks; callers run it in its own goroutine.
func (c *Consumer) Start(ctx context.Context) {
	c.setState(StateRunning)
	defer close(c.doneCh)

	log := logger.WithComponent("consumer")
	log.Info().Str("consumer_id", c.id).Msg("consumer started")

	if c.heartbeat != nil {
		c.heartbeat.Start(ctx)
		c.heartbeat.UpdateState(StateRunning)
		defer c.heartbeat.Stop()
	}

	for {
		if c.Status() != StateRunning {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		if c.heartbeat != nil {
			if paused, _ := IsConsumerPaused(ctx, c.manager.Client(), c.id); paused {
				c.sleep(1 * time.Second)
				continue
			}
		}

		t, err := c.manager.DequeueTask(ctx, dequeueTimeoutSeconds)
		if err != nil {
			if errors.Is(err, queue.ErrUnavailable) {
				log.Error().Err(err).Msg("queue unavailable, backing off")
				c.sleep(5 * time.Second)
			} else {
				log.Error().Err(err).Msg("dequeue failed")
				c.sleep(1 * time.Second)
			}
			continue
		}
		if t == nil {
			continue // BRPOP timed out with nothing queued
		}

		c.processTask(ctx, t)
	}
}

func (c *Consumer) sleep(d time.Duration) {
	select {
	case <-c.stopCh:
	case <-time.After(d):
	}
}

// Stop requests a graceful shutdown (§4.3): dequeuing stops immediately,
// and Stop waits up to gracefulShutdown for the in-flight task to finish.
// If it does not finish in time, the task is re-enqueued with
// retryCount+1 for another consumer to pick up.
func (c *Consumer) Stop(ctx context.Context) {
	c.setState(StateShuttingDown)
	if c.heartbeat != nil {
		c.heartbeat.UpdateState(StateShuttingDown)
	}
	close(c.stopCh)

	select {
	case <-c.doneCh:
	case <-time.After(c.gracefulShutdown):
		c.requeueInFlight(ctx)
	case <-ctx.Done():
		c.requeueInFlight(ctx)
	}

	c.setState(StateStopped)
}

func (c *Consumer) requeueInFlight(ctx context.Context) {
	c.current.Range(func(key, value interface{}) bool {
		taskID := key.(string)
		t := value.(*task.ProcessingTask)
		retried := t.ForRetry()
		if _, err := c.manager.EnqueueTask(ctx, retried); err != nil {
			logger.Error().Err(err).Str("task_id", taskID).Msg("failed to re-enqueue in-flight task during shutdown")
			return true
		}
		logger.Warn().Str("task_id", taskID).Msg("re-enqueued unfinished task for shutdown")
		return true
	})
}

// processTask runs steps 2-7 of the main loop for a single dequeued task.
func (c *Consumer) processTask(ctx context.Context, t *task.ProcessingTask) {
	log := logger.WithTask(t.TaskID)

	c.current.Store(t.TaskID, t)
	defer c.current.Delete(t.TaskID)

	if c.heartbeat != nil {
		c.heartbeat.UpdateCurrentTask(t.TaskID)
		defer c.heartbeat.UpdateCurrentTask("")
	}

	c.watchdog.StartTimeout(t.TaskID, t.Timeout)
	defer c.watchdog.ClearTimeout(t.TaskID)

	if err := c.manager.SetTaskStatus(ctx, t.TaskID, func(s *task.TaskStatus) {
		if err := task.NewStateMachine(s).Start(); err != nil {
			log.Error().Err(err).Msg("failed to start task state")
		}
	}); err != nil {
		log.Error().Err(err).Msg("failed to persist PROCESSING status")
	}
	c.publishTaskEvent(ctx, events.EventTaskStarted, t.TaskID, nil)

	if _, err := os.Stat(t.FilePath); err != nil {
		c.fail(ctx, t, &FileNotFoundError{Path: t.FilePath}, false)
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	c.cancels.Store(t.TaskID, cancel)
	defer func() {
		cancel()
		c.cancels.Delete(t.TaskID)
	}()

	stats, err := c.processor.ProcessFile(taskCtx, t.TaskID, t.FilePath)
	if err != nil {
		timedOut := c.watchdog.IsTaskTimedOut(t.TaskID) || errors.Is(taskCtx.Err(), context.Canceled)
		c.fail(ctx, t, err, timedOut)
		return
	}

	c.succeed(ctx, t, stats)
}

func (c *Consumer) succeed(ctx context.Context, t *task.ProcessingTask, stats *task.Statistics) {
	log := logger.WithTask(t.TaskID)

	if err := c.manager.SetTaskStatus(ctx, t.TaskID, func(s *task.TaskStatus) {
		if err := task.NewStateMachine(s).Complete(stats); err != nil {
			log.Error().Err(err).Msg("failed to complete task state")
		}
	}); err != nil {
		log.Error().Err(err).Msg("failed to persist COMPLETED status")
	}

	if err := c.manager.UpdateProgress(ctx, t.TaskID, func(p *task.ProgressInfo) {
		p.Progress = 100
		p.ProcessedRows = stats.TotalRows
		p.TotalRows = stats.TotalRows
		p.CurrentPhase = "completed"
		p.EtaMs = nil
		p.LastUpdated = time.Now().UTC()
	}); err != nil {
		log.Error().Err(err).Msg("failed to persist completed progress")
	}

	if err := c.manager.IncrementProcessed(ctx); err != nil {
		log.Error().Err(err).Msg("failed to increment processed counter")
	}

	c.syncFileRecord(ctx, t, "completed")
	c.publishTaskEvent(ctx, events.EventTaskCompleted, t.TaskID, map[string]interface{}{
		"success_count": stats.SuccessCount,
		"error_count":   stats.ErrorCount,
	})

	log.Info().
		Int("success_count", stats.SuccessCount).
		Int("error_count", stats.ErrorCount).
		Msg("task completed")
}

// fail applies step 7 of the main loop: classify the error, retry with
// backoff if warranted, otherwise transition to a terminal state and move
// the task to the DLQ if its retry budget is the reason it stopped.
func (c *Consumer) fail(ctx context.Context, t *task.ProcessingTask, execErr error, timedOut bool) {
	log := logger.WithTask(t.TaskID)
	log.Error().Err(execErr).Bool("timed_out", timedOut).Msg("task processing failed")

	category := classify.Classify(execErr)
	if timedOut {
		category = classify.Timeout
	}

	if classify.ShouldRetry(category, t.RetryCount, t.MaxRetries) {
		c.publishTaskEvent(ctx, events.EventTaskRetrying, t.TaskID, map[string]interface{}{"category": string(category)})
		c.scheduleRetry(t, category)
		return
	}

	finalState := task.StateFailed
	if category == classify.Timeout {
		finalState = task.StateTimeout
	}

	if err := c.manager.SetTaskStatus(ctx, t.TaskID, func(s *task.TaskStatus) {
		sm := task.NewStateMachine(s)
		var terr error
		if finalState == task.StateTimeout {
			terr = sm.Timeout(execErr.Error())
		} else {
			terr = sm.Fail(execErr.Error())
		}
		if terr != nil {
			log.Error().Err(terr).Msg("failed to persist terminal task state")
		}
	}); err != nil {
		log.Error().Err(err).Msg("failed to persist terminal status")
	}

	if err := c.manager.IncrementFailed(ctx); err != nil {
		log.Error().Err(err).Msg("failed to increment failed counter")
	}

	if finalState == task.StateTimeout {
		c.syncFileRecord(ctx, t, "timeout")
		c.publishTaskEvent(ctx, events.EventTaskTimeout, t.TaskID, map[string]interface{}{"error": execErr.Error()})
	} else {
		c.syncFileRecord(ctx, t, "failed")
		c.publishTaskEvent(ctx, events.EventTaskFailed, t.TaskID, map[string]interface{}{"error": execErr.Error()})
	}

	// A retryable category that nonetheless ran out of budget is what
	// invariant 2 (§3) means by "exceeded maxRetries": route it to the
	// DLQ. A category that was never retryable in the first place (a
	// format or permission error) fails outright without a DLQ entry.
	if category.IsRetryable() && !t.CanRetry() {
		if err := c.dlq.Add(ctx, t, "max retries exceeded", execErr.Error()); err != nil {
			log.Error().Err(err).Msg("failed to add task to DLQ")
		}
	}
}

func (c *Consumer) scheduleRetry(t *task.ProcessingTask, category classify.Category) {
	delay := queue.RetryDelay(c.retry.BaseDelay, t.RetryCount)
	retried := t.ForRetry()

	logger.WithTask(t.TaskID).Warn().
		Str("category", string(category)).
		Dur("delay", delay).
		Int("retry_count", retried.RetryCount).
		Msg("task scheduled for retry")

	// Status is left in-flight, exactly as it was: the task remains
	// PROCESSING until the re-enqueue below lands, or until the
	// RecoveryManager reclaims it if this process dies mid-delay (§4.3).
	go func() {
		select {
		case <-time.After(delay):
		case <-c.stopCh:
		}
		ctx := context.Background()
		if _, err := c.manager.EnqueueTask(ctx, retried); err != nil {
			logger.Error().Err(err).Str("task_id", t.TaskID).Msg("failed to re-enqueue task for retry")
		}
	}()
}
