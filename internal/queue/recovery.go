package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cleanpipe/core/internal/logger"
	"github.com/cleanpipe/core/internal/task"
)

const reconstructionFailedMsg = "reconstruction_failed"

// Stats summarizes one recovery pass (§4.6).
type Stats struct {
	Checked         int
	Abandoned       int
	Recovered       int
	FailedToRecover int
	Duration        time.Duration
}

// RecoveryManager finds tasks stuck in PROCESSING past a threshold —
// their owning consumer process presumably died — and re-enqueues them.
// It also enforces TTL hygiene on status/progress keys that were written
// without one.
type RecoveryManager struct {
	manager           *Manager
	batchSize         int64
	abandonedThreshold time.Duration
	checkInterval     time.Duration
	maxRetries        int
	taskTTL           time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRecoveryManager creates a RecoveryManager.
func NewRecoveryManager(manager *Manager, batchSize int, abandonedThreshold, checkInterval time.Duration, maxRetries int, taskTTL time.Duration) *RecoveryManager {
	return &RecoveryManager{
		manager:            manager,
		batchSize:          int64(batchSize),
		abandonedThreshold: abandonedThreshold,
		checkInterval:      checkInterval,
		maxRetries:         maxRetries,
		taskTTL:            taskTTL,
		stopCh:             make(chan struct{}),
	}
}

// Start runs an immediate recovery pass, then repeats it on checkInterval
// until Stop is called.
func (r *RecoveryManager) Start(ctx context.Context) {
	stats := r.Run(ctx)
	logger.Info().
		Int("checked", stats.Checked).
		Int("abandoned", stats.Abandoned).
		Int("recovered", stats.Recovered).
		Int("failed_to_recover", stats.FailedToRecover).
		Dur("duration", stats.Duration).
		Msg("startup recovery pass complete")

	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop halts the periodic loop.
func (r *RecoveryManager) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *RecoveryManager) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := r.Run(ctx)
			if stats.Abandoned > 0 {
				logger.Info().
					Int("checked", stats.Checked).
					Int("abandoned", stats.Abandoned).
					Int("recovered", stats.Recovered).
					Int("failed_to_recover", stats.FailedToRecover).
					Dur("duration", stats.Duration).
					Msg("periodic recovery pass complete")
			}
		}
	}
}

// Run performs one full recovery pass: scanning status keys, recovering
// abandoned tasks, and sweeping TTL hygiene. It is exported so tests and
// an admin endpoint can trigger it on demand.
func (r *RecoveryManager) Run(ctx context.Context) Stats {
	start := time.Now()
	stats := Stats{}

	client := r.manager.Client()
	now := time.Now()

	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, statusKeyPrefix+"*", r.batchSize).Result()
		if err != nil {
			logger.Error().Err(err).Msg("recovery scan failed")
			break
		}

		for _, key := range keys {
			taskID := strings.TrimPrefix(key, statusKeyPrefix)
			stats.Checked++

			status, err := r.manager.GetTaskStatus(ctx, taskID)
			if err != nil {
				continue
			}
			if status.State != task.StateProcessing || status.StartedAt == nil {
				continue
			}
			if now.Sub(*status.StartedAt) <= r.abandonedThreshold {
				continue
			}

			stats.Abandoned++
			if r.recoverTask(ctx, taskID) {
				stats.Recovered++
			} else {
				stats.FailedToRecover++
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	r.sweepTTLHygiene(ctx)

	stats.Duration = time.Since(start)
	return stats
}

// recoverTask reconstructs and re-enqueues a single abandoned task,
// returning false if reconstruction failed (in which case the task is
// marked FAILED instead).
func (r *RecoveryManager) recoverTask(ctx context.Context, taskID string) bool {
	t, err := r.manager.GetTaskData(ctx, taskID)
	if err != nil {
		_ = r.manager.SetTaskStatus(ctx, taskID, func(s *task.TaskStatus) {
			s.State = task.StateFailed
			s.ErrorMessage = reconstructionFailedMsg
			now := time.Now().UTC()
			s.CompletedAt = &now
		})
		logger.Error().Str("task_id", taskID).Err(err).Msg("failed to reconstruct abandoned task")
		return false
	}

	retried := t.ForRetry()
	retried.MaxRetries = r.maxRetries

	if err := r.manager.PutTaskData(ctx, retried); err != nil {
		logger.Error().Str("task_id", taskID).Err(err).Msg("failed to persist recovered task data")
		return false
	}

	if err := r.manager.client.LPush(ctx, r.manager.queueName, mustJSON(retried)).Err(); err != nil {
		logger.Error().Str("task_id", taskID).Err(err).Msg("failed to re-enqueue recovered task")
		return false
	}

	resetStatus := task.ResetForRecovery(taskID)
	if err := r.manager.writeStatus(ctx, resetStatus); err != nil {
		logger.Error().Str("task_id", taskID).Err(err).Msg("failed to reset recovered task status")
		return false
	}

	resetProgress := task.NewProgressInfo(taskID)
	resetProgress.Reset()
	if err := r.manager.writeProgress(ctx, resetProgress); err != nil {
		logger.Error().Str("task_id", taskID).Err(err).Msg("failed to reset recovered task progress")
		return false
	}

	logger.Warn().Str("task_id", taskID).Int("retry_count", retried.RetryCount).Msg("recovered abandoned task")
	return true
}

// sweepTTLHygiene sets an expiry on any status/progress key that was
// somehow written without one (§4.6 step 4).
func (r *RecoveryManager) sweepTTLHygiene(ctx context.Context) {
	client := r.manager.Client()

	for _, prefix := range []string{statusKeyPrefix, progressKeyPrefix} {
		var cursor uint64
		for {
			keys, next, err := client.Scan(ctx, cursor, prefix+"*", r.batchSize).Result()
			if err != nil {
				return
			}
			for _, key := range keys {
				ttl, err := client.TTL(ctx, key).Result()
				if err != nil {
					continue
				}
				if ttl == -1 {
					client.Expire(ctx, key, r.taskTTL)
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
}

func mustJSON(t *task.ProcessingTask) []byte {
	data, err := t.ToJSON()
	if err != nil {
		return nil
	}
	return data
}
