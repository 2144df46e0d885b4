// Package queue implements the Redis-backed FIFO task queue: the single
// ordered list, status/progress hashes, and counters that producers and
// consumers share (§4.1, §6).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cleanpipe/core/internal/config"
	"github.com/cleanpipe/core/internal/logger"
	"github.com/cleanpipe/core/internal/task"
)

// ErrUnavailable is returned when an operation is attempted while the
// connection to the backing store is down. There is no offline queue:
// callers must surface this to their own retry/backoff policy.
var ErrUnavailable = errors.New("queue: unavailable")

const (
	statusKeyPrefix   = "task:status:"
	progressKeyPrefix = "task:progress:"
	dataKeyPrefix     = "task:data:"
	statsKey          = "queue:stats"
)

// QueueStats mirrors the queue:stats counters hash (§3, §6).
type QueueStats struct {
	QueueLength    int64 `json:"queue_length"`
	TotalEnqueued  int64 `json:"total_enqueued"`
	TotalProcessed int64 `json:"total_processed"`
	TotalFailed    int64 `json:"total_failed"`
	ActiveWorkers  int64 `json:"active_workers"`
}

// Manager implements the primitive operations over the task list, status
// map, progress map, and counters (§4.1). The queue name and key layout
// are the bit-exact external interface described in §6.
type Manager struct {
	client    *redis.Client
	queueName string
	taskTTL   time.Duration
}

// NewManager dials Redis, verifying the connection with exponential
// backoff (base 1s, factor 2, capped at 5 attempts) before returning, per
// the failure semantics of §4.1.
func NewManager(cfg *config.RedisConfig, queueCfg *config.QueueConfig) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := connectWithBackoff(client); err != nil {
		return nil, err
	}

	return &Manager{
		client:    client,
		queueName: queueCfg.QueueName,
		taskTTL:   time.Duration(queueCfg.TaskTTLSeconds) * time.Second,
	}, nil
}

// connectWithBackoff pings the client up to 5 times with base-1s,
// factor-2 exponential backoff before giving up.
func connectWithBackoff(client *redis.Client) error {
	const maxAttempts = 5
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("queue connection attempt failed")
		time.Sleep(backoff)
		backoff *= 2
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (m *Manager) ready(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// EnqueueTask pushes t to the left of the queue list, writes its initial
// TaskStatus and ProgressInfo, and increments totalEnqueued. The task data,
// status and progress records carry the configured task TTL (§4.1); the
// queue list entry and the total_enqueued counter are written without one.
func (m *Manager) EnqueueTask(ctx context.Context, t *task.ProcessingTask) (string, error) {
	if err := m.ready(ctx); err != nil {
		return "", err
	}

	data, err := t.ToJSON()
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, m.queueName, data)
	pipe.Set(ctx, dataKeyPrefix+t.TaskID, data, m.taskTTL)
	pipe.HIncrBy(ctx, statsKey, "total_enqueued", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	status := task.NewTaskStatus(t.TaskID)
	if err := m.writeStatus(ctx, status); err != nil {
		return "", err
	}

	progress := task.NewProgressInfo(t.TaskID)
	if err := m.writeProgress(ctx, progress); err != nil {
		return "", err
	}

	logger.Info().Str("task_id", t.TaskID).Str("queue", m.queueName).Msg("task enqueued")
	return t.TaskID, nil
}

// DequeueTask performs a blocking right-pop on the queue list, giving
// FIFO semantics with EnqueueTask's left-push. Returns (nil, nil) on
// timeout.
func (m *Manager) DequeueTask(ctx context.Context, timeoutSeconds int) (*task.ProcessingTask, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	result, err := m.client.BRPop(ctx, time.Duration(timeoutSeconds)*time.Second, m.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// BRPop returns [key, value]; we only asked for one key.
	if len(result) != 2 {
		return nil, fmt.Errorf("dequeue task: unexpected reply shape")
	}

	t, err := task.FromJSON([]byte(result[1]))
	if err != nil {
		return nil, fmt.Errorf("unmarshal dequeued task: %w", err)
	}
	return t, nil
}

// SetTaskStatus upserts the status record for taskID, applying the
// supplied mutator to the current (or freshly-created) status before
// writing it back, and refreshes the TTL.
func (m *Manager) SetTaskStatus(ctx context.Context, taskID string, mutate func(*task.TaskStatus)) error {
	if err := m.ready(ctx); err != nil {
		return err
	}

	status, err := m.GetTaskStatus(ctx, taskID)
	if err != nil {
		if !errors.Is(err, task.ErrTaskNotFound) {
			return err
		}
		status = task.NewTaskStatus(taskID)
	}

	mutate(status)
	return m.writeStatus(ctx, status)
}

// GetTaskStatus reads the status record for taskID, failing with
// task.ErrTaskNotFound if absent.
func (m *Manager) GetTaskStatus(ctx context.Context, taskID string) (*task.TaskStatus, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	fields, err := m.client.HGetAll(ctx, statusKeyPrefix+taskID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, task.ErrTaskNotFound
	}

	status := &task.TaskStatus{
		TaskID:       taskID,
		State:        task.ParseState(fields["status"]),
		ErrorMessage: fields["error_message"],
	}
	status.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	if v := fields["started_at"]; v != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			status.StartedAt = &ts
		}
	}
	if v := fields["completed_at"]; v != "" {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			status.CompletedAt = &ts
		}
	}
	if v := fields["statistics"]; v != "" {
		var stats task.Statistics
		if err := json.Unmarshal([]byte(v), &stats); err == nil {
			status.Statistics = &stats
		}
	}

	return status, nil
}

func (m *Manager) writeStatus(ctx context.Context, status *task.TaskStatus) error {
	fields := map[string]interface{}{
		"status":     status.State.String(),
		"created_at": status.CreatedAt.Format(time.RFC3339Nano),
	}
	if status.StartedAt != nil {
		fields["started_at"] = status.StartedAt.Format(time.RFC3339Nano)
	}
	if status.CompletedAt != nil {
		fields["completed_at"] = status.CompletedAt.Format(time.RFC3339Nano)
	}
	if status.ErrorMessage != "" {
		fields["error_message"] = status.ErrorMessage
	}
	if status.Statistics != nil {
		data, err := json.Marshal(status.Statistics)
		if err != nil {
			return fmt.Errorf("marshal statistics: %w", err)
		}
		fields["statistics"] = string(data)
	}

	key := statusKeyPrefix + status.TaskID
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, m.taskTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("write task status: %w", err)
	}
	return nil
}

// UpdateProgress upserts the progress record for taskID via the supplied
// mutator and refreshes its TTL.
func (m *Manager) UpdateProgress(ctx context.Context, taskID string, mutate func(*task.ProgressInfo)) error {
	if err := m.ready(ctx); err != nil {
		return err
	}

	progress, err := m.GetProgress(ctx, taskID)
	if err != nil {
		if !errors.Is(err, task.ErrTaskNotFound) {
			return err
		}
		progress = task.NewProgressInfo(taskID)
	}

	mutate(progress)
	return m.writeProgress(ctx, progress)
}

// GetProgress reads the progress record for taskID.
func (m *Manager) GetProgress(ctx context.Context, taskID string) (*task.ProgressInfo, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	fields, err := m.client.HGetAll(ctx, progressKeyPrefix+taskID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, task.ErrTaskNotFound
	}

	progress := &task.ProgressInfo{
		TaskID:       taskID,
		CurrentPhase: fields["current_phase"],
	}
	progress.Progress, _ = strconv.ParseFloat(fields["progress"], 64)
	processedRows, _ := strconv.Atoi(fields["processed_rows"])
	progress.ProcessedRows = processedRows
	totalRows, _ := strconv.Atoi(fields["total_rows"])
	progress.TotalRows = totalRows
	progress.LastUpdated, _ = time.Parse(time.RFC3339Nano, fields["last_updated"])
	if v := fields["estimated_time_remaining"]; v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			progress.EtaMs = &ms
		}
	}

	return progress, nil
}

func (m *Manager) writeProgress(ctx context.Context, progress *task.ProgressInfo) error {
	fields := map[string]interface{}{
		"progress":       progress.Progress,
		"processed_rows": progress.ProcessedRows,
		"total_rows":     progress.TotalRows,
		"current_phase":  progress.CurrentPhase,
		"last_updated":   progress.LastUpdated.Format(time.RFC3339Nano),
	}
	if progress.EtaMs != nil {
		fields["estimated_time_remaining"] = *progress.EtaMs
	}

	key := progressKeyPrefix + progress.TaskID
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, m.taskTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("write task progress: %w", err)
	}
	return nil
}

// GetTaskData reads the optional task:data:<taskId> payload snapshot used
// by the RecoveryManager to reconstruct an abandoned task.
func (m *Manager) GetTaskData(ctx context.Context, taskID string) (*task.ProcessingTask, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	data, err := m.client.Get(ctx, dataKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return task.FromJSON(data)
}

// PutTaskData (re)writes the task:data:<taskId> snapshot, used when
// requeueing a retried or recovered task.
func (m *Manager) PutTaskData(ctx context.Context, t *task.ProcessingTask) error {
	if err := m.ready(ctx); err != nil {
		return err
	}
	data, err := t.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return m.client.Set(ctx, dataKeyPrefix+t.TaskID, data, m.taskTTL).Err()
}

// GetQueueStats reads queue:stats and the live list length.
func (m *Manager) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	if err := m.ready(ctx); err != nil {
		return nil, err
	}

	length, err := m.client.LLen(ctx, m.queueName).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	fields, err := m.client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parse := func(key string) int64 {
		v, _ := strconv.ParseInt(fields[key], 10, 64)
		return v
	}

	return &QueueStats{
		QueueLength:    length,
		TotalEnqueued:  parse("total_enqueued"),
		TotalProcessed: parse("total_processed"),
		TotalFailed:    parse("total_failed"),
		ActiveWorkers:  parse("active_workers"),
	}, nil
}

// IncrementProcessed increments the totalProcessed counter.
func (m *Manager) IncrementProcessed(ctx context.Context) error {
	return m.client.HIncrBy(ctx, statsKey, "total_processed", 1).Err()
}

// IncrementFailed increments the totalFailed counter.
func (m *Manager) IncrementFailed(ctx context.Context) error {
	return m.client.HIncrBy(ctx, statsKey, "total_failed", 1).Err()
}

// SetActiveWorkers records the current active worker count.
func (m *Manager) SetActiveWorkers(ctx context.Context, count int64) error {
	return m.client.HSet(ctx, statsKey, "active_workers", count).Err()
}

// IsHealthy reports whether the backing store is reachable.
func (m *Manager) IsHealthy(ctx context.Context) bool {
	return m.ready(ctx) == nil
}

// ClearQueue drains the task list without touching status/progress
// records, primarily for test isolation.
func (m *Manager) ClearQueue(ctx context.Context) error {
	return m.client.Del(ctx, m.queueName).Err()
}

// Close releases the underlying Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}

// Client exposes the underlying Redis client for collaborators (DLQ,
// RecoveryManager) that need direct key access.
func (m *Manager) Client() *redis.Client {
	return m.client
}

// RetryDelay computes the backoff used both for task retries and for the
// manager's own reconnection policy (§4.1, §4.4): min(base*2^n, 5min).
func RetryDelay(base time.Duration, retryCount int) time.Duration {
	const maxDelay = 5 * time.Minute
	d := float64(base) * math.Pow(2, float64(retryCount))
	if d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}
