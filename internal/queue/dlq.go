package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cleanpipe/core/internal/task"
)

const (
	dlqListKey = "tasks:dlq"
	dlqSetKey  = "tasks:dlq:set"
)

// DLQ holds tasks that exhausted their retry budget (retryCount has reached
// maxRetries, invariant 2, §3) so an operator can inspect or manually retry
// them.
type DLQ struct {
	client *redis.Client
}

// NewDLQ creates a Dead Letter Queue view over the given Redis client.
func NewDLQ(client *redis.Client) *DLQ {
	return &DLQ{client: client}
}

// Entry is a task's DLQ record.
type Entry struct {
	Task      *task.ProcessingTask `json:"task"`
	Reason    string               `json:"reason"`
	AddedAt   time.Time            `json:"added_at"`
	OrigError string               `json:"original_error"`
}

// Add records a task that will never be retried again.
func (d *DLQ) Add(ctx context.Context, t *task.ProcessingTask, reason, origError string) error {
	entry := Entry{
		Task:      t,
		Reason:    reason,
		AddedAt:   time.Now().UTC(),
		OrigError: origError,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal DLQ entry: %w", err)
	}

	pipe := d.client.TxPipeline()
	pipe.LPush(ctx, dlqListKey, data)
	pipe.SAdd(ctx, dlqSetKey, t.TaskID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("add to DLQ: %w", err)
	}
	return nil
}

// List returns up to count DLQ entries (0 means all).
func (d *DLQ) List(ctx context.Context, count int64) ([]Entry, error) {
	stop := int64(-1)
	if count > 0 {
		stop = count - 1
	}

	raw, err := d.client.LRange(ctx, dlqListKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list DLQ: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Remove deletes a single matching entry (by task ID) from the list and set.
func (d *DLQ) Remove(ctx context.Context, taskID string) error {
	entries, err := d.List(ctx, 0)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Task.TaskID != taskID {
			continue
		}
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		if err := d.client.LRem(ctx, dlqListKey, 1, data).Err(); err != nil {
			return fmt.Errorf("remove from DLQ list: %w", err)
		}
		break
	}

	return d.client.SRem(ctx, dlqSetKey, taskID).Err()
}

// Retry re-enqueues a DLQ'd task with a reset retry count via manager,
// then removes it from the DLQ.
func (d *DLQ) Retry(ctx context.Context, manager *Manager, taskID string) error {
	entries, err := d.List(ctx, 0)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Task.TaskID != taskID {
			continue
		}
		retried := *entry.Task
		retried.RetryCount = 0
		if _, err := manager.EnqueueTask(ctx, &retried); err != nil {
			return fmt.Errorf("requeue DLQ task: %w", err)
		}
		return d.Remove(ctx, taskID)
	}

	return task.ErrTaskNotFound
}

// Size returns the number of tasks currently in the DLQ.
func (d *DLQ) Size(ctx context.Context) (int64, error) {
	return d.client.SCard(ctx, dlqSetKey).Result()
}

// Contains reports whether a task is currently in the DLQ.
func (d *DLQ) Contains(ctx context.Context, taskID string) (bool, error) {
	return d.client.SIsMember(ctx, dlqSetKey, taskID).Result()
}

// Clear removes every entry from the DLQ.
func (d *DLQ) Clear(ctx context.Context) error {
	pipe := d.client.TxPipeline()
	pipe.Del(ctx, dlqListKey)
	pipe.Del(ctx, dlqSetKey)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("clear DLQ: %w", err)
	}
	return nil
}
