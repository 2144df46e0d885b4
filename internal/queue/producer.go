package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cleanpipe/core/internal/logger"
	"github.com/cleanpipe/core/internal/task"
)

// ErrInvalidInput is returned when the upload handler's file fails
// validation before a task is ever constructed.
var ErrInvalidInput = errors.New("queue: invalid input")

// FileRecordUpdater is the minimal surface the TaskProducer needs from the
// external relational file-record store (out of scope per the core's
// boundary; see §1). Only a best-effort status sync is performed here —
// the queue's own status hash remains the source of truth.
type FileRecordUpdater interface {
	UpdateQueueStatus(ctx context.Context, fileID, taskID, queueStatus string, enqueuedAt time.Time) error
}

// Producer implements TaskProducer (§4.2): it turns an already-validated
// upload into an enqueued ProcessingTask.
type Producer struct {
	manager     *Manager
	fileRecords FileRecordUpdater
	maxRetries  int
	timeout     time.Duration
}

// NewProducer creates a Producer. fileRecords may be nil, in which case
// the file-record sync step is skipped entirely (used when
// config.FileRecordConfig.Enabled is false).
func NewProducer(manager *Manager, fileRecords FileRecordUpdater, maxRetries int, timeout time.Duration) *Producer {
	return &Producer{
		manager:     manager,
		fileRecords: fileRecords,
		maxRetries:  maxRetries,
		timeout:     timeout,
	}
}

// CreateProcessingTask constructs a ProcessingTask for an already-persisted
// upload and enqueues it. The caller (the out-of-scope HTTP/upload
// surface) is responsible for steps that precede this: validating the
// upload and persisting the immutable temp copy referenced by filePath.
func (p *Producer) CreateProcessingTask(ctx context.Context, taskID, fileID, filePath, originalFileName string, fileSize int64) (string, error) {
	t := task.New(fileID, filePath, originalFileName, fileSize, p.maxRetries, p.timeout)
	if taskID != "" {
		t.TaskID = taskID
	}

	if _, err := p.manager.EnqueueTask(ctx, t); err != nil {
		return "", err
	}

	// Partial failure rule (§4.2): a file-record sync failure does not
	// undo the enqueue. Per OQ1, the consumer performs its own best-effort
	// sync at the task's terminal transition, so a dropped update here is
	// not permanently lost.
	if p.fileRecords != nil {
		if err := p.fileRecords.UpdateQueueStatus(ctx, fileID, t.TaskID, "pending", time.Now().UTC()); err != nil {
			logger.Warn().Err(err).Str("task_id", t.TaskID).Msg("file-record sync failed after enqueue")
		}
	}

	return t.TaskID, nil
}
