// Package task defines the ProcessingTask record and its lifecycle types.
package task

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by the task and queue packages.
var (
	ErrInvalidTaskData   = errors.New("invalid task data")
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// ProcessingTask is a unit of work describing one file to clean (§3).
type ProcessingTask struct {
	TaskID           string    `json:"task_id"`
	FileID           string    `json:"file_id"`
	FilePath         string    `json:"file_path"`
	OriginalFileName string    `json:"original_file_name"`
	FileSize         int64     `json:"file_size"`
	CreatedAt        time.Time `json:"created_at"`
	RetryCount       int       `json:"retry_count"`
	MaxRetries       int       `json:"max_retries"`

	// Timeout is the wall-clock budget for the task, consulted by the
	// TimeoutManager. Zero means the caller wants the configured default.
	Timeout time.Duration `json:"timeout"`
}

// New creates a ProcessingTask with default values.
func New(fileID, filePath, originalFileName string, fileSize int64, maxRetries int, timeout time.Duration) *ProcessingTask {
	return &ProcessingTask{
		TaskID:           uuid.New().String(),
		FileID:           fileID,
		FilePath:         filePath,
		OriginalFileName: originalFileName,
		FileSize:         fileSize,
		CreatedAt:        time.Now().UTC(),
		RetryCount:       0,
		MaxRetries:       maxRetries,
		Timeout:          timeout,
	}
}

// CanRetry reports whether the task has retry budget remaining (invariant 2, §3).
func (t *ProcessingTask) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// ForRetry returns a copy of the task with RetryCount incremented, ready to
// be re-enqueued. The original task is left untouched.
func (t *ProcessingTask) ForRetry() *ProcessingTask {
	clone := *t
	clone.RetryCount = t.RetryCount + 1
	return &clone
}

// ToJSON serializes the task.
func (t *ProcessingTask) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON deserializes a task.
func FromJSON(data []byte) (*ProcessingTask, error) {
	var t ProcessingTask
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
