package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tsk := New("file-1", "/data/in.csv", "in.csv", 2048, 3, 30*time.Minute)

	assert.NotEmpty(t, tsk.TaskID)
	assert.Equal(t, "file-1", tsk.FileID)
	assert.Equal(t, "/data/in.csv", tsk.FilePath)
	assert.Equal(t, "in.csv", tsk.OriginalFileName)
	assert.Equal(t, int64(2048), tsk.FileSize)
	assert.Equal(t, 0, tsk.RetryCount)
	assert.Equal(t, 3, tsk.MaxRetries)
	assert.Equal(t, 30*time.Minute, tsk.Timeout)
	assert.False(t, tsk.CreatedAt.IsZero())
}

func TestProcessingTask_CanRetry(t *testing.T) {
	tsk := New("f", "/p", "p.csv", 1, 3, time.Minute)

	tsk.RetryCount = 0
	assert.True(t, tsk.CanRetry())

	tsk.RetryCount = 2
	assert.True(t, tsk.CanRetry())

	tsk.RetryCount = 3
	assert.False(t, tsk.CanRetry())

	tsk.RetryCount = 5
	assert.False(t, tsk.CanRetry())
}

func TestProcessingTask_ForRetry(t *testing.T) {
	tsk := New("f", "/p", "p.csv", 1, 3, time.Minute)
	tsk.RetryCount = 1

	retried := tsk.ForRetry()

	assert.Equal(t, 2, retried.RetryCount)
	assert.Equal(t, 1, tsk.RetryCount, "original task must be left untouched")
	assert.Equal(t, tsk.TaskID, retried.TaskID)
}

func TestProcessingTask_ToJSON_FromJSON(t *testing.T) {
	original := New("f", "/p", "p.csv", 1, 3, time.Minute)

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.TaskID, restored.TaskID)
	assert.Equal(t, original.FileID, restored.FileID)
	assert.Equal(t, original.FilePath, restored.FilePath)
	assert.Equal(t, original.MaxRetries, restored.MaxRetries)
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("not json"))
	assert.Error(t, err)
}
