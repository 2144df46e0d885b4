package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_Constants(t *testing.T) {
	assert.Equal(t, EventType("task.submitted"), EventTaskSubmitted)
	assert.Equal(t, EventType("task.started"), EventTaskStarted)
	assert.Equal(t, EventType("task.progress"), EventTaskProgress)
	assert.Equal(t, EventType("task.completed"), EventTaskCompleted)
	assert.Equal(t, EventType("task.failed"), EventTaskFailed)
	assert.Equal(t, EventType("task.retrying"), EventTaskRetrying)
	assert.Equal(t, EventType("task.timeout"), EventTaskTimeout)
	assert.Equal(t, EventType("consumer.joined"), EventConsumerJoined)
	assert.Equal(t, EventType("consumer.left"), EventConsumerLeft)
	assert.Equal(t, EventType("consumer.paused"), EventConsumerPaused)
	assert.Equal(t, EventType("consumer.resumed"), EventConsumerResumed)
	assert.Equal(t, EventType("queue.depth"), EventQueueDepth)
	assert.Equal(t, EventType("system.metrics"), EventSystemMetrics)
}

func TestNewEvent(t *testing.T) {
	data := map[string]interface{}{
		"task_id": "task-123",
	}

	event := NewEvent(EventTaskSubmitted, data)

	assert.Equal(t, EventTaskSubmitted, event.Type)
	assert.Equal(t, data, event.Data)
	assert.False(t, event.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestEvent_ToJSON(t *testing.T) {
	event := &Event{
		Type:      EventTaskCompleted,
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"task_id": "task-456",
			"result":  "success",
		},
	}

	data, err := event.ToJSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	err = json.Unmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, "task.completed", parsed["type"])
	assert.NotEmpty(t, parsed["timestamp"])
	assert.NotNil(t, parsed["data"])
}

func TestFromJSON(t *testing.T) {
	jsonData := `{
		"type": "task.failed",
		"timestamp": "2024-01-15T10:30:00Z",
		"data": {"task_id": "task-789", "error": "timeout"}
	}`

	event, err := FromJSON([]byte(jsonData))
	require.NoError(t, err)

	assert.Equal(t, EventTaskFailed, event.Type)
	assert.Equal(t, "task-789", event.Data["task_id"])
	assert.Equal(t, "timeout", event.Data["error"])
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("invalid json"))
	assert.Error(t, err)
}

func TestEvent_RoundTrip(t *testing.T) {
	original := NewEvent(EventConsumerJoined, map[string]interface{}{
		"consumer_id": "consumer-1",
		"state":       "RUNNING",
	})

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Data["consumer_id"], restored.Data["consumer_id"])
	assert.Equal(t, original.Data["state"], restored.Data["state"])
}

func TestTaskEventData(t *testing.T) {
	data := TaskEventData("task-123", map[string]interface{}{
		"retry_count": 1,
		"error":       "timeout",
	})

	assert.Equal(t, "task-123", data["task_id"])
	assert.Equal(t, 1, data["retry_count"])
	assert.Equal(t, "timeout", data["error"])
}

func TestTaskEventData_NoExtra(t *testing.T) {
	data := TaskEventData("task-456", nil)

	assert.Equal(t, "task-456", data["task_id"])
	assert.Len(t, data, 1)
}

func TestConsumerEventData(t *testing.T) {
	data := ConsumerEventData("consumer-1", "RUNNING", map[string]interface{}{
		"current_task": "task-5",
	})

	assert.Equal(t, "consumer-1", data["consumer_id"])
	assert.Equal(t, "RUNNING", data["state"])
	assert.Equal(t, "task-5", data["current_task"])
}

func TestConsumerEventData_NoExtra(t *testing.T) {
	data := ConsumerEventData("consumer-2", "SHUTTING_DOWN", nil)

	assert.Equal(t, "consumer-2", data["consumer_id"])
	assert.Equal(t, "SHUTTING_DOWN", data["state"])
	assert.Len(t, data, 2)
}

func TestQueueDepthData(t *testing.T) {
	depths := map[string]int64{
		"file-processing": 42,
	}

	data := QueueDepthData(depths)

	assert.NotNil(t, data["depths"])
	depthsData := data["depths"].(map[string]int64)
	assert.Equal(t, int64(42), depthsData["file-processing"])
}
