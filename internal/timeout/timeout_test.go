package timeout

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager_StartTimeout_NotYetExpired(t *testing.T) {
	m := NewManager(time.Hour, time.Hour, nil)
	m.StartTimeout("task-1", time.Minute)

	assert.False(t, m.IsTaskTimedOut("task-1"))
	assert.Equal(t, 1, m.TrackedCount())
}

func TestManager_IsTaskTimedOut(t *testing.T) {
	m := NewManager(time.Hour, time.Hour, nil)
	m.StartTimeout("task-1", 1*time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	assert.True(t, m.IsTaskTimedOut("task-1"))
}

func TestManager_IsTaskTimedOut_Untracked(t *testing.T) {
	m := NewManager(time.Hour, time.Hour, nil)
	assert.False(t, m.IsTaskTimedOut("never-started"))
}

func TestManager_ClearTimeout(t *testing.T) {
	m := NewManager(time.Hour, time.Hour, nil)
	m.StartTimeout("task-1", time.Minute)
	m.ClearTimeout("task-1")

	assert.Equal(t, 0, m.TrackedCount())
	assert.False(t, m.IsTaskTimedOut("task-1"))
}

func TestManager_ExtendTimeout(t *testing.T) {
	m := NewManager(time.Hour, time.Hour, nil)
	m.StartTimeout("task-1", 5*time.Millisecond)

	m.ExtendTimeout("task-1", time.Hour)
	time.Sleep(10 * time.Millisecond)

	assert.False(t, m.IsTaskTimedOut("task-1"))
}

func TestManager_ExtendTimeout_Untracked(t *testing.T) {
	m := NewManager(time.Hour, time.Hour, nil)
	m.ExtendTimeout("never-started", time.Hour)

	assert.Equal(t, 0, m.TrackedCount())
}

func TestManager_CheckTimeouts(t *testing.T) {
	m := NewManager(time.Hour, time.Hour, nil)
	m.StartTimeout("expired-1", 1*time.Millisecond)
	m.StartTimeout("expired-2", 1*time.Millisecond)
	m.StartTimeout("alive", time.Hour)

	time.Sleep(5 * time.Millisecond)

	expired := m.CheckTimeouts()
	assert.ElementsMatch(t, []string{"expired-1", "expired-2"}, expired)
	assert.Equal(t, 1, m.TrackedCount())
}

func TestManager_StartTimeout_DefaultsToManagerDefault(t *testing.T) {
	m := NewManager(time.Hour, 1*time.Millisecond, nil)
	m.StartTimeout("task-1", 0)

	time.Sleep(5 * time.Millisecond)

	assert.True(t, m.IsTaskTimedOut("task-1"))
}

func TestManager_Sweep_InvokesCallback(t *testing.T) {
	var mu sync.Mutex
	var fired []string

	m := NewManager(5*time.Millisecond, time.Hour, func(taskID string) {
		mu.Lock()
		fired = append(fired, taskID)
		mu.Unlock()
	})
	m.StartTimeout("task-1", 1*time.Millisecond)

	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, 5*time.Millisecond)
}
