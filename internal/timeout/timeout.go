// Package timeout tracks per-task wall-clock deadlines and reports tasks
// that have exceeded their processing budget.
package timeout

import (
	"sync"
	"time"

	"github.com/cleanpipe/core/internal/logger"
)

const (
	// DefaultMaxProcessingTime is the default wall-clock budget for a task
	// that does not specify its own timeout (§6).
	DefaultMaxProcessingTime = 30 * time.Minute

	// DefaultCheckInterval is the default period of the sweep loop (§6).
	DefaultCheckInterval = 60 * time.Second
)

// OnTimeout is invoked once per task that the sweep loop finds expired.
// The callback is responsible for transitioning the task's state and
// requeueing or failing it; the TimeoutManager only tracks deadlines.
type OnTimeout func(taskID string)

// deadline is the tracked expiry for one in-flight task.
type deadline struct {
	expiresAt time.Time
}

// Manager tracks the deadline of every task currently being processed and
// periodically sweeps for tasks that have exceeded it (§4.5).
type Manager struct {
	mu            sync.Mutex
	deadlines     map[string]deadline
	checkInterval time.Duration
	defaultMax    time.Duration
	onTimeout     OnTimeout

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a Manager. checkInterval and defaultMax fall back to
// their package defaults when zero.
func NewManager(checkInterval, defaultMax time.Duration, onTimeout OnTimeout) *Manager {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	if defaultMax <= 0 {
		defaultMax = DefaultMaxProcessingTime
	}
	return &Manager{
		deadlines:     make(map[string]deadline),
		checkInterval: checkInterval,
		defaultMax:    defaultMax,
		onTimeout:     onTimeout,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic sweep loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
	logger.Info().Dur("interval", m.checkInterval).Msg("timeout manager started")
}

// Stop halts the sweep loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	logger.Info().Msg("timeout manager stopped")
}

// StartTimeout begins tracking a task's deadline. A zero timeout uses the
// manager's configured default.
func (m *Manager) StartTimeout(taskID string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = m.defaultMax
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[taskID] = deadline{expiresAt: time.Now().Add(timeout)}
}

// ClearTimeout stops tracking a task, called when it reaches a terminal
// state through normal processing.
func (m *Manager) ClearTimeout(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadlines, taskID)
}

// ExtendTimeout pushes a task's deadline forward by the given duration
// from now, used when a task reports progress and should not be timed out
// mid-chunk.
func (m *Manager) ExtendTimeout(taskID string, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deadlines[taskID]; !ok {
		return
	}
	m.deadlines[taskID] = deadline{expiresAt: time.Now().Add(by)}
}

// IsTaskTimedOut reports whether the task is tracked and past its deadline.
func (m *Manager) IsTaskTimedOut(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deadlines[taskID]
	if !ok {
		return false
	}
	return time.Now().After(d.expiresAt)
}

// CheckTimeouts scans all tracked tasks, removes the expired ones, and
// returns their IDs. Called by the sweep loop and directly by tests.
func (m *Manager) CheckTimeouts() []string {
	now := time.Now()
	var expired []string

	m.mu.Lock()
	for taskID, d := range m.deadlines {
		if now.After(d.expiresAt) {
			expired = append(expired, taskID)
			delete(m.deadlines, taskID)
		}
	}
	m.mu.Unlock()

	return expired
}

// TrackedCount returns the number of tasks currently tracked, for metrics.
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deadlines)
}

func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	expired := m.CheckTimeouts()
	for _, taskID := range expired {
		logger.Warn().Str("task_id", taskID).Msg("task exceeded processing timeout")
		if m.onTimeout != nil {
			m.onTimeout(taskID)
		}
	}
}
