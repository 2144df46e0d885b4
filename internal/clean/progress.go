package clean

import (
	"sync"

	"github.com/cleanpipe/core/internal/logger"
)

// progressMilestones are the percentages that get a log line the first
// time the tracker crosses them (§4.13 step 6).
var progressMilestones = [...]int{25, 50, 75, 100}

// ProgressTracker folds per-worker row progress into a single monotonic
// task-level percentage (invariant 4, §3): once reported, the overall
// percentage never decreases, even if a worker's own counter briefly lags
// behind a previous sample due to message reordering.
type ProgressTracker struct {
	taskID string

	mu         sync.Mutex
	totalRows  int
	perWorker  map[int]int
	overallPct int
	crossed    map[int]bool
}

// NewProgressTracker creates a ProgressTracker for totalRows rows.
func NewProgressTracker(taskID string, totalRows int) *ProgressTracker {
	return &ProgressTracker{
		taskID:    taskID,
		totalRows: totalRows,
		perWorker: make(map[int]int),
		crossed:   make(map[int]bool),
	}
}

// Report records a worker's latest processed-row count and returns the
// recomputed overall percentage. The returned value is always >= the
// previously returned one.
func (t *ProgressTracker) Report(p ProgressPayload) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.ProcessedRows > t.perWorker[p.WorkerID] {
		t.perWorker[p.WorkerID] = p.ProcessedRows
	}

	processed := 0
	for _, n := range t.perWorker {
		processed += n
	}

	pct := 0
	if t.totalRows > 0 {
		pct = processed * 100 / t.totalRows
		if pct > 100 {
			pct = 100
		}
	}
	if pct > t.overallPct {
		t.overallPct = pct
	}

	t.logMilestonesLocked()
	return t.overallPct
}

func (t *ProgressTracker) logMilestonesLocked() {
	log := logger.WithTask(t.taskID)
	for _, m := range progressMilestones {
		if t.overallPct >= m && !t.crossed[m] {
			t.crossed[m] = true
			log.Info().Int("progress_pct", m).Msg("chunk processing milestone")
		}
	}
}

// Overall returns the current overall percentage without recording a new
// sample.
func (t *ProgressTracker) Overall() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overallPct
}

// ProcessedRows returns the sum of every worker's latest reported
// processed-row count.
func (t *ProgressTracker) ProcessedRows() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	processed := 0
	for _, n := range t.perWorker {
		processed += n
	}
	return processed
}
