package task

import "time"

// Milestones are the progress thresholds used for operational logging (GLOSSARY).
var Milestones = []int{25, 50, 75, 100}

// ProgressInfo tracks a task's completion percentage (§3).
type ProgressInfo struct {
	TaskID        string    `json:"task_id"`
	Progress      float64   `json:"progress"`
	ProcessedRows int       `json:"processed_rows"`
	TotalRows     int       `json:"total_rows"`
	CurrentPhase  string    `json:"current_phase"`
	EtaMs         *int64    `json:"eta_ms,omitempty"`
	LastUpdated   time.Time `json:"last_updated"`
}

// NewProgressInfo creates the initial 0% progress record written at enqueue time.
func NewProgressInfo(taskID string) *ProgressInfo {
	return &ProgressInfo{
		TaskID:       taskID,
		Progress:     0,
		CurrentPhase: "queued",
		LastUpdated:  time.Now().UTC(),
	}
}

// Reset zeroes the progress record, as performed by a recovery reset
// (invariant 4, §3): progress is non-decreasing except for this case.
func (p *ProgressInfo) Reset() {
	p.Progress = 0
	p.ProcessedRows = 0
	p.CurrentPhase = "recovered"
	p.EtaMs = nil
	p.LastUpdated = time.Now().UTC()
}
