package clean

import (
	"context"
	"time"
)

// MessageType is the tag of the START|TERMINATE|PROGRESS|METRICS|
// COMPLETE|ERROR union exchanged between the pool and its executors (§5, §6).
type MessageType string

const (
	MsgStart     MessageType = "START"
	MsgTerminate MessageType = "TERMINATE"
	MsgProgress  MessageType = "PROGRESS"
	MsgMetrics   MessageType = "METRICS"
	MsgComplete  MessageType = "COMPLETE"
	MsgError     MessageType = "ERROR"
)

// InboundMessage is sent from the pool to an executor.
type InboundMessage struct {
	Type  MessageType
	Chunk ChunkDescriptor
}

// startRequest carries a chunk assignment together with the caller's
// context, so a ctx cancellation (e.g. TimeoutManager's sweep cancelling
// a task) can abort an in-flight chunk instead of running it to
// completion (§5).
type startRequest struct {
	ctx   context.Context
	chunk ChunkDescriptor
}

// ProgressPayload reports a worker's row progress, emitted every 1,000
// rows processed (§4.13).
type ProgressPayload struct {
	WorkerID      int
	ProcessedRows int
	TotalRows     int
}

// MetricsPayload is a worker's self-reported resource/throughput sample,
// emitted every 1,000ms (§4.11, §4.13).
type MetricsPayload struct {
	WorkerID      int
	CPUPercent    float64
	RSSMB         float64
	ProcessedRows int
	Throughput    float64 // rows/sec
	Status        string
}

// WorkerResult is produced once per chunk on completion (§3).
type WorkerResult struct {
	WorkerID         int
	ChunkID          int
	SuccessCount     int
	ErrorCount       int
	ProcessingTimeMs int64
	Errors           []string
}

// OutboundMessage is sent from an executor back to the pool.
type OutboundMessage struct {
	Type     MessageType
	WorkerID int
	Progress *ProgressPayload
	Metrics  *MetricsPayload
	Result   *WorkerResult
	Err      error
}

// executorState is the per-executor lifecycle of §4.8.
type executorState int

const (
	executorIdle executorState = iota
	executorBusy
	executorFailed
	executorTerminated
)

func (s executorState) String() string {
	switch s {
	case executorBusy:
		return "busy"
	case executorFailed:
		return "failed"
	case executorTerminated:
		return "terminated"
	default:
		return "idle"
	}
}

// progressReportRows and metricsReportInterval are the executor
// contract's reporting cadence (§4.13).
const progressReportRows = 1000

var metricsReportInterval = 1000 * time.Millisecond
