package clean

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cleanpipe/core/internal/logger"
	"github.com/cleanpipe/core/pkg/cleanrow"
)

// executor is one of the WorkerPool's N units of concurrent execution
// (§4.8). It owns a single goroutine; it never processes more than one
// chunk at a time.
type executor struct {
	id        int
	path      string
	cleaner   cleanrow.Cleaner
	sink      cleanrow.Sink
	taskID    string
	batchSize int

	startCh     chan startRequest
	terminateCh chan struct{}
	outbox      chan<- OutboundMessage

	terminateOnce sync.Once

	stateMu sync.Mutex
	state   executorState
}

func newExecutor(id int, path string, cleaner cleanrow.Cleaner, sink cleanrow.Sink, taskID string, batchSize int, outbox chan<- OutboundMessage) *executor {
	if batchSize <= 0 {
		batchSize = 10000
	}
	return &executor{
		id:          id,
		path:        path,
		cleaner:     cleaner,
		sink:        sink,
		taskID:      taskID,
		batchSize:   batchSize,
		startCh:     make(chan startRequest, 1),
		terminateCh: make(chan struct{}),
		outbox:      outbox,
		state:       executorIdle,
	}
}

// State returns the executor's current lifecycle state. Safe for
// concurrent use: the pool reads it from ExecuteTask/IsHealthy/
// RestartFailedWorkers while this executor's own goroutine writes it.
func (e *executor) State() executorState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *executor) setState(s executorState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// requestTerminate closes terminateCh exactly once. Cancellation can
// arrive from three independent places (pool.Terminate, ExecuteTask's
// chunk timeout, and now ctx cancellation) so a plain close would panic
// on the second caller.
func (e *executor) requestTerminate() {
	e.terminateOnce.Do(func() { close(e.terminateCh) })
}

// run is the executor's goroutine body: it waits for a chunk on startCh,
// processes it, and reports COMPLETE or ERROR, honoring terminateCh at
// any point by flushing open batches and exiting. Each chunk carries its
// own caller context (startRequest.ctx), so a task-level cancellation
// aborts only the in-flight chunk rather than the executor's lifetime.
func (e *executor) run() {
	for {
		select {
		case req := <-e.startCh:
			e.setState(executorBusy)
			e.processChunk(req.ctx, req.chunk)
			if e.State() == executorBusy {
				e.setState(executorIdle)
			}
		case <-e.terminateCh:
			e.setState(executorTerminated)
			return
		}
	}
}

func (e *executor) processChunk(ctx context.Context, chunk ChunkDescriptor) {
	log := logger.WithComponent("clean.executor")
	start := time.Now()

	header, err := e.header()
	if err != nil {
		e.setState(executorFailed)
		e.outbox <- OutboundMessage{Type: MsgError, WorkerID: e.id, Err: fmt.Errorf("worker %d: %w", e.id, err)}
		return
	}

	f, err := os.Open(e.path)
	if err != nil {
		e.setState(executorFailed)
		e.outbox <- OutboundMessage{Type: MsgError, WorkerID: e.id, Err: fmt.Errorf("worker %d: open: %w", e.id, err)}
		return
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	result := WorkerResult{WorkerID: e.id, ChunkID: chunk.ChunkID}
	batch := make([]cleanrow.Row, 0, e.batchSize)

	lastMetrics := time.Now()
	rowNum := -1 // file row number of the record last read; row 0 is the header

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.sink.InsertBatch(ctx, e.taskID, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		values, err := reader.Read()
		if err != nil {
			break // io.EOF or malformed trailing row; either ends the scan
		}
		rowNum++
		if rowNum == 0 {
			continue // the header is never a data row
		}
		dataRow := rowNum - 1 // chunk ranges index data rows from 0

		if dataRow < chunk.StartRow {
			continue
		}
		if dataRow >= chunk.EndRow {
			break
		}

		select {
		case <-ctx.Done():
			_ = flush()
			e.setState(executorTerminated)
			return
		case <-e.terminateCh:
			_ = flush()
			e.setState(executorTerminated)
			return
		default:
		}

		row := cleanrow.Row{Number: rowNum, Header: header, Values: values}
		cleaned, cerr := e.cleanRow(row)
		if cerr != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, cerr.Error())
		} else {
			result.SuccessCount++
			batch = append(batch, cleaned)
		}

		if len(batch) >= e.batchSize {
			if err := flush(); err != nil {
				e.setState(executorFailed)
				e.outbox <- OutboundMessage{Type: MsgError, WorkerID: e.id, Err: fmt.Errorf("worker %d: batch insert: %w", e.id, err)}
				return
			}
		}

		processed := dataRow - chunk.StartRow + 1
		if processed%progressReportRows == 0 {
			e.outbox <- OutboundMessage{Type: MsgProgress, WorkerID: e.id, Progress: &ProgressPayload{
				WorkerID:      e.id,
				ProcessedRows: processed,
				TotalRows:     chunk.RowCount,
			}}
		}
		if time.Since(lastMetrics) >= metricsReportInterval {
			lastMetrics = time.Now()
			e.outbox <- OutboundMessage{Type: MsgMetrics, WorkerID: e.id, Metrics: &MetricsPayload{
				WorkerID:      e.id,
				ProcessedRows: processed,
				Throughput:    float64(processed) / time.Since(start).Seconds(),
				Status:        e.State().String(),
			}}
		}
	}

	if err := flush(); err != nil {
		e.setState(executorFailed)
		e.outbox <- OutboundMessage{Type: MsgError, WorkerID: e.id, Err: fmt.Errorf("worker %d: final batch insert: %w", e.id, err)}
		return
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	log.Debug().Int("worker_id", e.id).Int("success", result.SuccessCount).Int("errors", result.ErrorCount).Msg("chunk complete")
	e.outbox <- OutboundMessage{Type: MsgComplete, WorkerID: e.id, Result: &result}
}

// cleanRow invokes the caller-supplied Cleaner and converts a panic into an
// error so that one malformed row can't take down the whole worker.
func (e *executor) cleanRow(row cleanrow.Row) (cleaned cleanrow.Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("clean.executor").Error().
				Int("worker_id", e.id).
				Int("row", row.Number).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("cleaner panicked")
			err = fmt.Errorf("cleaner panicked: %v", r)
		}
	}()
	return e.cleaner.CleanRow(row)
}

func (e *executor) header() ([]string, error) {
	f, err := os.Open(e.path)
	if err != nil {
		return nil, fmt.Errorf("open for header: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return header, nil
}
