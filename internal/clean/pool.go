package clean

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cleanpipe/core/internal/logger"
	"github.com/cleanpipe/core/pkg/cleanrow"
)

// ErrExecutorBusy is returned by executeTask when the target executor is
// not idle, violating the pool's single-assignment rule (§4.8).
var ErrExecutorBusy = errors.New("clean: executor is not idle")

// DefaultChunkTimeout is the per-chunk deadline of executeTask (§4.8).
const DefaultChunkTimeout = 5 * time.Minute

// MessageHandler receives PROGRESS and METRICS messages forwarded from
// the pool's executors (§4.13 step 4).
type MessageHandler struct {
	OnProgress func(ProgressPayload)
	OnMetrics  func(MetricsPayload)
}

// WorkerPool owns N executors and dispatches one chunk at a time to each
// (§4.8).
type WorkerPool struct {
	path      string
	cleaner   cleanrow.Cleaner
	sink      cleanrow.Sink
	taskID    string
	batchSize int

	chunkTimeout time.Duration
	handler      MessageHandler

	mu        sync.Mutex
	executors []*executor
	outbox    chan OutboundMessage
	waiters   map[int]chan OutboundMessage
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool. chunkTimeout falls back to
// DefaultChunkTimeout when zero.
func NewWorkerPool(path string, cleaner cleanrow.Cleaner, sink cleanrow.Sink, taskID string, batchSize int, chunkTimeout time.Duration, handler MessageHandler) *WorkerPool {
	if chunkTimeout <= 0 {
		chunkTimeout = DefaultChunkTimeout
	}
	return &WorkerPool{
		path:         path,
		cleaner:      cleaner,
		sink:         sink,
		taskID:       taskID,
		batchSize:    batchSize,
		chunkTimeout: chunkTimeout,
		handler:      handler,
		outbox:       make(chan OutboundMessage, 64),
		waiters:      make(map[int]chan OutboundMessage),
	}
}

// Initialize spawns count executors. Idempotent: calling it again with
// the pool already initialized is a no-op.
func (p *WorkerPool) Initialize(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.executors) > 0 {
		return
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.executors = make([]*executor, count)
	for i := 0; i < count; i++ {
		ex := newExecutor(i, p.path, p.cleaner, p.sink, p.taskID, p.batchSize, p.outbox)
		p.executors[i] = ex
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ex.run()
		}()
	}

	p.wg.Add(1)
	go p.dispatch()
}

// dispatch is the pool's single reader of outbox. Every executor, no
// matter how many run concurrently, writes only to this one channel; this
// goroutine is the only consumer, so messages are never split between two
// racing readers. PROGRESS and METRICS always go to the handler; COMPLETE
// and ERROR are routed by WorkerID to the caller currently blocked on that
// worker in ExecuteTask.
func (p *WorkerPool) dispatch() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg := <-p.outbox:
			switch msg.Type {
			case MsgProgress:
				if p.handler.OnProgress != nil && msg.Progress != nil {
					p.handler.OnProgress(*msg.Progress)
				}
			case MsgMetrics:
				if p.handler.OnMetrics != nil && msg.Metrics != nil {
					p.handler.OnMetrics(*msg.Metrics)
				}
			case MsgComplete, MsgError:
				p.mu.Lock()
				waiter := p.waiters[msg.WorkerID]
				p.mu.Unlock()
				if waiter != nil {
					waiter <- msg
				}
			}
		}
	}
}

// ExecuteTask assigns chunk to executor workerID, posts START, and waits
// for COMPLETE or ERROR, subject to the pool's chunk timeout. On timeout
// the executor is terminated and treated as failed. Concurrent calls for
// distinct workerIDs run truly in parallel (§5): each registers its own
// completion channel before starting, so dispatch's routing never crosses
// wires between callers.
func (p *WorkerPool) ExecuteTask(ctx context.Context, workerID int, chunk ChunkDescriptor) (WorkerResult, error) {
	p.mu.Lock()
	if workerID < 0 || workerID >= len(p.executors) {
		p.mu.Unlock()
		return WorkerResult{}, fmt.Errorf("clean: no executor %d", workerID)
	}
	ex := p.executors[workerID]
	if ex.State() != executorIdle {
		p.mu.Unlock()
		return WorkerResult{}, ErrExecutorBusy
	}
	done := make(chan OutboundMessage, 1)
	p.waiters[workerID] = done
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.waiters, workerID)
		p.mu.Unlock()
	}()

	ex.startCh <- startRequest{ctx: ctx, chunk: chunk}

	select {
	case msg := <-done:
		if msg.Type == MsgError {
			return WorkerResult{}, msg.Err
		}
		return *msg.Result, nil
	case <-ctx.Done():
		ex.requestTerminate()
		ex.setState(executorFailed)
		return WorkerResult{}, fmt.Errorf("clean: chunk %d canceled: %w", chunk.ChunkID, ctx.Err())
	case <-time.After(p.chunkTimeout):
		ex.requestTerminate()
		ex.setState(executorFailed)
		return WorkerResult{}, fmt.Errorf("clean: chunk %d timed out after %s", chunk.ChunkID, p.chunkTimeout)
	}
}

// Terminate posts TERMINATE to all executors and waits up to timeout for
// them to exit before returning.
func (p *WorkerPool) Terminate(timeout time.Duration) {
	p.mu.Lock()
	executors := p.executors
	p.mu.Unlock()

	for _, ex := range executors {
		if ex.State() != executorTerminated {
			ex.requestTerminate()
		}
	}

	if p.cancel != nil {
		p.cancel()
	}

	waitDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(timeout):
		logger.Warn().Msg("worker pool terminate timed out; executors force-abandoned")
	}
}

// RestartFailedWorkers replaces every failed executor with a fresh idle
// one and returns the count restarted.
func (p *WorkerPool) RestartFailedWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	restarted := 0
	for i, ex := range p.executors {
		if ex.State() != executorFailed {
			continue
		}
		fresh := newExecutor(i, p.path, p.cleaner, p.sink, p.taskID, p.batchSize, p.outbox)
		p.executors[i] = fresh
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			fresh.run()
		}()
		restarted++
	}
	return restarted
}

// IsHealthy reports whether fewer than half the executors have failed.
func (p *WorkerPool) IsHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	failed := 0
	for _, ex := range p.executors {
		if ex.State() == executorFailed {
			failed++
		}
	}
	return failed*2 < len(p.executors)
}

// Size returns the number of executors the pool was initialized with.
func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.executors)
}
