// Package metrics exposes the Prometheus series scraped from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanpipe_tasks_enqueued_total",
			Help: "Total number of cleaning tasks enqueued",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanpipe_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal state",
		},
		[]string{"status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanpipe_task_duration_seconds",
			Help:    "Task processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15), // 100ms to ~27min
		},
		[]string{"status"},
	)

	TaskRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanpipe_task_retries_total",
			Help: "Total number of task retries scheduled",
		},
	)

	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanpipe_queue_depth",
			Help: "Current number of tasks in the processing queue",
		},
	)

	QueueLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cleanpipe_queue_latency_seconds",
			Help:    "Time a task spent in queue before a consumer picked it up",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
	)

	// Consumer metrics
	ActiveConsumers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanpipe_active_consumers",
			Help: "Current number of registered consumers",
		},
	)

	// Chunk metrics (§4.13 parallel processing subsystem)
	ChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cleanpipe_chunk_duration_seconds",
			Help:    "Per-chunk processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
	)

	ChunkRowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanpipe_chunk_rows_processed_total",
			Help: "Total number of rows processed by chunk executors",
		},
		[]string{"outcome"},
	)

	ChunkFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanpipe_chunk_failures_total",
			Help: "Total number of chunks that failed outright",
		},
	)

	// Worker pool metrics
	WorkerPoolActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanpipe_worker_pool_active_workers",
			Help: "Current number of executor goroutines in the active worker pool",
		},
	)

	// Resource monitor metrics
	ResourceRSSBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanpipe_resource_rss_bytes",
			Help: "Last sampled resident set size of the consumer process",
		},
	)

	ResourceCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanpipe_resource_cpu_percent",
			Help: "Last sampled CPU usage percent of the consumer process",
		},
	)

	ResourcePauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanpipe_resource_pauses_total",
			Help: "Total number of times worker creation paused for memory pressure",
		},
	)

	// DLQ metrics
	DLQSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanpipe_dlq_size",
			Help: "Current number of tasks in the dead letter queue",
		},
	)

	DLQAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanpipe_dlq_added_total",
			Help: "Total number of tasks moved to the dead letter queue",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanpipe_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanpipe_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Redis metrics
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanpipe_redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"operation"},
	)

	RedisErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanpipe_redis_errors_total",
			Help: "Total number of Redis errors",
		},
		[]string{"operation"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanpipe_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanpipe_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordTaskEnqueued records a task entering the queue.
func RecordTaskEnqueued() {
	TasksEnqueued.Inc()
}

// RecordTaskCompletion records a task reaching a terminal state.
func RecordTaskCompletion(status string, duration float64) {
	TasksCompleted.WithLabelValues(status).Inc()
	TaskDuration.WithLabelValues(status).Observe(duration)
}

// RecordTaskRetry records a task being scheduled for retry.
func RecordTaskRetry() {
	TaskRetries.Inc()
}

// UpdateQueueDepth updates the queue depth gauge.
func UpdateQueueDepth(depth float64) {
	QueueDepth.Set(depth)
}

// RecordQueueLatency records the time a task spent in queue.
func RecordQueueLatency(latency float64) {
	QueueLatency.Observe(latency)
}

// SetActiveConsumers sets the active consumers gauge.
func SetActiveConsumers(count float64) {
	ActiveConsumers.Set(count)
}

// RecordChunkCompletion records one chunk's outcome.
func RecordChunkCompletion(duration float64, successRows, errorRows int) {
	ChunkDuration.Observe(duration)
	ChunkRowsProcessed.WithLabelValues("success").Add(float64(successRows))
	ChunkRowsProcessed.WithLabelValues("error").Add(float64(errorRows))
}

// RecordChunkFailure records a chunk that failed outright.
func RecordChunkFailure() {
	ChunkFailures.Inc()
}

// SetWorkerPoolActiveWorkers sets the active-executor gauge.
func SetWorkerPoolActiveWorkers(count float64) {
	WorkerPoolActiveWorkers.Set(count)
}

// RecordResourceSample records the latest RSS/CPU sample.
func RecordResourceSample(rssBytes, cpuPercent float64) {
	ResourceRSSBytes.Set(rssBytes)
	ResourceCPUPercent.Set(cpuPercent)
}

// RecordResourcePause records worker creation pausing for memory pressure.
func RecordResourcePause() {
	ResourcePauses.Inc()
}

// SetDLQSize sets the DLQ size gauge.
func SetDLQSize(size float64) {
	DLQSize.Set(size)
}

// IncrementDLQAdded increments the DLQ added counter.
func IncrementDLQAdded() {
	DLQAdded.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRedisOperation records a Redis operation's duration.
func RecordRedisOperation(operation string, duration float64) {
	RedisOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRedisError records a Redis error.
func RecordRedisError(operation string) {
	RedisErrors.WithLabelValues(operation).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a WebSocket message sent to clients.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
