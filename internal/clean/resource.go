package clean

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/cleanpipe/core/internal/logger"
	"github.com/cleanpipe/core/internal/metrics"
)

// ResourceLimits bounds a ParallelProcessingManager run (§4.12).
type ResourceLimits struct {
	MaxMemoryMB               float64
	MaxCPUUsage               float64
	MemoryWarningThresholdMB  float64
	ConsecutiveExceeded       int
	SampleInterval            time.Duration
}

// DefaultResourceLimits matches the §6 configuration defaults.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryMB:              1800,
		MaxCPUUsage:              95,
		MemoryWarningThresholdMB: 1500,
		ConsecutiveExceeded:      3,
		SampleInterval:           1 * time.Second,
	}
}

// ResourceMonitor samples the process's own RSS and CPU usage and decides
// whether worker creation should pause (§4.12, invariant P7).
type ResourceMonitor struct {
	limits ResourceLimits
	proc   *process.Process

	mu               sync.Mutex
	exceededStreak   int
	paused           bool
	lastWarning      time.Time
	stopCh           chan struct{}
	wg               sync.WaitGroup
}

// NewResourceMonitor creates a ResourceMonitor bound to the current OS
// process.
func NewResourceMonitor(limits ResourceLimits) (*ResourceMonitor, error) {
	if limits.SampleInterval <= 0 {
		limits = DefaultResourceLimits()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ResourceMonitor{limits: limits, proc: proc}, nil
}

// Start begins periodic sampling until Stop is called or ctx is canceled.
func (m *ResourceMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts sampling.
func (m *ResourceMonitor) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	m.stopCh = nil
	m.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
	m.wg.Wait()
}

func (m *ResourceMonitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.limits.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *ResourceMonitor) sample() {
	log := logger.WithComponent("clean.resource")

	rssMB, cpuPct := m.readUsage()
	metrics.RecordResourceSample(rssMB*1024*1024, cpuPct)

	m.mu.Lock()
	defer m.mu.Unlock()

	if rssMB > m.limits.MaxMemoryMB {
		m.exceededStreak++
		if m.exceededStreak >= m.limits.ConsecutiveExceeded {
			if !m.paused {
				log.Warn().Float64("rss_mb", rssMB).Msg("memory ceiling exceeded; pausing worker creation")
				metrics.RecordResourcePause()
			}
			m.paused = true
		}
	} else {
		m.exceededStreak = 0
		m.paused = false
	}

	if rssMB > m.limits.MemoryWarningThresholdMB && time.Since(m.lastWarning) > 5*time.Second {
		m.lastWarning = time.Now()
		log.Warn().Float64("rss_mb", rssMB).Float64("threshold_mb", m.limits.MemoryWarningThresholdMB).Msg("memory warning threshold crossed")
	}
	if cpuPct > m.limits.MaxCPUUsage && time.Since(m.lastWarning) > 5*time.Second {
		m.lastWarning = time.Now()
		log.Warn().Float64("cpu_pct", cpuPct).Msg("cpu usage above limit")
	}
}

func (m *ResourceMonitor) readUsage() (rssMB, cpuPct float64) {
	if info, err := m.proc.MemoryInfo(); err == nil && info != nil {
		rssMB = float64(info.RSS) / (1024 * 1024)
	}
	if pct, err := m.proc.CPUPercent(); err == nil {
		cpuPct = pct
	}
	return rssMB, cpuPct
}

// ShouldPauseWorkerCreation reports P7: whether RSS has exceeded the
// limit for the configured consecutive-sample streak.
func (m *ResourceMonitor) ShouldPauseWorkerCreation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// WaitForMemoryRelease polls every second until RSS drops back under the
// limit or timeout elapses, returning false on timeout.
func (m *ResourceMonitor) WaitForMemoryRelease(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		if !m.ShouldPauseWorkerCreation() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// systemAvailableMB reports the system memory currently available, in MB.
// Nothing in the package calls it; the sampling path does not use it.
func systemAvailableMB() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return float64(v.Available) / (1024 * 1024), nil
}

// WorkerReport is one worker's latest self-reported sample, retained by
// PerformanceMonitor for the final report's per-worker breakdown.
type WorkerReport struct {
	WorkerID      int
	CPUPercent    float64
	RSSMB         float64
	ProcessedRows int
	Throughput    float64
	Status        string
	SampleCount   int
}

// PerformanceReport is PerformanceMonitor's stop-time summary (§4.11).
type PerformanceReport struct {
	TaskID        string
	AvgCPUPercent float64
	PeakCPUPercent float64
	AvgRSSMB      float64
	PeakRSSMB     float64
	AvgThroughput float64
	PeakThroughput float64
	PerWorker     map[int]WorkerReport
	Samples       int
}

// PerformanceMonitor aggregates worker self-reported METRICS messages
// into peak/average statistics (§4.11). It is fed exclusively through
// RecordMetrics, called from the WorkerPool's MessageHandler.OnMetrics.
type PerformanceMonitor struct {
	mu        sync.Mutex
	taskID    string
	startedAt time.Time

	sumCPU, peakCPU             float64
	sumRSS, peakRSS             float64
	sumThroughput, peakThroughput float64
	samples                     int

	perWorker map[int]WorkerReport
}

// NewPerformanceMonitor creates a PerformanceMonitor.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{perWorker: make(map[int]WorkerReport)}
}

// Start begins a new aggregation window for taskID.
func (p *PerformanceMonitor) Start(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.taskID = taskID
	p.startedAt = time.Now()
	p.sumCPU, p.peakCPU = 0, 0
	p.sumRSS, p.peakRSS = 0, 0
	p.sumThroughput, p.peakThroughput = 0, 0
	p.samples = 0
	p.perWorker = make(map[int]WorkerReport)
}

// RecordMetrics folds a worker's self-reported MetricsPayload into the
// running aggregates.
func (p *PerformanceMonitor) RecordMetrics(m MetricsPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.samples++
	p.sumCPU += m.CPUPercent
	p.sumRSS += m.RSSMB
	p.sumThroughput += m.Throughput
	if m.CPUPercent > p.peakCPU {
		p.peakCPU = m.CPUPercent
	}
	if m.RSSMB > p.peakRSS {
		p.peakRSS = m.RSSMB
	}
	if m.Throughput > p.peakThroughput {
		p.peakThroughput = m.Throughput
	}

	wr := p.perWorker[m.WorkerID]
	wr.WorkerID = m.WorkerID
	wr.CPUPercent = m.CPUPercent
	wr.RSSMB = m.RSSMB
	wr.ProcessedRows = m.ProcessedRows
	wr.Throughput = m.Throughput
	wr.Status = m.Status
	wr.SampleCount++
	p.perWorker[m.WorkerID] = wr
}

// Stop finalizes aggregation and returns the PerformanceReport.
func (p *PerformanceMonitor) Stop() *PerformanceReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	report := &PerformanceReport{
		TaskID:         p.taskID,
		PeakCPUPercent: p.peakCPU,
		PeakRSSMB:      p.peakRSS,
		PeakThroughput: p.peakThroughput,
		PerWorker:      p.perWorker,
		Samples:        p.samples,
	}
	if p.samples > 0 {
		report.AvgCPUPercent = p.sumCPU / float64(p.samples)
		report.AvgRSSMB = p.sumRSS / float64(p.samples)
		report.AvgThroughput = p.sumThroughput / float64(p.samples)
	}
	return report
}
