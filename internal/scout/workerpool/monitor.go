package workerpool

import (
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// MemoryLevel is the process memory pressure classification, the maximum
// of the RSS- and heap-based readings against the configured watermarks.
type MemoryLevel int32

const (
	MemoryOK MemoryLevel = iota
	MemoryWarning
	MemoryHigh
	MemoryCritical
)

func (l MemoryLevel) String() string {
	switch l {
	case MemoryOK:
		return "ok"
	case MemoryWarning:
		return "warning"
	case MemoryHigh:
		return "high"
	case MemoryCritical:
		return "critical"
	default:
		return "unknown"
	}
}

const monitorInterval = 5 * time.Second

// memoryMonitor samples process RSS and Go heap on an interval and keeps
// the current pressure level readable without locking.
type memoryMonitor struct {
	warningBytes  uint64
	highBytes     uint64
	criticalBytes uint64

	proc   *process.Process
	logger *zap.Logger

	level    atomic.Int32
	lastRSS  atomic.Uint64
	lastHeap atomic.Uint64

	interval time.Duration
	readMem  func() (heap, rss uint64) // test seam; nil reads the process
	onSample func(MemoryLevel)

	stop chan struct{}
	done chan struct{}
}

func newMemoryMonitor(warningMB, highMB, criticalMB int, logger *zap.Logger) *memoryMonitor {
	m := &memoryMonitor{
		warningBytes:  uint64(warningMB) << 20,
		highBytes:     uint64(highMB) << 20,
		criticalBytes: uint64(criticalMB) << 20,
		logger:        logger,
		interval:      monitorInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		// RSS sampling degrades to heap-only
		logger.Warn("Failed to open process handle for memory sampling", zap.Error(err))
	} else {
		m.proc = proc
	}
	return m
}

func (m *memoryMonitor) start() {
	go m.run()
}

func (m *memoryMonitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *memoryMonitor) shutdown() {
	close(m.stop)
	<-m.done
}

func (m *memoryMonitor) sample() {
	var heap, rss uint64
	if m.readMem != nil {
		heap, rss = m.readMem()
	} else {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		heap = memStats.HeapAlloc
		if m.proc != nil {
			if info, err := m.proc.MemoryInfo(); err == nil {
				rss = info.RSS
			}
		}
	}
	m.lastHeap.Store(heap)
	m.lastRSS.Store(rss)

	observed := heap
	if rss > observed {
		observed = rss
	}

	level := MemoryOK
	switch {
	case observed >= m.criticalBytes:
		level = MemoryCritical
	case observed >= m.highBytes:
		level = MemoryHigh
	case observed >= m.warningBytes:
		level = MemoryWarning
	}

	previous := MemoryLevel(m.level.Swap(int32(level)))
	if level != previous {
		logFn := m.logger.Info
		if level >= MemoryHigh {
			logFn = m.logger.Warn
		}
		logFn("Worker memory level changed",
			zap.String("from", previous.String()),
			zap.String("to", level.String()),
			zap.Uint64("rss_bytes", rss),
			zap.Uint64("heap_bytes", heap))
	}

	if m.onSample != nil {
		m.onSample(level)
	}
}

// Level returns the pressure level from the last sample.
func (m *memoryMonitor) Level() MemoryLevel {
	return MemoryLevel(m.level.Load())
}

// HeapBytes returns the Go heap size from the last sample.
func (m *memoryMonitor) HeapBytes() uint64 {
	return m.lastHeap.Load()
}

// RSSBytes returns the process RSS from the last sample.
func (m *memoryMonitor) RSSBytes() uint64 {
	return m.lastRSS.Load()
}
