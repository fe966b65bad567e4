package parallel

import (
	"runtime"
	"sync/atomic"

	"github.com/paveg/distjoin/internal/config"
)

const (
	// HighPressureRatio is the usage ratio above which parallelism is halved
	HighPressureRatio = 0.8
	// VeryHighPressureRatio is the usage ratio above which parallelism is quartered
	VeryHighPressureRatio = 0.9
)

// MemoryMonitor tracks bytes held by exchange buffers against a budget and
// recommends how much probe parallelism the remaining budget allows.
// A non-positive threshold means unlimited.
type MemoryMonitor struct {
	threshold    int64
	currentUsage int64
	peakUsage    int64
	maxParallel  int
}

// NewMemoryMonitor creates a new memory monitor with the specified threshold and max parallelism
func NewMemoryMonitor(threshold int64, maxParallel int) *MemoryMonitor {
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}

	return &MemoryMonitor{
		threshold:   threshold,
		maxParallel: maxParallel,
	}
}

// NewMemoryMonitorFromConfig creates a new memory monitor using configuration values
func NewMemoryMonitorFromConfig(cfg config.Config) *MemoryMonitor {
	return NewMemoryMonitor(cfg.MemoryThreshold, cfg.EffectiveWorkers())
}

// CanAllocate checks if the requested memory size can be allocated without exceeding threshold
func (m *MemoryMonitor) CanAllocate(size int64) bool {
	if m.threshold <= 0 {
		return true
	}
	return atomic.LoadInt64(&m.currentUsage)+size <= m.threshold
}

// RecordAllocation records a memory allocation
func (m *MemoryMonitor) RecordAllocation(size int64) {
	cur := atomic.AddInt64(&m.currentUsage, size)
	for {
		peak := atomic.LoadInt64(&m.peakUsage)
		if cur <= peak || atomic.CompareAndSwapInt64(&m.peakUsage, peak, cur) {
			return
		}
	}
}

// RecordDeallocation records a memory deallocation
func (m *MemoryMonitor) RecordDeallocation(size int64) {
	atomic.AddInt64(&m.currentUsage, -size)
}

// AdjustParallelism returns the recommended parallelism level based on current memory pressure
func (m *MemoryMonitor) AdjustParallelism() int {
	if m.threshold <= 0 {
		return m.maxParallel
	}

	ratio := float64(atomic.LoadInt64(&m.currentUsage)) / float64(m.threshold)
	switch {
	case ratio > VeryHighPressureRatio:
		return maxInt(1, m.maxParallel/4)
	case ratio > HighPressureRatio:
		return maxInt(1, m.maxParallel/2)
	default:
		return m.maxParallel
	}
}

// CurrentUsage returns the current memory usage
func (m *MemoryMonitor) CurrentUsage() int64 {
	return atomic.LoadInt64(&m.currentUsage)
}

// PeakUsage returns the highest usage recorded
func (m *MemoryMonitor) PeakUsage() int64 {
	return atomic.LoadInt64(&m.peakUsage)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
