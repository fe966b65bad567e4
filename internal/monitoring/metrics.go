// Package monitoring collects per-phase metrics for join compilation and
// distributed execution.
package monitoring

import (
	"sort"
	"sync"
	"time"
)

// OperationMetrics represents one recorded phase of a join.
type OperationMetrics struct {
	Operation      string        `json:"operation"`
	Rank           int           `json:"rank"`
	Duration       time.Duration `json:"duration"`
	RowsProcessed  int64         `json:"rows_processed"`
	BytesExchanged int64         `json:"bytes_exchanged"`
	Parallel       bool          `json:"parallel"`
	Failed         bool          `json:"failed"`
}

// MetricsCollector collects and stores metrics. A nil collector is valid and
// records nothing.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics []OperationMetrics
	enabled bool
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(enabled bool) *MetricsCollector {
	return &MetricsCollector{
		metrics: make([]OperationMetrics, 0),
		enabled: enabled,
	}
}

// IsEnabled returns whether metrics collection is enabled.
func (mc *MetricsCollector) IsEnabled() bool {
	if mc == nil {
		return false
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.enabled
}

// RecordOperation runs fn and records its duration. fn may fill in the row
// and byte counts of the record it is handed.
func (mc *MetricsCollector) RecordOperation(operation string, rank int, fn func(m *OperationMetrics) error) error {
	m := OperationMetrics{Operation: operation, Rank: rank}
	if !mc.IsEnabled() {
		return fn(&m)
	}

	start := time.Now()
	err := fn(&m)
	m.Duration = time.Since(start)
	m.Failed = err != nil

	mc.mu.Lock()
	mc.metrics = append(mc.metrics, m)
	mc.mu.Unlock()

	return err
}

// GetMetrics returns a copy of all collected metrics.
func (mc *MetricsCollector) GetMetrics() []OperationMetrics {
	if mc == nil {
		return nil
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make([]OperationMetrics, len(mc.metrics))
	copy(result, mc.metrics)
	return result
}

// Clear removes all collected metrics.
func (mc *MetricsCollector) Clear() {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics = mc.metrics[:0]
}

// SetEnabled enables or disables metrics collection.
func (mc *MetricsCollector) SetEnabled(enabled bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.enabled = enabled
}

// GetSummary returns a summary of collected metrics.
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	if mc == nil {
		return MetricsSummary{}
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if len(mc.metrics) == 0 {
		return MetricsSummary{}
	}

	var totalDuration time.Duration
	var totalRows, totalBytes int64
	failures := 0
	operationCounts := make(map[string]int)

	for _, metric := range mc.metrics {
		totalDuration += metric.Duration
		totalRows += metric.RowsProcessed
		totalBytes += metric.BytesExchanged
		operationCounts[metric.Operation]++
		if metric.Failed {
			failures++
		}
	}

	return MetricsSummary{
		TotalOperations: len(mc.metrics),
		TotalDuration:   totalDuration,
		TotalRows:       totalRows,
		TotalBytes:      totalBytes,
		Failures:        failures,
		OperationCounts: operationCounts,
		AverageDuration: totalDuration / time.Duration(len(mc.metrics)),
	}
}

// MetricsSummary provides aggregate statistics for collected metrics.
type MetricsSummary struct {
	TotalOperations int            `json:"total_operations"`
	TotalDuration   time.Duration  `json:"total_duration"`
	TotalRows       int64          `json:"total_rows"`
	TotalBytes      int64          `json:"total_bytes"`
	Failures        int            `json:"failures"`
	OperationCounts map[string]int `json:"operation_counts"`
	AverageDuration time.Duration  `json:"average_duration"`
}

// Operations returns the recorded operation names, sorted.
func (s MetricsSummary) Operations() []string {
	out := make([]string, 0, len(s.OperationCounts))
	for op := range s.OperationCounts {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}
