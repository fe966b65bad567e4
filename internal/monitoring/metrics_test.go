package monitoring_test

import (
	"errors"
	"testing"

	"github.com/paveg/distjoin/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_RecordOperation(t *testing.T) {
	mc := monitoring.NewMetricsCollector(true)

	err := mc.RecordOperation("shuffle", 1, func(m *monitoring.OperationMetrics) error {
		m.RowsProcessed = 10
		m.BytesExchanged = 256
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = mc.RecordOperation("local_join", 1, func(*monitoring.OperationMetrics) error { return boom })
	assert.ErrorIs(t, err, boom)

	metrics := mc.GetMetrics()
	require.Len(t, metrics, 2)
	assert.Equal(t, "shuffle", metrics[0].Operation)
	assert.Equal(t, 1, metrics[0].Rank)
	assert.Equal(t, int64(10), metrics[0].RowsProcessed)
	assert.False(t, metrics[0].Failed)
	assert.True(t, metrics[1].Failed)

	summary := mc.GetSummary()
	assert.Equal(t, 2, summary.TotalOperations)
	assert.Equal(t, int64(10), summary.TotalRows)
	assert.Equal(t, int64(256), summary.TotalBytes)
	assert.Equal(t, 1, summary.Failures)
	assert.Equal(t, []string{"local_join", "shuffle"}, summary.Operations())
}

func TestMetricsCollector_Disabled(t *testing.T) {
	mc := monitoring.NewMetricsCollector(false)
	called := false
	require.NoError(t, mc.RecordOperation("counts", 0, func(*monitoring.OperationMetrics) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.Empty(t, mc.GetMetrics())
	assert.Equal(t, monitoring.MetricsSummary{}, mc.GetSummary())

	mc.SetEnabled(true)
	assert.True(t, mc.IsEnabled())
}

func TestMetricsCollector_NilIsNoop(t *testing.T) {
	var mc *monitoring.MetricsCollector
	called := false
	require.NoError(t, mc.RecordOperation("counts", 0, func(*monitoring.OperationMetrics) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.Nil(t, mc.GetMetrics())
	mc.Clear()
}

func TestMetricsCollector_Clear(t *testing.T) {
	mc := monitoring.NewMetricsCollector(true)
	_ = mc.RecordOperation("a", 0, func(*monitoring.OperationMetrics) error { return nil })
	mc.Clear()
	assert.Empty(t, mc.GetMetrics())
}
