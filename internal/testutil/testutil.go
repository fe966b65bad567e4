// Package testutil provides common testing utilities for the join engine:
// leak-checked allocators, deterministic keyed tables, partition layouts,
// a reference join to compare distributed results against, and helpers to
// drive every rank of an in-process worker group.
package testutil

import (
	"fmt"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/distjoin/internal/dataframe"
	"github.com/paveg/distjoin/internal/series"
	"github.com/paveg/distjoin/internal/shuffle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// defaultRowCount is the default number of rows in test tables.
	defaultRowCount = 8
	// defaultKeyRange is the default number of distinct keys.
	defaultKeyRange = 5
)

// TestMemoryContext provides a leak-checking allocator.
type TestMemoryContext struct {
	Allocator *memory.CheckedAllocator
	tb        testing.TB
}

// Release asserts that every byte drawn from the allocator was returned.
func (tmc *TestMemoryContext) Release() {
	tmc.Allocator.AssertSize(tmc.tb, 0)
}

// SetupMemoryTest creates a checked allocator for a test.
//
// Example usage:
//
//	mem := testutil.SetupMemoryTest(t)
//	defer mem.Release()
func SetupMemoryTest(tb testing.TB) *TestMemoryContext {
	tb.Helper()
	return &TestMemoryContext{
		Allocator: memory.NewCheckedAllocator(memory.NewGoAllocator()),
		tb:        tb,
	}
}

// TestTableOption configures test table creation.
type TestTableOption func(*testTableConfig)

type testTableConfig struct {
	rowCount    int
	keyRange    int
	keyOffset   int64
	nullEvery   int
	payloadName string
}

// WithRowCount sets the number of rows.
func WithRowCount(count int) TestTableOption {
	return func(cfg *testTableConfig) { cfg.rowCount = count }
}

// WithKeyRange sets how many distinct keys the rows cycle through.
func WithKeyRange(keys int) TestTableOption {
	return func(cfg *testTableConfig) { cfg.keyRange = keys }
}

// WithKeyOffset shifts every key by offset.
func WithKeyOffset(offset int64) TestTableOption {
	return func(cfg *testTableConfig) { cfg.keyOffset = offset }
}

// WithNullKeys makes every n-th key null.
func WithNullKeys(every int) TestTableOption {
	return func(cfg *testTableConfig) { cfg.nullEvery = every }
}

// WithPayloadName names the string column.
func WithPayloadName(name string) TestTableOption {
	return func(cfg *testTableConfig) { cfg.payloadName = name }
}

// CreateTestTable creates a deterministic keyed table:
//   - id (int64): keyOffset + (i*3 mod keyRange), null every n-th row with WithNullKeys
//   - x (float64): i + 0.5
//   - name (string): "row<i>", renamed with WithPayloadName
func CreateTestTable(allocator memory.Allocator, opts ...TestTableOption) *dataframe.DataFrame {
	cfg := &testTableConfig{
		rowCount:    defaultRowCount,
		keyRange:    defaultKeyRange,
		payloadName: "name",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ids := array.NewInt64Builder(allocator)
	defer ids.Release()
	xs := make([]float64, cfg.rowCount)
	names := make([]string, cfg.rowCount)
	for i := range cfg.rowCount {
		if cfg.nullEvery > 0 && (i+1)%cfg.nullEvery == 0 {
			ids.AppendNull()
		} else {
			ids.Append(cfg.keyOffset + int64(i*3%cfg.keyRange))
		}
		xs[i] = float64(i) + 0.5
		names[i] = fmt.Sprintf("row%d", i)
	}

	return dataframe.New(
		series.FromArray("id", ids.NewArray()),
		series.New("x", xs, allocator),
		series.New(cfg.payloadName, names, allocator),
	)
}

// EvenSizes returns the part sizes of an even contiguous split of rows.
func EvenSizes(rows, workers int) []int {
	sizes := make([]int, workers)
	for r := range sizes {
		lo, hi := shuffle.BlockBounds(int64(rows), workers, r)
		sizes[r] = int(hi - lo)
	}
	return sizes
}

// UnevenSizes returns a lopsided split of rows: rank 0 holds about half,
// rank 1 holds nothing when there are more than two ranks, and the last rank
// takes the remainder.
func UnevenSizes(rows, workers int) []int {
	sizes := make([]int, workers)
	rest := rows
	for r := 0; r < workers-1; r++ {
		n := 0
		switch {
		case r == 0:
			n = (rows + 1) / 2
		case r == 1 && workers > 2:
			n = 0
		default:
			n = rest / 3
		}
		n = min(n, rest)
		sizes[r] = n
		rest -= n
	}
	sizes[workers-1] = rest
	return sizes
}

// SplitTable cuts df into per-rank parts of the given sizes.
func SplitTable(tb testing.TB, df *dataframe.DataFrame, sizes []int) []*dataframe.DataFrame {
	tb.Helper()
	parts, err := df.Split(sizes)
	require.NoError(tb, err)
	return parts
}

// ReplicateTable gives every rank its own reference to all of df.
func ReplicateTable(df *dataframe.DataFrame, workers int) []*dataframe.DataFrame {
	parts := make([]*dataframe.DataFrame, workers)
	for r := range parts {
		parts[r] = df.Select(df.Columns()...)
	}
	return parts
}

// ReleaseAll releases every frame, skipping nils.
func ReleaseAll(frames []*dataframe.DataFrame) {
	for _, f := range frames {
		if f != nil {
			f.Release()
		}
	}
}

// AssertDataFrameHasColumns verifies that a DataFrame has exactly the
// expected columns in order.
func AssertDataFrameHasColumns(t *testing.T, df *dataframe.DataFrame, expectedColumns []string) {
	t.Helper()

	require.NotNil(t, df, "DataFrame should not be nil")
	assert.Equal(t, expectedColumns, df.Columns(), "columns should match")
}

// AssertDataFrameNotEmpty verifies that a DataFrame is not empty.
func AssertDataFrameNotEmpty(t *testing.T, df *dataframe.DataFrame) {
	t.Helper()

	require.NotNil(t, df, "DataFrame should not be nil")
	assert.Positive(t, df.Len(), "DataFrame should not be empty")
	assert.Positive(t, df.Width(), "DataFrame should have columns")
}
