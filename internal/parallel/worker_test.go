package parallel_test

import (
	"context"
	"testing"

	"github.com/paveg/distjoin/internal/parallel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunks(t *testing.T) {
	assert.Nil(t, parallel.Chunks(0, 10))
	assert.Equal(t, []parallel.Range{{Start: 0, End: 4}, {Start: 4, End: 8}, {Start: 8, End: 10}}, parallel.Chunks(10, 4))
	assert.Equal(t, []parallel.Range{{Start: 0, End: 3}}, parallel.Chunks(3, 0))
	assert.Equal(t, 2, parallel.Range{Start: 8, End: 10}.Len())
}

func TestProcessIndexed_PreservesOrder(t *testing.T) {
	pool := parallel.NewWorkerPool(context.Background(), 4)
	defer pool.Close()

	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	results, err := parallel.ProcessIndexed(pool, items, func(idx int, v int) int {
		return idx*1000 + v*2
	})
	require.NoError(t, err)
	require.Len(t, results, 100)
	for i, r := range results {
		assert.Equal(t, i*1000+i*2, r)
	}
}

func TestProcessIndexed_Empty(t *testing.T) {
	pool := parallel.NewWorkerPool(context.Background(), 0)
	defer pool.Close()

	assert.Positive(t, pool.Workers())
	results, err := parallel.ProcessIndexed(pool, []int{}, func(int, int) int { return 0 })
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestProcessIndexed_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool := parallel.NewWorkerPool(ctx, 2)
	defer pool.Close()

	_, err := parallel.ProcessIndexed(pool, []int{1, 2, 3}, func(_ int, v int) int { return v })
	require.ErrorIs(t, err, context.Canceled)
}
