package shuffle_test

import (
	"context"
	"math"
	"strconv"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/distjoin/internal/comm"
	"github.com/paveg/distjoin/internal/dataframe"
	"github.com/paveg/distjoin/internal/series"
	"github.com/paveg/distjoin/internal/shuffle"
	"github.com/paveg/distjoin/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwner_DeterministicAndInRange(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 7} {
		for k := int64(-50); k < 50; k++ {
			o := shuffle.Owner(k, workers, 0)
			assert.GreaterOrEqual(t, o, 0)
			assert.Less(t, o, workers)
			assert.Equal(t, o, shuffle.Owner(k, workers, 0))
		}
	}
}

func TestOwner_CanonicalAcrossWidths(t *testing.T) {
	for k := 0; k < 100; k++ {
		want := shuffle.Owner(int64(k), 5, 9)
		assert.Equal(t, want, shuffle.Owner(int32(k), 5, 9))
		assert.Equal(t, want, shuffle.Owner(int8(k), 5, 9))
		assert.Equal(t, want, shuffle.Owner(uint16(k), 5, 9))
	}
	assert.Equal(t, shuffle.Owner(0.0, 4, 1), shuffle.Owner(math.Copysign(0, -1), 4, 1))
	assert.Equal(t, shuffle.Owner(math.NaN(), 4, 1), shuffle.Owner(-math.NaN(), 4, 1))
}

func TestOwner_SeedChangesPlacement(t *testing.T) {
	differs := false
	for k := 0; k < 64 && !differs; k++ {
		differs = shuffle.Owner(k, 16, 1) != shuffle.Owner(k, 16, 2)
	}
	assert.True(t, differs)
}

func TestOwners(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	b := array.NewStringBuilder(mem.Allocator)
	defer b.Release()
	b.AppendValues([]string{"a", "b", ""}, []bool{true, true, false})
	arr := b.NewArray()
	defer arr.Release()

	owners, err := shuffle.Owners(arr, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(shuffle.Owner("a", 3, 0)), owners[0])
	assert.Equal(t, int32(shuffle.Owner("b", 3, 0)), owners[1])
	assert.Equal(t, int32(shuffle.NoOwner), owners[2])

	bools := series.New("flag", []bool{true}, mem.Allocator)
	defer bools.Release()
	ba := bools.Array()
	defer ba.Release()
	_, err = shuffle.Owners(ba, 3, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")

	_, err = shuffle.Owners(arr, 0, 0)
	require.Error(t, err)
}

func TestRouting(t *testing.T) {
	r := shuffle.NewRouting([]int32{2, 0, shuffle.NoOwner, 2, 1, 0}, 3)

	assert.Equal(t, []int64{2, 1, 2}, r.Counts())
	assert.Equal(t, []int{1, 5, 4, 0, 3}, r.Order())
	assert.Equal(t, 1, r.Dropped())
	assert.Equal(t, 3, r.Workers())
	assert.True(t, r.Rows(2).Contains(3))
	assert.Equal(t, "Routing(counts=[2 1 2] dropped=1)", r.String())
}

func TestBlockBounds(t *testing.T) {
	var got [][2]int64
	for r := 0; r < 3; r++ {
		lo, hi := shuffle.BlockBounds(7, 3, r)
		got = append(got, [2]int64{lo, hi})
	}
	assert.Equal(t, [][2]int64{{0, 3}, {3, 5}, {5, 7}}, got)

	lo, hi := shuffle.BlockBounds(0, 2, 1)
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(0), hi)
}

func TestShuffle(t *testing.T) {
	for _, codec := range []string{"none", "lz4"} {
		t.Run(codec, func(t *testing.T) {
			mem := testutil.SetupMemoryTest(t)
			defer mem.Release()

			const workers = 3
			df := testutil.CreateTestTable(mem.Allocator, testutil.WithRowCount(20), testutil.WithKeyRange(7),
				testutil.WithNullKeys(6))
			defer df.Release()
			parts := testutil.SplitTable(t, df, testutil.UnevenSizes(df.Len(), workers))
			defer testutil.ReleaseAll(parts)

			opts := shuffle.Options{
				Seed:     3,
				Buffers:  comm.BufferOptions{Allocator: mem.Allocator},
				Exchange: comm.ExchangeOptions{Allocator: mem.Allocator, Compression: codec},
			}
			out := make([]*dataframe.DataFrame, workers)
			stats := make([]shuffle.Stats, workers)
			g := comm.NewLocalGroup(workers)
			errs := testutil.RunRanks(g, func(c comm.Communicator) error {
				res, st, err := shuffle.Shuffle(context.Background(), c, parts[c.Rank()], "id", opts)
				out[c.Rank()], stats[c.Rank()] = res, st
				return err
			})
			testutil.RequireNoRankErrors(t, errs)
			defer testutil.ReleaseAll(out)

			var total shuffle.Stats
			for rank, part := range out {
				total.Add(stats[rank])
				testutil.AssertDataFrameHasColumns(t, part, []string{"id", "x", "name"})
				for _, id := range testutil.Rows(t, part, "id") {
					k, err := strconv.ParseInt(id, 10, 64)
					require.NoError(t, err)
					assert.Equal(t, rank, shuffle.Owner(k, workers, 3), "key %s on rank %d", id, rank)
				}
			}

			// Three null keys (rows 5, 11, 17) are dropped; everything else arrives once.
			assert.Equal(t, int64(3), total.DroppedRows)
			assert.Equal(t, total.SentRows, total.RecvRows)
			assert.Equal(t, int64(17), total.RecvRows)
			assert.Positive(t, total.BytesExchanged)

			want := []string{}
			for _, r := range testutil.Rows(t, df, "id", "x", "name") {
				if r[:6] != "(null)" {
					want = append(want, r)
				}
			}
			assert.Equal(t, want, testutil.GatheredRows(t, out, "id", "x", "name"))
		})
	}
}

func TestShuffle_MissingKey(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	df := testutil.CreateTestTable(mem.Allocator)
	defer df.Release()

	c := comm.NewLocalGroup(1).Comm(0)
	_, _, err := shuffle.Shuffle(context.Background(), c, df, "nope", shuffle.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column does not exist")
}

func TestRebalance(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	const workers = 3
	df := testutil.CreateTestTable(mem.Allocator, testutil.WithRowCount(7))
	defer df.Release()
	parts := testutil.SplitTable(t, df, []int{5, 0, 2})
	defer testutil.ReleaseAll(parts)

	opts := shuffle.Options{
		Buffers:  comm.BufferOptions{Allocator: mem.Allocator},
		Exchange: comm.ExchangeOptions{Allocator: mem.Allocator},
	}
	out := make([]*dataframe.DataFrame, workers)
	g := comm.NewLocalGroup(workers)
	errs := testutil.RunRanks(g, func(c comm.Communicator) error {
		res, _, err := shuffle.Rebalance(context.Background(), c, parts[c.Rank()], opts)
		out[c.Rank()] = res
		return err
	})
	testutil.RequireNoRankErrors(t, errs)
	defer testutil.ReleaseAll(out)

	assert.Equal(t, 3, out[0].Len())
	assert.Equal(t, 2, out[1].Len())
	assert.Equal(t, 2, out[2].Len())

	// Global row order is preserved: x is i+0.5 for row i.
	var xs []float64
	for _, part := range out {
		col, _ := part.Column("x")
		arr := col.Array()
		xs = append(xs, arr.(*array.Float64).Float64Values()...)
		arr.Release()
	}
	assert.Equal(t, []float64{0.5, 1.5, 2.5, 3.5, 4.5, 5.5, 6.5}, xs)
}

func TestShuffle_SharedAllocatorIsLeakFree(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	df := testutil.CreateTestTable(mem)
	defer df.Release()

	c := comm.NewLocalGroup(1).Comm(0)
	tracker := &comm.Tracker{}
	out, st, err := shuffle.Shuffle(context.Background(), c, df, "id", shuffle.Options{
		Buffers:  comm.BufferOptions{Allocator: mem, Tracker: tracker},
		Exchange: comm.ExchangeOptions{Allocator: mem, Compression: "zstd"},
	})
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, df.Len(), out.Len())
	assert.Equal(t, int64(df.Len()), st.RecvRows)
	assert.Equal(t, int64(0), tracker.Outstanding())
}
