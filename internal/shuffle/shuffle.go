package shuffle

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/comm"
	"github.com/paveg/distjoin/internal/dataframe"
	joinerrors "github.com/paveg/distjoin/internal/errors"
	"github.com/paveg/distjoin/internal/series"
)

// Options configures Shuffle and Rebalance.
type Options struct {
	// Seed seeds the ownership hash. Every rank must use the same seed.
	Seed     uint64
	Buffers  comm.BufferOptions
	Exchange comm.ExchangeOptions
}

// Stats describes the rows one rank moved.
type Stats struct {
	SentRows       int64
	RecvRows       int64
	DroppedRows    int64
	BytesExchanged int64
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.SentRows += other.SentRows
	s.RecvRows += other.RecvRows
	s.DroppedRows += other.DroppedRows
	s.BytesExchanged += other.BytesExchanged
}

// Shuffle moves every row of df to the rank owning its key. The result
// holds the rows this rank owns, grouped by source rank. Rows with a null
// key are dropped. Every rank of the group must call Shuffle, including
// ranks holding no rows.
func Shuffle(ctx context.Context, c comm.Communicator, df *dataframe.DataFrame, key string, opts Options) (*dataframe.DataFrame, Stats, error) {
	keyCol, ok := df.Column(key)
	if !ok {
		return nil, Stats{}, joinerrors.NewColumnNotFoundError("shuffle", key)
	}
	keyArr := keyCol.Array()
	owners, err := Owners(keyArr, c.Size(), opts.Seed)
	keyArr.Release()
	if err != nil {
		return nil, Stats{}, err
	}

	routing := NewRouting(owners, c.Size())
	order := routing.Order()
	stats := Stats{DroppedRows: int64(routing.Dropped())}

	var out *dataframe.DataFrame
	err = comm.WithSendRecvCounts(ctx, c, routing.Counts(), opts.Buffers, func(h *comm.BufferHandle) error {
		var err error
		out, err = exchangeColumns(ctx, c, h, df, order, opts)
		stats.SentRows = h.SendSize()
		stats.RecvRows = h.RecvSize()
		stats.BytesExchanged = h.BytesExchanged()
		return err
	})
	if err != nil {
		return nil, stats, errors.Wrapf(err, "shuffling on %q", key)
	}
	return out, stats, nil
}

// exchangeColumns packs every column of df by order and exchanges it under
// h. A nil order sends the columns as they are.
func exchangeColumns(
	ctx context.Context,
	c comm.Communicator,
	h *comm.BufferHandle,
	df *dataframe.DataFrame,
	order []int,
	opts Options,
) (*dataframe.DataFrame, error) {
	names := df.Columns()
	received := make([]arrow.Array, 0, len(names))
	release := func() {
		for _, a := range received {
			a.Release()
		}
	}

	for _, name := range names {
		col, _ := df.Column(name)
		arr := col.Array()
		if order != nil {
			packed, err := series.Take(ctx, arr, order, opts.Exchange.Allocator)
			arr.Release()
			if err != nil {
				release()
				return nil, errors.Wrapf(err, "packing column %q", name)
			}
			arr = packed
		}
		recv, err := comm.AllToAllv(ctx, c, h, arr, opts.Exchange)
		arr.Release()
		if err != nil {
			release()
			return nil, errors.Wrapf(err, "exchanging column %q", name)
		}
		received = append(received, recv)
	}
	return dataframe.FromArrays(names, received), nil
}

// Rebalance redistributes rows so every rank holds a contiguous block of
// the global row sequence, with block sizes differing by at most one. The
// global order of rows (rank 0's rows first) is preserved.
func Rebalance(ctx context.Context, c comm.Communicator, df *dataframe.DataFrame, opts Options) (*dataframe.DataFrame, Stats, error) {
	n := int64(df.Len())
	announce := make([]int64, c.Size())
	for d := range announce {
		announce[d] = n
	}
	lens, err := comm.ExchangeCounts(ctx, c, announce)
	if err != nil {
		return nil, Stats{}, errors.Wrap(err, "rebalancing")
	}

	var total, offset int64
	for r, l := range lens {
		if r < c.Rank() {
			offset += l
		}
		total += l
	}

	sendCounts := make([]int64, c.Size())
	for d := range sendCounts {
		lo, hi := BlockBounds(total, c.Size(), d)
		lo, hi = max(lo, offset), min(hi, offset+n)
		if hi > lo {
			sendCounts[d] = hi - lo
		}
	}

	var stats Stats
	var out *dataframe.DataFrame
	err = comm.WithSendRecvCounts(ctx, c, sendCounts, opts.Buffers, func(h *comm.BufferHandle) error {
		var err error
		out, err = exchangeColumns(ctx, c, h, df, nil, opts)
		stats.SentRows = h.SendSize()
		stats.RecvRows = h.RecvSize()
		stats.BytesExchanged = h.BytesExchanged()
		return err
	})
	if err != nil {
		return nil, stats, errors.Wrap(err, "rebalancing")
	}
	return out, stats, nil
}

// BlockBounds returns the half-open global row range [lo, hi) rank holds
// when total rows are split into workers even contiguous blocks. The first
// total%workers ranks hold one extra row.
func BlockBounds(total int64, workers, rank int) (lo, hi int64) {
	w := int64(workers)
	r := int64(rank)
	base, extra := total/w, total%w
	lo = r*base + min(r, extra)
	hi = lo + base
	if r < extra {
		hi++
	}
	return lo, hi
}
