package comm

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// ExchangeCounts sends sendCounts[d] to rank d and returns, indexed by
// source rank, the count every rank sent to this one.
func ExchangeCounts(ctx context.Context, c Communicator, sendCounts []int64) ([]int64, error) {
	if len(sendCounts) != c.Size() {
		return nil, errors.Mark(
			errors.Newf("got %d send counts for %d workers", len(sendCounts), c.Size()),
			ErrCountMismatch)
	}

	parts := make([][]byte, len(sendCounts))
	for d, n := range sendCounts {
		if n < 0 {
			return nil, errors.Mark(errors.Newf("negative send count %d for rank %d", n, d), ErrCountMismatch)
		}
		parts[d] = binary.LittleEndian.AppendUint64(nil, uint64(n))
	}

	recv, err := c.Exchange(ctx, parts)
	if err != nil {
		return nil, errors.Wrap(err, "exchanging counts")
	}

	out := make([]int64, len(recv))
	for src, b := range recv {
		if len(b) != 8 {
			return nil, errors.Mark(errors.Newf("rank %d sent a %d byte count", src, len(b)), ErrCountMismatch)
		}
		out[src] = int64(binary.LittleEndian.Uint64(b))
	}
	return out, nil
}

// prefixSums returns the exclusive prefix sums of counts and their total.
func prefixSums(counts []int64, displs []int64) int64 {
	var total int64
	for i, n := range counts {
		displs[i] = total
		total += n
	}
	return total
}
