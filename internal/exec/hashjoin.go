package exec

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/cockroachdb/errors"
	joinerrors "github.com/paveg/distjoin/internal/errors"
	"github.com/paveg/distjoin/internal/parallel"
	"github.com/paveg/distjoin/internal/shuffle"
)

// ProbeOptions tunes the local hash join.
type ProbeOptions struct {
	// Seed seeds the build table hash.
	Seed uint64
	// ParallelThreshold is the probe side row count at which probing runs
	// in parallel chunks. Non-positive disables parallel probing.
	ParallelThreshold int
	// Workers bounds the probe goroutines.
	Workers int
	// ChunkSize is the rows per probe chunk. Zero splits the probe side
	// evenly across Workers.
	ChunkSize int
}

// Matches holds the row index pairs of a local join, ordered by left row
// and then by right row.
type Matches struct {
	Left  []int
	Right []int
	// BuildLeft reports that the hash table was built on the left side.
	BuildLeft bool
	// Parallel reports that the probe ran in parallel chunks.
	Parallel bool
}

// Len returns the number of matches.
func (m Matches) Len() int {
	return len(m.Left)
}

// HashJoin matches every non-null left key against every equal non-null
// right key. The hash table is built on the smaller side. Duplicate keys
// produce every pairing. NaN float keys match nothing.
func HashJoin[K shuffle.Key](ctx context.Context, left, right shuffle.Values[K], opts ProbeOptions) (Matches, error) {
	if left.Len() < right.Len() {
		ri, li, par, err := buildAndProbe(ctx, left, right, opts)
		if err != nil {
			return Matches{}, err
		}
		li, ri = sortByLeft(li, ri, left.Len())
		return Matches{Left: li, Right: ri, BuildLeft: true, Parallel: par}, nil
	}
	li, ri, par, err := buildAndProbe(ctx, right, left, opts)
	if err != nil {
		return Matches{}, err
	}
	return Matches{Left: li, Right: ri, Parallel: par}, nil
}

// buildAndProbe builds on build and returns (probe row, build row) pairs in
// probe row order, build rows ascending within a probe row.
func buildAndProbe[K shuffle.Key](
	ctx context.Context,
	build, probe shuffle.Values[K],
	opts ProbeOptions,
) (probeRows, buildRows []int, par bool, err error) {
	table := newMultiMap[K](build.Len(), opts.Seed)
	for i := range build.Len() {
		if !build.IsNull(i) {
			table.put(build.Value(i), i)
		}
	}

	n := probe.Len()
	if opts.ParallelThreshold <= 0 || n < opts.ParallelThreshold || opts.Workers <= 1 {
		probeRows, buildRows = probeRange(table, table.hasher, probe, parallel.Range{Start: 0, End: n})
		return probeRows, buildRows, false, nil
	}

	size := opts.ChunkSize
	if size <= 0 {
		size = (n + opts.Workers - 1) / opts.Workers
	}
	wp := parallel.NewWorkerPool(ctx, opts.Workers)
	defer wp.Close()

	type chunk struct{ probe, build []int }
	chunks, err := parallel.ProcessIndexed(wp, parallel.Chunks(n, size), func(_ int, r parallel.Range) chunk {
		p, b := probeRange(table, table.newHasher(), probe, r)
		return chunk{probe: p, build: b}
	})
	if err != nil {
		return nil, nil, true, errors.Wrap(err, "probing")
	}

	total := 0
	for _, c := range chunks {
		total += len(c.probe)
	}
	probeRows = make([]int, 0, total)
	buildRows = make([]int, 0, total)
	for _, c := range chunks {
		probeRows = append(probeRows, c.probe...)
		buildRows = append(buildRows, c.build...)
	}
	return probeRows, buildRows, true, nil
}

func probeRange[K shuffle.Key](table *multiMap[K], h *shuffle.Hasher[K], probe shuffle.Values[K], r parallel.Range) (probeRows, buildRows []int) {
	for i := r.Start; i < r.End; i++ {
		if probe.IsNull(i) {
			continue
		}
		k := probe.Value(i)
		for _, b := range table.get(h.Sum64(k), k) {
			probeRows = append(probeRows, i)
			buildRows = append(buildRows, b)
		}
	}
	return probeRows, buildRows
}

// sortByLeft reorders pairs produced in right row order into left row order
// with a stable counting sort, so right rows stay ascending per left row.
func sortByLeft(li, ri []int, leftLen int) ([]int, []int) {
	starts := make([]int, leftLen+1)
	for _, l := range li {
		starts[l+1]++
	}
	for i := 1; i <= leftLen; i++ {
		starts[i] += starts[i-1]
	}
	outL := make([]int, len(li))
	outR := make([]int, len(ri))
	for k, l := range li {
		pos := starts[l]
		starts[l]++
		outL[pos] = l
		outR[pos] = ri[k]
	}
	return outL, outR
}

// joinArrays dispatches HashJoin on the Arrow type of the key arrays, which
// must match.
func joinArrays(ctx context.Context, left, right arrow.Array, opts ProbeOptions) (Matches, error) {
	if !arrow.TypeEqual(left.DataType(), right.DataType()) {
		return Matches{}, joinerrors.NewValidationError("join", "",
			"key types differ: "+left.DataType().String()+" and "+right.DataType().String())
	}
	switch l := left.(type) {
	case *array.Int8:
		return HashJoin[int8](ctx, l, right.(*array.Int8), opts)
	case *array.Int16:
		return HashJoin[int16](ctx, l, right.(*array.Int16), opts)
	case *array.Int32:
		return HashJoin[int32](ctx, l, right.(*array.Int32), opts)
	case *array.Int64:
		return HashJoin[int64](ctx, l, right.(*array.Int64), opts)
	case *array.Uint8:
		return HashJoin[uint8](ctx, l, right.(*array.Uint8), opts)
	case *array.Uint16:
		return HashJoin[uint16](ctx, l, right.(*array.Uint16), opts)
	case *array.Uint32:
		return HashJoin[uint32](ctx, l, right.(*array.Uint32), opts)
	case *array.Uint64:
		return HashJoin[uint64](ctx, l, right.(*array.Uint64), opts)
	case *array.Float32:
		return HashJoin[float32](ctx, l, right.(*array.Float32), opts)
	case *array.Float64:
		return HashJoin[float64](ctx, l, right.(*array.Float64), opts)
	case *array.String:
		return HashJoin[string](ctx, l, right.(*array.String), opts)
	case *array.LargeString:
		return HashJoin[string](ctx, l, right.(*array.LargeString), opts)
	default:
		return Matches{}, joinerrors.NewUnsupportedTypeError("join", "", left.DataType().String())
	}
}
