// Package distjoin runs inner equi-joins over tables partitioned across a
// group of in-process workers.
//
// A table is handed to the cluster as a Partitioned value: one DataFrame per
// worker plus the layout those partitions follow. Cluster.Join compiles the
// join into a dataflow program, labels every column with a layout, and runs
// the lowered plan on every worker at once. Rows move between workers by a
// hash of the join key, so the result is itself partitioned.
//
// Memory management: every DataFrame and Partitioned value must be
// released by its owner.
//
//	mem := memory.NewGoAllocator()
//	left, _ := distjoin.Split(ordersDF, 4, distjoin.Even, mem)
//	defer left.Release()
//	right, _ := distjoin.Split(customersDF, 4, distjoin.Replicated, mem)
//	defer right.Release()
//
//	cluster, _ := distjoin.NewCluster(4)
//	out, err := cluster.Join(ctx, left, right, distjoin.JoinOptions{LeftKey: "customer_id", RightKey: "id"})
//	if err != nil {
//		return err
//	}
//	defer out.Release()
package distjoin

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/paveg/distjoin/internal/dataframe"
	"github.com/paveg/distjoin/internal/dist"
	joinerrors "github.com/paveg/distjoin/internal/errors"
	"github.com/paveg/distjoin/internal/shuffle"
	"github.com/paveg/distjoin/internal/validation"
)

// DataFrame is a table of Arrow columns.
type DataFrame = dataframe.DataFrame

// Layout describes how a table's rows are spread over workers.
type Layout = dist.Distribution

const (
	// Replicated tables hold every row on every worker.
	Replicated = dist.REP
	// Uneven tables are partitioned with arbitrary partition sizes.
	Uneven = dist.OneDVar
	// Even tables are partitioned into contiguous blocks whose sizes differ
	// by at most one row.
	Even = dist.OneD
)

// Partitioned is a table spread over workers. Parts[i] lives on worker i.
type Partitioned struct {
	Parts  []*DataFrame
	Layout Layout
}

// FromParts wraps existing partitions, taking ownership of them.
func FromParts(layout Layout, parts ...*DataFrame) *Partitioned {
	return &Partitioned{Parts: parts, Layout: layout}
}

// Split partitions df over workers with the given layout. Even gives block
// sizes that differ by at most one row; Uneven gives worker i a share
// proportional to i+1. df stays owned by the caller.
func Split(df *DataFrame, workers int, layout Layout, mem memory.Allocator) (*Partitioned, error) {
	if err := validation.ValidateWorkers(workers); err != nil {
		return nil, err
	}
	if err := df.Validate(); err != nil {
		return nil, err
	}

	switch layout {
	case Replicated:
		parts := make([]*DataFrame, workers)
		for i := range parts {
			parts[i] = df.Select(df.Columns()...)
		}
		return FromParts(layout, parts...), nil
	case Even, Uneven:
		sizes := PartitionSizes(df.Len(), workers, layout)
		parts, err := df.Split(sizes)
		if err != nil {
			return nil, err
		}
		return FromParts(layout, parts...), nil
	default:
		return nil, joinerrors.NewInvalidInputError("Split", fmt.Sprintf("unknown layout %d", layout))
	}
}

// PartitionSizes returns the partition sizes Split uses for rows rows.
func PartitionSizes(rows, workers int, layout Layout) []int {
	sizes := make([]int, workers)
	if layout == Uneven {
		total := workers * (workers + 1) / 2
		rest := rows
		for i := range workers - 1 {
			sizes[i] = rows * (i + 1) / total
			rest -= sizes[i]
		}
		sizes[workers-1] = rest
		return sizes
	}
	for i := range sizes {
		lo, hi := shuffle.BlockBounds(int64(rows), workers, i)
		sizes[i] = int(hi - lo)
	}
	return sizes
}

// Workers returns the number of partitions.
func (p *Partitioned) Workers() int {
	return len(p.Parts)
}

// Len returns the number of distinct rows of the table.
func (p *Partitioned) Len() int {
	if p.Layout == Replicated {
		if len(p.Parts) == 0 {
			return 0
		}
		return p.Parts[0].Len()
	}
	n := 0
	for _, part := range p.Parts {
		n += part.Len()
	}
	return n
}

// Gather collects the table into one DataFrame in worker order.
func (p *Partitioned) Gather(mem memory.Allocator) (*DataFrame, error) {
	if len(p.Parts) == 0 {
		return dataframe.New(), nil
	}
	if p.Layout == Replicated {
		return p.Parts[0].Select(p.Parts[0].Columns()...), nil
	}
	return dataframe.Concat(mem, p.Parts...)
}

// Release releases every partition.
func (p *Partitioned) Release() {
	for _, part := range p.Parts {
		if part != nil {
			part.Release()
		}
	}
	p.Parts = nil
}

func (p *Partitioned) String() string {
	return fmt.Sprintf("Partitioned[%s, %d workers, %d rows]", p.Layout, p.Workers(), p.Len())
}
