package shuffle

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// Routing records, per destination rank, which local rows go there.
type Routing struct {
	dests   []*roaring.Bitmap
	dropped int
}

// NewRouting groups row indices by owner. Rows with NoOwner are dropped.
func NewRouting(owners []int32, workers int) *Routing {
	r := &Routing{dests: make([]*roaring.Bitmap, workers)}
	for d := range r.dests {
		r.dests[d] = roaring.New()
	}
	for i, o := range owners {
		if o == NoOwner {
			r.dropped++
			continue
		}
		r.dests[o].Add(uint32(i))
	}
	for _, b := range r.dests {
		b.RunOptimize()
	}
	return r
}

// Workers returns the number of destinations.
func (r *Routing) Workers() int {
	return len(r.dests)
}

// Rows returns the rows bound for dest. The bitmap must not be modified.
func (r *Routing) Rows(dest int) *roaring.Bitmap {
	return r.dests[dest]
}

// Counts returns the number of rows bound for each destination.
func (r *Routing) Counts() []int64 {
	out := make([]int64, len(r.dests))
	for d, b := range r.dests {
		out[d] = int64(b.GetCardinality())
	}
	return out
}

// Dropped returns the number of rows with no owner.
func (r *Routing) Dropped() int {
	return r.dropped
}

// Order returns the routed row indices destination-major, ascending within
// a destination. Taking rows in this order packs them for an all-to-all-v.
func (r *Routing) Order() []int {
	var n uint64
	for _, b := range r.dests {
		n += b.GetCardinality()
	}
	out := make([]int, 0, n)
	for _, b := range r.dests {
		it := b.Iterator()
		for it.HasNext() {
			out = append(out, int(it.Next()))
		}
	}
	return out
}

func (r *Routing) String() string {
	return fmt.Sprintf("Routing(counts=%v dropped=%d)", r.Counts(), r.dropped)
}
