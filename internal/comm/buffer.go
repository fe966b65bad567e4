package comm

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/parallel"
)

const (
	sendCountsBuf = iota
	recvCountsBuf
	sendDisplsBuf
	recvDisplsBuf
	numBufs
)

// BufferOptions controls where a BufferHandle's memory comes from and who
// accounts for it.
type BufferOptions struct {
	// Allocator backs the four count arrays. Nil uses memory.DefaultAllocator.
	Allocator memory.Allocator
	// Monitor, when set, must admit the allocation and is charged for it
	// until release.
	Monitor *parallel.MemoryMonitor
	// Tracker, when set, counts acquisitions and releases.
	Tracker *Tracker
}

// BufferHandle holds the send counts, receive counts, send displacements and
// receive displacements of one all-to-all-v, one int64 per worker each, plus
// the total number of rows this rank receives.
//
// A handle must be released exactly once. Use WithSendRecvCounts to scope it.
type BufferHandle struct {
	bufs     [numBufs]*memory.Buffer
	workers  int
	recvSize int64
	bytes    atomic.Int64

	monitor  *parallel.MemoryMonitor
	tracker  *Tracker
	released atomic.Bool
}

func newBufferHandle(workers int, opts BufferOptions) (h *BufferHandle, err error) {
	mem := opts.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	size := int64(numBufs * workers * arrow.Int64SizeBytes)
	if opts.Monitor != nil && !opts.Monitor.CanAllocate(size) {
		return nil, errors.Mark(
			errors.Newf("%d bytes for %d workers exceeds the memory threshold", size, workers),
			ErrBufferAllocation)
	}

	h = &BufferHandle{workers: workers, monitor: opts.Monitor, tracker: opts.Tracker}
	defer func() {
		if r := recover(); r != nil {
			h.freeBuffers()
			h, err = nil, errors.Mark(errors.Newf("allocator panicked: %v", r), ErrBufferAllocation)
		}
	}()
	for i := range h.bufs {
		buf := memory.NewResizableBuffer(mem)
		h.bufs[i] = buf
		buf.Resize(workers * arrow.Int64SizeBytes)
	}

	if h.monitor != nil {
		h.monitor.RecordAllocation(size)
	}
	if h.tracker != nil {
		h.tracker.acquired.Add(1)
	}
	return h, nil
}

func (h *BufferHandle) freeBuffers() {
	for i, b := range h.bufs {
		if b != nil {
			b.Release()
			h.bufs[i] = nil
		}
	}
}

func (h *BufferHandle) ints(i int) []int64 {
	if h.released.Load() {
		panic(errors.AssertionFailedf("use of released buffer handle"))
	}
	return arrow.Int64Traits.CastFromBytes(h.bufs[i].Bytes())
}

// Workers returns the group size the handle was sized for.
func (h *BufferHandle) Workers() int { return h.workers }

// SendCounts returns the number of rows sent to each rank.
func (h *BufferHandle) SendCounts() []int64 { return h.ints(sendCountsBuf) }

// RecvCounts returns the number of rows received from each rank.
func (h *BufferHandle) RecvCounts() []int64 { return h.ints(recvCountsBuf) }

// SendDispls returns the exclusive prefix sums of SendCounts.
func (h *BufferHandle) SendDispls() []int64 { return h.ints(sendDisplsBuf) }

// RecvDispls returns the exclusive prefix sums of RecvCounts.
func (h *BufferHandle) RecvDispls() []int64 { return h.ints(recvDisplsBuf) }

// RecvSize returns the total number of rows this rank receives.
func (h *BufferHandle) RecvSize() int64 { return h.recvSize }

// SendSize returns the total number of rows this rank sends.
func (h *BufferHandle) SendSize() int64 {
	var n int64
	for _, c := range h.SendCounts() {
		n += c
	}
	return n
}

// BytesExchanged returns the encoded bytes this rank sent through the
// handle so far.
func (h *BufferHandle) BytesExchanged() int64 { return h.bytes.Load() }

// Released reports whether Release was called.
func (h *BufferHandle) Released() bool { return h.released.Load() }

// Release returns the handle's memory. Releasing twice is a bug and panics.
func (h *BufferHandle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("buffer handle released twice"))
	}
	h.freeBuffers()
	if h.monitor != nil {
		h.monitor.RecordDeallocation(int64(numBufs * h.workers * arrow.Int64SizeBytes))
	}
	if h.tracker != nil {
		h.tracker.released.Add(1)
	}
}

func (h *BufferHandle) String() string {
	if h.released.Load() {
		return "BufferHandle(released)"
	}
	return fmt.Sprintf("BufferHandle(send=%v recv=%v total=%d)", h.SendCounts(), h.RecvCounts(), h.recvSize)
}

// Tracker counts buffer handle acquisitions and releases.
type Tracker struct {
	acquired atomic.Int64
	released atomic.Int64
}

// Acquired returns the number of handles acquired.
func (t *Tracker) Acquired() int64 { return t.acquired.Load() }

// Released returns the number of handles released.
func (t *Tracker) Released() int64 { return t.released.Load() }

// Outstanding returns the number of handles acquired but not yet released.
func (t *Tracker) Outstanding() int64 { return t.Acquired() - t.Released() }

// AcquireSendRecvCounts exchanges sendCounts with every rank and returns a
// handle holding both count arrays and their displacements. The caller owns
// the handle and must release it.
func AcquireSendRecvCounts(ctx context.Context, c Communicator, sendCounts []int64, opts BufferOptions) (*BufferHandle, error) {
	recvCounts, err := ExchangeCounts(ctx, c, sendCounts)
	if err != nil {
		return nil, err
	}

	h, err := newBufferHandle(c.Size(), opts)
	if err != nil {
		return nil, errors.Wrapf(err, "rank %d", c.Rank())
	}
	copy(h.ints(sendCountsBuf), sendCounts)
	copy(h.ints(recvCountsBuf), recvCounts)
	prefixSums(sendCounts, h.ints(sendDisplsBuf))
	h.recvSize = prefixSums(recvCounts, h.ints(recvDisplsBuf))
	return h, nil
}

// WithSendRecvCounts acquires a handle for sendCounts, runs fn with it, and
// releases it on every path out of fn, panics included.
func WithSendRecvCounts(
	ctx context.Context,
	c Communicator,
	sendCounts []int64,
	opts BufferOptions,
	fn func(h *BufferHandle) error,
) error {
	h, err := AcquireSendRecvCounts(ctx, c, sendCounts, opts)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h)
}
