package comm

import (
	"bytes"
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/config"
)

// ExchangeOptions controls the wire encoding of AllToAllv.
type ExchangeOptions struct {
	// Allocator backs decoded and concatenated arrays. Nil uses
	// memory.DefaultAllocator.
	Allocator memory.Allocator
	// Compression is one of the config.Compression* codecs. Empty means none.
	Compression string
}

func (o ExchangeOptions) allocator() memory.Allocator {
	if o.Allocator == nil {
		return memory.DefaultAllocator
	}
	return o.Allocator
}

func (o ExchangeOptions) writerOptions() ([]ipc.Option, error) {
	opts := []ipc.Option{ipc.WithAllocator(o.allocator())}
	switch o.Compression {
	case "", config.CompressionNone:
	case config.CompressionLZ4:
		opts = append(opts, ipc.WithLZ4())
	case config.CompressionZSTD:
		opts = append(opts, ipc.WithZstd())
	default:
		return nil, errors.Newf("unknown compression %q", o.Compression)
	}
	return opts, nil
}

// AllToAllv sends rows [SendDispls[d], SendDispls[d]+SendCounts[d]) of arr to
// rank d and returns the RecvSize rows this rank receives, grouped by source
// rank in ascending order and in sending order within a source. arr must be
// packed destination-major and hold exactly SendSize rows. The caller owns
// the returned array.
func AllToAllv(ctx context.Context, c Communicator, h *BufferHandle, arr arrow.Array, opts ExchangeOptions) (arrow.Array, error) {
	if h.Workers() != c.Size() {
		return nil, errors.Mark(
			errors.Newf("handle sized for %d workers used in a group of %d", h.Workers(), c.Size()),
			ErrCountMismatch)
	}
	if int64(arr.Len()) != h.SendSize() {
		return nil, errors.Mark(
			errors.Newf("array has %d rows, send counts total %d", arr.Len(), h.SendSize()),
			ErrCountMismatch)
	}

	wopts, err := opts.writerOptions()
	if err != nil {
		return nil, err
	}

	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arr.DataType(), Nullable: true}}, nil)
	sendCounts, sendDispls := h.SendCounts(), h.SendDispls()
	parts := make([][]byte, c.Size())
	var sent int64
	for d := range parts {
		seg := array.NewSlice(arr, sendDispls[d], sendDispls[d]+sendCounts[d])
		b, err := encodeSegment(schema, seg, wopts)
		seg.Release()
		if err != nil {
			return nil, errors.Wrapf(err, "encoding segment for rank %d", d)
		}
		parts[d] = b
		sent += int64(len(b))
	}
	h.bytes.Add(sent)

	recv, err := c.Exchange(ctx, parts)
	if err != nil {
		return nil, errors.Wrap(err, "all-to-all-v")
	}

	mem := opts.allocator()
	recvCounts := h.RecvCounts()
	segs := make([]arrow.Array, 0, len(recv))
	defer func() {
		for _, s := range segs {
			s.Release()
		}
	}()
	for src, b := range recv {
		seg, err := decodeSegment(b, mem)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding segment from rank %d", src)
		}
		segs = append(segs, seg)
		if int64(seg.Len()) != recvCounts[src] {
			return nil, errors.Mark(
				errors.Newf("rank %d sent %d rows, announced %d", src, seg.Len(), recvCounts[src]),
				ErrCountMismatch)
		}
		if !arrow.TypeEqual(seg.DataType(), arr.DataType()) {
			return nil, errors.Newf("rank %d sent %s, expected %s", src, seg.DataType(), arr.DataType())
		}
	}

	out, err := array.Concatenate(segs, mem)
	if err != nil {
		return nil, errors.Wrap(err, "concatenating received segments")
	}
	return out, nil
}

func encodeSegment(schema *arrow.Schema, seg arrow.Array, opts []ipc.Option) ([]byte, error) {
	rec := array.NewRecord(schema, []arrow.Array{seg}, int64(seg.Len()))
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, append(opts, ipc.WithSchema(schema))...)
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSegment(b []byte, mem memory.Allocator) (arrow.Array, error) {
	r, err := ipc.NewReader(bytes.NewReader(b), ipc.WithAllocator(mem))
	if err != nil {
		return nil, err
	}
	defer r.Release()

	if !r.Next() {
		if err := r.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("segment holds no record batch")
	}
	col := r.Record().Column(0)
	col.Retain()
	return col, nil
}
