// Package series provides named, Arrow-backed columns and the row gather
// used to materialize join output.
package series

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Series represents a typed data column with Apache Arrow backend
type Series[T any] struct {
	name  string
	array arrow.Array
}

// New creates a new Series from a slice of values
func New[T any](name string, values []T, mem memory.Allocator) *Series[T] {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}

	var arr arrow.Array

	switch v := any(values).(type) {
	case []string:
		arr = build(array.NewStringBuilder(mem), v)
	case []int64:
		arr = build(array.NewInt64Builder(mem), v)
	case []int32:
		arr = build(array.NewInt32Builder(mem), v)
	case []uint64:
		arr = build(array.NewUint64Builder(mem), v)
	case []uint32:
		arr = build(array.NewUint32Builder(mem), v)
	case []float64:
		arr = build(array.NewFloat64Builder(mem), v)
	case []float32:
		arr = build(array.NewFloat32Builder(mem), v)
	case []bool:
		arr = build(array.NewBooleanBuilder(mem), v)
	default:
		panic(fmt.Sprintf("unsupported type: %T", values))
	}

	return &Series[T]{
		name:  name,
		array: arr,
	}
}

type builder[V any] interface {
	Append(V)
	Reserve(int)
	NewArray() arrow.Array
	Release()
}

func build[V any](b builder[V], values []V) arrow.Array {
	defer b.Release()
	b.Reserve(len(values))
	for _, v := range values {
		b.Append(v)
	}
	return b.NewArray()
}

// FromArray wraps arr as a series, taking ownership of the caller's
// reference.
func FromArray(name string, arr arrow.Array) *Series[any] {
	return &Series[any]{name: name, array: arr}
}

// Empty returns a zero-length array of type dt.
func Empty(dt arrow.DataType, mem memory.Allocator) arrow.Array {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	return b.NewArray()
}

// Take gathers the rows of arr at indices, in index order. Nulls are
// preserved. A nil mem uses memory.DefaultAllocator.
func Take(ctx context.Context, arr arrow.Array, indices []int, mem memory.Allocator) (arrow.Array, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	ib := array.NewInt64Builder(mem)
	defer ib.Release()
	ib.Reserve(len(indices))
	for _, i := range indices {
		ib.Append(int64(i))
	}
	idx := ib.NewInt64Array()
	defer idx.Release()

	out, err := compute.TakeArray(compute.WithAllocator(ctx, mem), arr, idx)
	if err != nil {
		return nil, fmt.Errorf("gathering %d rows of %s: %w", len(indices), arr.DataType(), err)
	}
	return out, nil
}

// Name returns the column name
func (s *Series[T]) Name() string {
	return s.name
}

// Len returns the length of the series
func (s *Series[T]) Len() int {
	return s.array.Len()
}

// Values returns the data as a Go slice. Null slots hold the zero value.
func (s *Series[T]) Values() []T {
	result := make([]T, s.array.Len())
	for i := range result {
		result[i] = s.Value(i)
	}
	return result
}

// Value returns the value at the given index
func (s *Series[T]) Value(index int) T {
	var zero T
	if index < 0 || index >= s.array.Len() || s.array.IsNull(index) {
		return zero
	}
	if v, ok := valueAt(s.array, index).(T); ok {
		return v
	}
	return zero
}

func valueAt(arr arrow.Array, i int) any {
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Int32:
		return a.Value(i)
	case *array.Uint64:
		return a.Value(i)
	case *array.Uint32:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	default:
		return a.ValueStr(i)
	}
}

// DataType returns the Arrow data type
func (s *Series[T]) DataType() arrow.DataType {
	return s.array.DataType()
}

// IsNull checks if the value at index is null
func (s *Series[T]) IsNull(index int) bool {
	return s.array.IsNull(index)
}

// String returns a string representation of the series
func (s *Series[T]) String() string {
	return fmt.Sprintf("Series[%s]: %s (len=%d)", s.array.DataType(), s.name, s.Len())
}

// Array returns the underlying Arrow array (retains a reference)
func (s *Series[T]) Array() arrow.Array {
	if s.array != nil {
		s.array.Retain()
		return s.array
	}
	return nil
}

// Rename returns a series sharing the same data under a new name.
func (s *Series[T]) Rename(name string) *Series[T] {
	s.array.Retain()
	return &Series[T]{name: name, array: s.array}
}

// Release releases the underlying Arrow memory
func (s *Series[T]) Release() {
	if s.array != nil {
		s.array.Release()
	}
}
