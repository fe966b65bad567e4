// Package dataframe provides the column tables that move through a
// distributed join: per-worker partitions, exchanged segments, and results.
//
// A DataFrame owns one reference to each of its columns. Every method that
// returns a new DataFrame takes its own references, so each DataFrame must
// be released exactly once, independently of the frames it came from.
package dataframe

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/distjoin/internal/series"
)

// DataFrame represents a table of data with typed columns
type DataFrame struct {
	columns map[string]ISeries
	order   []string // Maintains column order
}

// New creates a new DataFrame from a slice of ISeries, taking ownership of
// them. A later series with a duplicate name replaces the earlier one.
func New(series ...ISeries) *DataFrame {
	columns := make(map[string]ISeries)
	order := make([]string, 0, len(series))

	for _, s := range series {
		name := s.Name()
		if prev, ok := columns[name]; ok {
			prev.Release()
		} else {
			order = append(order, name)
		}
		columns[name] = s
	}

	return &DataFrame{
		columns: columns,
		order:   order,
	}
}

// FromArrays builds a DataFrame from parallel name and array slices, taking
// ownership of the arrays.
func FromArrays(names []string, arrays []arrow.Array) *DataFrame {
	cols := make([]ISeries, len(arrays))
	for i, a := range arrays {
		cols[i] = series.FromArray(names[i], a)
	}
	return New(cols...)
}

// Empty returns a zero-row DataFrame with the given schema.
func Empty(schema *arrow.Schema, mem memory.Allocator) *DataFrame {
	cols := make([]ISeries, 0, schema.NumFields())
	for _, f := range schema.Fields() {
		cols = append(cols, series.FromArray(f.Name, series.Empty(f.Type, mem)))
	}
	return New(cols...)
}

// Columns returns the names of all columns in order
func (df *DataFrame) Columns() []string {
	return append([]string{}, df.order...)
}

// Len returns the number of rows
func (df *DataFrame) Len() int {
	if len(df.order) == 0 {
		return 0
	}
	return df.columns[df.order[0]].Len()
}

// Width returns the number of columns
func (df *DataFrame) Width() int {
	return len(df.order)
}

// Column returns the series for the given column name. The series stays
// owned by df.
func (df *DataFrame) Column(name string) (ISeries, bool) {
	series, exists := df.columns[name]
	return series, exists
}

// HasColumn checks if a column exists
func (df *DataFrame) HasColumn(name string) bool {
	_, exists := df.columns[name]
	return exists
}

// Schema returns the Arrow schema of df. All fields are nullable.
func (df *DataFrame) Schema() *arrow.Schema {
	fields := make([]arrow.Field, 0, len(df.order))
	for _, name := range df.order {
		fields = append(fields, arrow.Field{Name: name, Type: df.columns[name].DataType(), Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// Validate checks that every column has the same length.
func (df *DataFrame) Validate() error {
	if len(df.order) == 0 {
		return nil
	}
	n := df.Len()
	for _, name := range df.order[1:] {
		if l := df.columns[name].Len(); l != n {
			return fmt.Errorf("column %q has %d rows, expected %d", name, l, n)
		}
	}
	return nil
}

// Select returns a new DataFrame with only the specified columns. Unknown
// names are skipped.
func (df *DataFrame) Select(names ...string) *DataFrame {
	cols := make([]ISeries, 0, len(names))
	for _, name := range names {
		if s, exists := df.columns[name]; exists {
			cols = append(cols, series.FromArray(name, s.Array()))
		}
	}
	return New(cols...)
}

// Rename returns a new DataFrame whose columns are renamed through mapping.
// Columns absent from mapping keep their name.
func (df *DataFrame) Rename(mapping map[string]string) *DataFrame {
	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		to := name
		if n, ok := mapping[name]; ok {
			to = n
		}
		cols = append(cols, series.FromArray(to, df.columns[name].Array()))
	}
	return New(cols...)
}

// Slice returns rows [start, end) as a new DataFrame sharing df's buffers.
func (df *DataFrame) Slice(start, end int) *DataFrame {
	if start < 0 {
		start = 0
	}
	if end > df.Len() {
		end = df.Len()
	}
	if start > end {
		start = end
	}

	cols := make([]ISeries, 0, len(df.order))
	for _, name := range df.order {
		arr := df.columns[name].Array()
		cols = append(cols, series.FromArray(name, array.NewSlice(arr, int64(start), int64(end))))
		arr.Release()
	}
	return New(cols...)
}

// Split cuts df into consecutive slices of the given sizes. The sizes must
// sum to df.Len().
func (df *DataFrame) Split(sizes []int) ([]*DataFrame, error) {
	total := 0
	for _, n := range sizes {
		if n < 0 {
			return nil, fmt.Errorf("negative part size %d", n)
		}
		total += n
	}
	if total != df.Len() {
		return nil, fmt.Errorf("part sizes sum to %d, frame has %d rows", total, df.Len())
	}

	parts := make([]*DataFrame, len(sizes))
	start := 0
	for i, n := range sizes {
		parts[i] = df.Slice(start, start+n)
		start += n
	}
	return parts, nil
}

// Concat stacks frames vertically. Every frame must have the same column
// names in the same order with the same types.
func Concat(mem memory.Allocator, frames ...*DataFrame) (*DataFrame, error) {
	if len(frames) == 0 {
		return New(), nil
	}
	first := frames[0]
	for i, f := range frames[1:] {
		if !first.Schema().Equal(f.Schema()) {
			return nil, fmt.Errorf("frame %d has schema %s, expected %s", i+1, f.Schema(), first.Schema())
		}
	}

	cols := make([]ISeries, 0, first.Width())
	for _, name := range first.order {
		parts := make([]arrow.Array, len(frames))
		for i, f := range frames {
			parts[i] = f.columns[name].Array()
		}
		out, err := array.Concatenate(parts, mem)
		for _, p := range parts {
			p.Release()
		}
		if err != nil {
			for _, c := range cols {
				c.Release()
			}
			return nil, fmt.Errorf("concatenating column %q: %w", name, err)
		}
		cols = append(cols, series.FromArray(name, out))
	}
	return New(cols...), nil
}

// String returns a string representation of the DataFrame
func (df *DataFrame) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DataFrame[%dx%d]\n", df.Len(), df.Width())
	for _, name := range df.order {
		fmt.Fprintf(&sb, "  %s: %s\n", name, df.columns[name].DataType())
	}
	return sb.String()
}

// Release releases all columns
func (df *DataFrame) Release() {
	for _, s := range df.columns {
		s.Release()
	}
}
