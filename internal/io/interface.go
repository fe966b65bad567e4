// Package io reads input tables for joins and writes join results.
//
// CSV goes through the arrow csv reader with type inference, Parquet through
// pqarrow. Results can also be written as JSON lines. Every reader returns a
// DataFrame that the caller must release.
package io

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/dataframe"
)

const (
	// DefaultBatchSize is the number of rows decoded per record batch
	DefaultBatchSize = 1000
)

// Format is a supported file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
)

// DetectFormat picks the format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	default:
		return "", errors.Newf("unsupported file format: %q", filepath.Ext(path))
	}
}

// DataReader defines the interface for reading a table from a source
type DataReader interface {
	// Read reads the whole source into a DataFrame
	Read(ctx context.Context) (*dataframe.DataFrame, error)
}

// DataWriter defines the interface for writing a table to a destination
type DataWriter interface {
	// Write writes the DataFrame to the destination
	Write(ctx context.Context, df *dataframe.DataFrame) error
}

// CSVOptions contains configuration options for CSV operations
type CSVOptions struct {
	// Delimiter is the field delimiter (default: comma)
	Delimiter rune
	// Comment is the comment character (default: 0 = disabled)
	Comment rune
	// Header indicates whether the first row contains headers
	Header bool
	// BatchSize is the number of rows decoded at a time
	BatchSize int
	// NullValues are read as null in every column, strings included
	NullValues []string
	// ColumnTypes overrides inference for the named columns
	ColumnTypes map[string]arrow.DataType
}

// DefaultCSVOptions returns default CSV options
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:  ',',
		Header:     true,
		BatchSize:  DefaultBatchSize,
		NullValues: []string{"", "NULL", "null"},
	}
}

// CSVReader reads CSV data into DataFrames
type CSVReader struct {
	reader  io.Reader
	options CSVOptions
	mem     memory.Allocator
}

// NewCSVReader creates a new CSV reader with the specified options
func NewCSVReader(reader io.Reader, options CSVOptions, mem memory.Allocator) *CSVReader {
	return &CSVReader{reader: reader, options: options, mem: allocator(mem)}
}

// CSVWriter writes DataFrames as CSV
type CSVWriter struct {
	writer  io.Writer
	options CSVOptions
}

// NewCSVWriter creates a new CSV writer with the specified options
func NewCSVWriter(writer io.Writer, options CSVOptions) *CSVWriter {
	return &CSVWriter{writer: writer, options: options}
}

// ParquetOptions contains configuration options for Parquet operations
type ParquetOptions struct {
	// Compression is one of snappy, gzip, lz4, zstd or uncompressed
	Compression string
	// BatchSize for reading/writing operations
	BatchSize int
}

// DefaultParquetOptions returns default Parquet options
func DefaultParquetOptions() ParquetOptions {
	return ParquetOptions{
		Compression: "snappy",
		BatchSize:   DefaultBatchSize,
	}
}

// ParquetReader reads Parquet data into DataFrames
type ParquetReader struct {
	reader  io.ReaderAt
	size    int64
	options ParquetOptions
	mem     memory.Allocator
}

// NewParquetReader creates a new Parquet reader over size bytes of reader
func NewParquetReader(reader io.ReaderAt, size int64, options ParquetOptions, mem memory.Allocator) *ParquetReader {
	return &ParquetReader{reader: reader, size: size, options: options, mem: allocator(mem)}
}

// ParquetWriter writes DataFrames as Parquet
type ParquetWriter struct {
	writer  io.Writer
	options ParquetOptions
}

// NewParquetWriter creates a new Parquet writer with the specified options
func NewParquetWriter(writer io.Writer, options ParquetOptions) *ParquetWriter {
	return &ParquetWriter{writer: writer, options: options}
}

// JSONWriter writes DataFrames as one JSON object per row
type JSONWriter struct {
	writer io.Writer
}

// NewJSONWriter creates a new JSON lines writer
func NewJSONWriter(writer io.Writer) *JSONWriter {
	return &JSONWriter{writer: writer}
}

func allocator(mem memory.Allocator) memory.Allocator {
	if mem == nil {
		return memory.DefaultAllocator
	}
	return mem
}

// toRecord exposes df as a record. The record holds its own references.
func toRecord(df *dataframe.DataFrame) arrow.Record {
	names := df.Columns()
	cols := make([]arrow.Array, len(names))
	for i, name := range names {
		s, _ := df.Column(name)
		cols[i] = s.Array()
	}
	rec := array.NewRecord(df.Schema(), cols, int64(df.Len()))
	for _, c := range cols {
		c.Release()
	}
	return rec
}

// fromChunks concatenates the chunks of every column into one DataFrame.
// chunks[i] holds the pieces of schema field i and is not released.
func fromChunks(schema *arrow.Schema, chunks [][]arrow.Array, mem memory.Allocator) (*dataframe.DataFrame, error) {
	names := make([]string, schema.NumFields())
	arrays := make([]arrow.Array, 0, schema.NumFields())
	release := func() {
		for _, a := range arrays {
			a.Release()
		}
	}
	for i, f := range schema.Fields() {
		names[i] = f.Name
		if len(chunks[i]) == 0 {
			release()
			return dataframe.Empty(schema, mem), nil
		}
		arr, err := array.Concatenate(chunks[i], mem)
		if err != nil {
			release()
			return nil, errors.Wrapf(err, "concatenating column %s", f.Name)
		}
		arrays = append(arrays, arr)
	}
	return dataframe.FromArrays(names, arrays), nil
}
