package io

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/dataframe"
)

// Read reads CSV data and returns a DataFrame. Column types are inferred
// from the first data row unless ColumnTypes names them.
func (r *CSVReader) Read(ctx context.Context) (*dataframe.DataFrame, error) {
	opts := []csv.Option{
		csv.WithAllocator(r.mem),
		csv.WithHeader(r.options.Header),
		csv.WithChunk(max(r.options.BatchSize, 2)),
		csv.WithNullReader(true, r.options.NullValues...),
	}
	if r.options.Delimiter != 0 {
		opts = append(opts, csv.WithComma(r.options.Delimiter))
	}
	if r.options.Comment != 0 {
		opts = append(opts, csv.WithComment(r.options.Comment))
	}
	if len(r.options.ColumnTypes) > 0 {
		opts = append(opts, csv.WithColumnTypes(r.options.ColumnTypes))
	}

	reader := csv.NewInferringReader(r.reader, opts...)
	defer reader.Release()

	var chunks [][]arrow.Array
	defer func() {
		for _, col := range chunks {
			for _, a := range col {
				a.Release()
			}
		}
	}()
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := reader.Record()
		if chunks == nil {
			chunks = make([][]arrow.Array, rec.NumCols())
		}
		for i, col := range rec.Columns() {
			col.Retain()
			chunks[i] = append(chunks[i], col)
		}
	}
	schema := reader.Schema()
	if err := reader.Err(); err != nil {
		if schema == nil && errors.Is(err, io.EOF) {
			return dataframe.New(), nil
		}
		return nil, errors.Wrap(err, "reading CSV")
	}
	if schema == nil {
		return dataframe.New(), nil
	}
	if chunks == nil {
		chunks = make([][]arrow.Array, schema.NumFields())
	}
	return fromChunks(schema, chunks, r.mem)
}

// Write writes the DataFrame as CSV. Nulls are written as empty fields.
func (w *CSVWriter) Write(ctx context.Context, df *dataframe.DataFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := []csv.Option{csv.WithHeader(w.options.Header), csv.WithNullWriter("")}
	if w.options.Delimiter != 0 {
		opts = append(opts, csv.WithComma(w.options.Delimiter))
	}

	rec := toRecord(df)
	defer rec.Release()

	writer := csv.NewWriter(w.writer, rec.Schema(), opts...)
	if err := writer.Write(rec); err != nil {
		return errors.Wrap(err, "writing CSV")
	}
	return errors.Wrap(writer.Flush(), "flushing CSV")
}
