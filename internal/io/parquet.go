package io

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/dataframe"
)

// Read reads Parquet data and returns a DataFrame.
func (r *ParquetReader) Read(ctx context.Context) (*dataframe.DataFrame, error) {
	pf, err := file.NewParquetReader(io.NewSectionReader(r.reader, 0, r.size))
	if err != nil {
		return nil, errors.Wrap(err, "creating parquet file reader")
	}
	defer pf.Close()

	props := pqarrow.ArrowReadProperties{BatchSize: int64(max(r.options.BatchSize, 1))}
	// Decoding scratch stays on the default allocator; only the
	// concatenated columns are charged to r.mem.
	fr, err := pqarrow.NewFileReader(pf, props, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.Wrap(err, "creating arrow file reader")
	}
	table, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading table")
	}
	defer table.Release()

	chunks := make([][]arrow.Array, table.NumCols())
	for i := range chunks {
		chunks[i] = table.Column(i).Data().Chunks()
	}
	return fromChunks(table.Schema(), chunks, r.mem)
}

// Write writes the DataFrame as one Parquet row group.
func (w *ParquetWriter) Write(ctx context.Context, df *dataframe.DataFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	codec, err := parquetCodec(w.options.Compression)
	if err != nil {
		return err
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithBatchSize(int64(max(w.options.BatchSize, 1))),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(memory.DefaultAllocator))

	rec := toRecord(df)
	defer rec.Release()

	writer, err := pqarrow.NewFileWriter(rec.Schema(), w.writer, props, arrowProps)
	if err != nil {
		return errors.Wrap(err, "creating file writer")
	}
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return errors.Wrap(err, "writing record")
	}
	return errors.Wrap(writer.Close(), "closing parquet writer")
}

func parquetCodec(name string) (compress.Compression, error) {
	switch name {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, errors.Newf("unknown parquet compression %q", name)
	}
}
