package io

import (
	"context"
	"os"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/dataframe"
)

// ReadFile reads a CSV or Parquet file, picking the format from its
// extension.
func ReadFile(ctx context.Context, path string, mem memory.Allocator) (*dataframe.DataFrame, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	var r DataReader
	switch format {
	case FormatCSV:
		r = NewCSVReader(f, DefaultCSVOptions(), mem)
	case FormatParquet:
		st, err := f.Stat()
		if err != nil {
			return nil, errors.Wrapf(err, "stat %s", path)
		}
		r = NewParquetReader(f, st.Size(), DefaultParquetOptions(), mem)
	default:
		return nil, errors.Newf("reading %s files is not supported", format)
	}
	df, err := r.Read(ctx)
	return df, errors.Wrapf(err, "reading %s", path)
}

// WriteFile writes df to path in the format its extension names.
func WriteFile(ctx context.Context, path string, df *dataframe.DataFrame) (err error) {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer func() {
		err = errors.CombineErrors(err, f.Close())
	}()

	var w DataWriter
	switch format {
	case FormatCSV:
		w = NewCSVWriter(f, DefaultCSVOptions())
	case FormatParquet:
		w = NewParquetWriter(f, DefaultParquetOptions())
	case FormatJSON:
		w = NewJSONWriter(f)
	}
	return errors.Wrapf(w.Write(ctx, df), "writing %s", path)
}
