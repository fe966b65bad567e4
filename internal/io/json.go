package io

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/dataframe"
)

// Write writes one JSON object per row with nulls as JSON null.
func (w *JSONWriter) Write(ctx context.Context, df *dataframe.DataFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := toRecord(df)
	defer rec.Release()
	return errors.Wrap(array.RecordToJSON(rec, w.writer), "writing JSON")
}
