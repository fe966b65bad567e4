package io_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/distjoin/internal/io"
	"github.com/paveg/distjoin/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVReader_Read(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	t.Run("infers types", func(t *testing.T) {
		data := "id,x,name\n1,0.5,a\n2,1.5,b\n,2.5,\n"
		opts := io.DefaultCSVOptions()
		opts.BatchSize = 2
		df, err := io.NewCSVReader(strings.NewReader(data), opts, mem.Allocator).Read(context.Background())
		require.NoError(t, err)
		defer df.Release()

		testutil.AssertDataFrameHasColumns(t, df, []string{"id", "x", "name"})
		assert.Equal(t, 3, df.Len())
		schema := df.Schema()
		assert.Equal(t, arrow.PrimitiveTypes.Int64, schema.Field(0).Type)
		assert.Equal(t, arrow.PrimitiveTypes.Float64, schema.Field(1).Type)
		assert.Equal(t, arrow.BinaryTypes.String, schema.Field(2).Type)
		assert.Equal(t, []string{"(null)|2.5|(null)", "1|0.5|a", "2|1.5|b"}, testutil.Rows(t, df, "id", "x", "name"))
	})

	t.Run("column type override", func(t *testing.T) {
		opts := io.DefaultCSVOptions()
		opts.ColumnTypes = map[string]arrow.DataType{"id": arrow.PrimitiveTypes.Int32}
		df, err := io.NewCSVReader(strings.NewReader("id\n7\n"), opts, mem.Allocator).Read(context.Background())
		require.NoError(t, err)
		defer df.Release()
		assert.Equal(t, arrow.PrimitiveTypes.Int32, df.Schema().Field(0).Type)
	})

	t.Run("custom delimiter", func(t *testing.T) {
		opts := io.DefaultCSVOptions()
		opts.Delimiter = ';'
		df, err := io.NewCSVReader(strings.NewReader("a;b\n1;2\n"), opts, mem.Allocator).Read(context.Background())
		require.NoError(t, err)
		defer df.Release()
		testutil.AssertDataFrameHasColumns(t, df, []string{"a", "b"})
	})

	t.Run("empty input", func(t *testing.T) {
		df, err := io.NewCSVReader(strings.NewReader(""), io.DefaultCSVOptions(), mem.Allocator).Read(context.Background())
		require.NoError(t, err)
		defer df.Release()
		assert.Equal(t, 0, df.Width())
	})

	t.Run("ragged rows", func(t *testing.T) {
		_, err := io.NewCSVReader(strings.NewReader("a,b\n1,2\n3\n"), io.DefaultCSVOptions(), mem.Allocator).
			Read(context.Background())
		require.Error(t, err)
	})
}

func TestCSVWriter_Write(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	df := testutil.CreateTestTable(mem.Allocator, testutil.WithRowCount(3), testutil.WithNullKeys(2))
	defer df.Release()

	var buf bytes.Buffer
	require.NoError(t, io.NewCSVWriter(&buf, io.DefaultCSVOptions()).Write(context.Background(), df))
	assert.Equal(t, "id,x,name\n0,0.5,row0\n,1.5,row1\n1,2.5,row2\n", buf.String())

	back, err := io.NewCSVReader(&buf, io.DefaultCSVOptions(), mem.Allocator).Read(context.Background())
	require.NoError(t, err)
	defer back.Release()
	assert.Equal(t, testutil.Rows(t, df, "id", "x", "name"), testutil.Rows(t, back, "id", "x", "name"))
}

func TestParquet_WriteRead(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	df := testutil.CreateTestTable(mem.Allocator, testutil.WithRowCount(10), testutil.WithNullKeys(3))
	defer df.Release()

	for _, codec := range []string{"snappy", "zstd", "uncompressed"} {
		t.Run(codec, func(t *testing.T) {
			opts := io.ParquetOptions{Compression: codec, BatchSize: 4}
			var buf bytes.Buffer
			require.NoError(t, io.NewParquetWriter(&buf, opts).Write(context.Background(), df))

			r := bytes.NewReader(buf.Bytes())
			back, err := io.NewParquetReader(r, int64(r.Len()), opts, mem.Allocator).Read(context.Background())
			require.NoError(t, err)
			defer back.Release()

			assert.Equal(t, df.Columns(), back.Columns())
			assert.Equal(t, testutil.Rows(t, df, "id", "x", "name"), testutil.Rows(t, back, "id", "x", "name"))
		})
	}

	t.Run("unknown codec", func(t *testing.T) {
		var buf bytes.Buffer
		err := io.NewParquetWriter(&buf, io.ParquetOptions{Compression: "brotli9"}).Write(context.Background(), df)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown parquet compression")
	})

	t.Run("not parquet", func(t *testing.T) {
		r := bytes.NewReader([]byte("id,x\n1,2\n"))
		_, err := io.NewParquetReader(r, int64(r.Len()), io.DefaultParquetOptions(), mem.Allocator).Read(context.Background())
		require.Error(t, err)
	})
}

func TestJSONWriter_Write(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	df := testutil.CreateTestTable(mem.Allocator, testutil.WithRowCount(2), testutil.WithNullKeys(2))
	defer df.Release()

	var buf bytes.Buffer
	require.NoError(t, io.NewJSONWriter(&buf).Write(context.Background(), df))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"id":0,"x":0.5,"name":"row0"}`, lines[0])
	assert.JSONEq(t, `{"id":null,"x":1.5,"name":"row1"}`, lines[1])
}

func TestFiles(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	df := testutil.CreateTestTable(mem.Allocator, testutil.WithRowCount(5))
	defer df.Release()
	dir := t.TempDir()

	for _, name := range []string{"t.csv", "t.parquet"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, io.WriteFile(context.Background(), path, df))
			back, err := io.ReadFile(context.Background(), path, mem.Allocator)
			require.NoError(t, err)
			defer back.Release()
			assert.Equal(t, testutil.Rows(t, df, "id", "x", "name"), testutil.Rows(t, back, "id", "x", "name"))
		})
	}

	t.Run("json is write only", func(t *testing.T) {
		path := filepath.Join(dir, "t.json")
		require.NoError(t, io.WriteFile(context.Background(), path, df))
		_, err := io.ReadFile(context.Background(), path, mem.Allocator)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading json files is not supported")
	})

	t.Run("unknown extension", func(t *testing.T) {
		_, err := io.DetectFormat("t.xlsx")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unsupported file format: ".xlsx"`)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := io.ReadFile(context.Background(), filepath.Join(dir, "missing.csv"), mem.Allocator)
		require.Error(t, err)
	})
}
