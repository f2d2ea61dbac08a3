package columnar

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/logging"
)

// DefaultRowGroupSize is the number of rows per Parquet row group.
const DefaultRowGroupSize = 64 * 1024

// Options configures a Writer.
type Options struct {
	Compression  string // snappy, zstd, gzip or none; empty means snappy
	RowGroupSize int    // rows per row group; <= 0 means DefaultRowGroupSize
}

// Artifact describes a Parquet file produced by Write.
type Artifact struct {
	Path  string
	Rows  int
	Bytes int64
}

// Writer converts datasets to Parquet files.
type Writer struct {
	codec        compress.Compression
	rowGroupSize int
	mem          memory.Allocator
}

// ParseCompression maps a codec name to its Parquet compression.
func ParseCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unknown compression %q", name)
	}
}

// NewWriter creates a writer. Returns an error for an unknown codec name.
func NewWriter(opts Options) (*Writer, error) {
	codec, err := ParseCompression(opts.Compression)
	if err != nil {
		return nil, err
	}
	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = DefaultRowGroupSize
	}
	return &Writer{
		codec:        codec,
		rowGroupSize: opts.RowGroupSize,
		mem:          memory.NewGoAllocator(),
	}, nil
}

// Write serialises ds to a Parquet file at path.
//
// The file appears at path only once it is complete: data is written to a
// temporary file in the same directory, synced and renamed. On failure the
// temporary file is removed and a ConversionError is returned.
func (w *Writer) Write(ctx context.Context, ds *core.Dataset, path string) (*Artifact, error) {
	logger := logging.WithFields(ctx, "path", path, "rows", ds.Rows)
	start := time.Now()

	arrSchema, err := BuildArrowSchema(ds)
	if err != nil {
		return nil, core.E(core.KindConversion, "build arrow schema", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, core.E(core.KindConversion, "create temp file", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	counter := &countingWriter{w: tmp}
	if err := w.encode(ctx, ds, arrSchema, counter); err != nil {
		return nil, core.E(core.KindConversion, "write parquet", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, core.E(core.KindConversion, "sync", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, core.E(core.KindConversion, "close", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, core.E(core.KindConversion, "rename", err)
	}
	committed = true

	logger.Info("parquet written",
		"bytes", counter.n,
		"compression", w.codec.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Artifact{Path: path, Rows: ds.Rows, Bytes: counter.n}, nil
}

// encode writes ds to out in row groups of w.rowGroupSize rows.
func (w *Writer) encode(ctx context.Context, ds *core.Dataset, arrSchema *arrow.Schema, out io.Writer) error {
	props := parquet.NewWriterProperties(
		parquet.WithCompression(w.codec),
		parquet.WithCreatedBy("csvrefinery"),
		parquet.WithAllocator(w.mem),
	)
	arrProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
		pqarrow.WithAllocator(w.mem),
	)

	fw, err := pqarrow.NewFileWriter(arrSchema, out, props, arrProps)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}

	for offset := 0; offset < ds.Rows; offset += w.rowGroupSize {
		if err := ctx.Err(); err != nil {
			fw.Close()
			return err
		}

		end := min(offset+w.rowGroupSize, ds.Rows)
		rec, err := w.buildRecord(ds, arrSchema, offset, end)
		if err != nil {
			fw.Close()
			return err
		}
		err = fw.Write(rec)
		rec.Release()
		if err != nil {
			fw.Close()
			return fmt.Errorf("write row group at row %d: %w", offset, err)
		}
	}

	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// buildRecord materialises rows [from, to) of ds as an Arrow record.
func (w *Writer) buildRecord(ds *core.Dataset, arrSchema *arrow.Schema, from, to int) (arrow.Record, error) {
	b := array.NewRecordBuilder(w.mem, arrSchema)
	defer b.Release()

	for i, col := range ds.Columns {
		if err := appendValues(b.Field(i), col, from, to); err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
	}
	return b.NewRecord(), nil
}

func appendValues(fb array.Builder, col core.Column, from, to int) error {
	for row := from; row < to; row++ {
		v := col.Values[row]
		if v == nil {
			fb.AppendNull()
			continue
		}

		ok := true
		switch b := fb.(type) {
		case *array.TimestampBuilder:
			var t time.Time
			if t, ok = v.(time.Time); ok {
				b.Append(arrow.Timestamp(t.UnixMicro()))
			}
		case *array.Date32Builder:
			var t time.Time
			if t, ok = v.(time.Time); ok {
				b.Append(arrow.Date32FromTime(t))
			}
		case *array.Int64Builder:
			var n int64
			if n, ok = v.(int64); ok {
				b.Append(n)
			}
		case *array.Int8Builder:
			var n int8
			if n, ok = v.(int8); ok {
				b.Append(n)
			}
		case *array.Float64Builder:
			var f float64
			if f, ok = v.(float64); ok {
				b.Append(f)
			}
		case *array.StringBuilder:
			var s string
			if s, ok = v.(string); ok {
				b.Append(s)
			}
		default:
			return fmt.Errorf("unsupported builder %T", fb)
		}
		if !ok {
			return fmt.Errorf("row %d: unexpected value %T for %s column", row+1, v, col.Type)
		}
	}
	return nil
}

// countingWriter records bytes written and hides the file's Close method
// from the Parquet writer, which would otherwise close it before Sync.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
