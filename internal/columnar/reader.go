package columnar

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/JonMunkholm/csvrefinery/internal/core"
)

// ReadFile loads a Parquet file written by Writer back into a Dataset.
// Column types are recovered from the Arrow schema stored in the file.
func ReadFile(ctx context.Context, path string) (*core.Dataset, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("create arrow reader: %w", err)
	}

	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	defer tbl.Release()

	ds := &core.Dataset{Rows: int(tbl.NumRows())}
	md := tbl.Schema().Metadata()
	if k := md.FindKey(schemaKeyMetadata); k >= 0 {
		ds.Schema = md.Values()[k]
	}

	for i := 0; i < int(tbl.NumCols()); i++ {
		field := tbl.Schema().Field(i)
		ft, err := FieldType(field.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", field.Name, err)
		}

		col := core.Column{Name: field.Name, Type: ft, Values: make([]any, 0, ds.Rows)}
		for _, chunk := range tbl.Column(i).Data().Chunks() {
			col.Values, err = appendChunk(col.Values, chunk)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", field.Name, err)
			}
		}
		ds.Columns = append(ds.Columns, col)
	}
	return ds, nil
}

func appendChunk(dst []any, chunk arrow.Array) ([]any, error) {
	for j := 0; j < chunk.Len(); j++ {
		if chunk.IsNull(j) {
			dst = append(dst, nil)
			continue
		}
		switch a := chunk.(type) {
		case *array.Timestamp:
			dst = append(dst, a.Value(j).ToTime(arrow.Microsecond).UTC())
		case *array.Date32:
			dst = append(dst, a.Value(j).ToTime().UTC())
		case *array.Int64:
			dst = append(dst, a.Value(j))
		case *array.Int8:
			dst = append(dst, a.Value(j))
		case *array.Float64:
			dst = append(dst, a.Value(j))
		case *array.String:
			dst = append(dst, a.Value(j))
		case *array.LargeString:
			dst = append(dst, a.Value(j))
		default:
			return nil, fmt.Errorf("unsupported array %T", chunk)
		}
	}
	return dst, nil
}
