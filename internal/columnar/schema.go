// Package columnar converts validated datasets to Parquet files and back.
package columnar

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/JonMunkholm/csvrefinery/internal/core"
)

// schemaKeyMetadata names the schema-level metadata entry holding the dataset's schema key.
const schemaKeyMetadata = "csvrefinery.schema"

// timestampType is microsecond precision in UTC.
var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// ArrowType returns the Arrow type a column of t is written as.
func ArrowType(t core.FieldType) (arrow.DataType, error) {
	switch t {
	case core.FieldTimestamp:
		return timestampType, nil
	case core.FieldDate:
		return arrow.FixedWidthTypes.Date32, nil
	case core.FieldInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case core.FieldInt8:
		return arrow.PrimitiveTypes.Int8, nil
	case core.FieldFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case core.FieldText:
		return arrow.BinaryTypes.String, nil
	default:
		return nil, fmt.Errorf("no arrow type for field type %s", t)
	}
}

// FieldType maps an Arrow type back to the dataset type it was written from.
func FieldType(dt arrow.DataType) (core.FieldType, error) {
	switch dt.ID() {
	case arrow.TIMESTAMP:
		return core.FieldTimestamp, nil
	case arrow.DATE32:
		return core.FieldDate, nil
	case arrow.INT64:
		return core.FieldInt64, nil
	case arrow.INT8:
		return core.FieldInt8, nil
	case arrow.FLOAT64:
		return core.FieldFloat64, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return core.FieldText, nil
	default:
		return 0, fmt.Errorf("unsupported arrow type %s", dt)
	}
}

// BuildArrowSchema derives a nullable Arrow schema from the dataset columns.
func BuildArrowSchema(ds *core.Dataset) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(ds.Columns))
	for i, col := range ds.Columns {
		dt, err := ArrowType(col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		fields[i] = arrow.Field{Name: col.Name, Type: dt, Nullable: true}
	}

	md := arrow.NewMetadata([]string{schemaKeyMetadata}, []string{ds.Schema})
	return arrow.NewSchema(fields, &md), nil
}
