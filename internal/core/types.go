// Package core provides the domain model and validation logic for raw CSV ingestion.
// This package has no storage or transport dependencies and can be used by any entry point.
package core

// FieldType represents the expected primitive type of a CSV column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldTimestamp
	FieldDate
	FieldInt64
	FieldInt8
	FieldFloat64
)

// String returns the lowercase name used in logs and error messages.
func (t FieldType) String() string {
	switch t {
	case FieldText:
		return "text"
	case FieldTimestamp:
		return "timestamp"
	case FieldDate:
		return "date"
	case FieldInt64:
		return "int64"
	case FieldInt8:
		return "int8"
	case FieldFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// FieldSpec defines the expected type of a single CSV column.
type FieldSpec struct {
	Name       string              // Column header name (must match CSV exactly)
	Type       FieldType           // Expected data type
	Normalizer func(string) string // Optional transformation applied to non-empty cells before parsing
}

// Schema is the authoritative description of an accepted input file.
// It is shared by the validator, the columnar writer and test fixtures.
type Schema struct {
	Key    string      // Unique identifier: "fraud_transactions"
	Label  string      // Display name
	Fields []FieldSpec // Expected columns, in output order
	Rules  []Rule      // Domain rules evaluated after structural checks
}

// Field returns the spec for the named column.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Columns returns the expected column names in schema order.
func (s *Schema) Columns() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Column is a named, typed column of parsed cell values.
// Each value is nil (null) or the Go type for the column:
// time.Time for FieldTimestamp and FieldDate, int64, int8, float64 or string.
type Column struct {
	Name   string
	Type   FieldType
	Values []any
}

// NullCount returns the number of null cells in the column.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

// Dataset is a validated, in-memory table. Columns follow schema order.
// A Dataset is never mutated after validation succeeds.
type Dataset struct {
	Schema  string
	Columns []Column
	Rows    int
}

// Column returns the named column, or nil if absent.
func (d *Dataset) Column(name string) *Column {
	for i := range d.Columns {
		if d.Columns[i].Name == name {
			return &d.Columns[i]
		}
	}
	return nil
}

// Names returns the dataset's column names in order.
func (d *Dataset) Names() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Date layouts accepted for FieldTimestamp and FieldDate.
// Fractional seconds are accepted after the seconds field by time.Parse.
var (
	TimestampLayouts = []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	DateLayout = "2006-01-02"
)

