package core

// validation.go checks a raw CSV file against a Schema and materialises it
// into a Dataset.
//
// Validation happens in three passes:
//  1. Parse: every present schema column is converted cell by cell; the first
//     unparseable cell aborts with a SchemaError.
//  2. Structure: columns absent from the header or entirely null are reported
//     together in one SchemaError.
//  3. Domain rules: evaluated in schema order; the first failing rule aborts
//     with a ValidationError listing every offending value.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JonMunkholm/csvrefinery/internal/logging"
)

// CellError reports a cell that does not parse under its column's type.
type CellError struct {
	Row    int       // 1-based data row number
	Column string    // Column name
	Value  string    // Raw cell content
	Type   FieldType // Expected type
	Err    error     // Underlying parse error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("row %d, column %s: cannot parse %q as %s: %v", e.Row, e.Column, e.Value, e.Type, e.Err)
}

func (e *CellError) Unwrap() error {
	return e.Err
}

// Validator validates CSV input against one schema.
// A Validator holds no per-call state and is safe for concurrent use.
type Validator struct {
	schema *Schema
}

// NewValidator creates a validator for schema.
func NewValidator(schema *Schema) *Validator {
	return &Validator{schema: schema}
}

// Schema returns the schema the validator checks against.
func (v *Validator) Schema() *Schema {
	return v.schema
}

// ValidateFile opens path and validates its contents.
func (v *Validator) ValidateFile(ctx context.Context, path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, E(KindSchema, "open", err)
	}
	defer f.Close()

	return v.Validate(ctx, f)
}

// Validate reads CSV from r and returns the typed dataset.
// Errors are *Error of KindSchema or KindValidation, or ctx.Err().
func (v *Validator) Validate(ctx context.Context, r io.Reader) (*Dataset, error) {
	logger := logging.WithFields(ctx, "schema", v.schema.Key)
	logger.Info("validation started")

	parseReader, counter := WrapForParsing(r)
	reader := csv.NewReader(parseReader)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, Errorf(KindSchema, "validate", "empty input: no header row")
	}
	if err != nil {
		return nil, E(KindSchema, "read header", err)
	}
	if dups := DuplicateHeaders(header); len(dups) > 0 {
		logger.Error("duplicate columns in header", "columns", dups)
		return nil, Errorf(KindSchema, "validate", "duplicate columns: %s", strings.Join(dups, ", "))
	}
	idx := MakeHeaderIndex(header)

	for name := range idx {
		if _, ok := v.schema.Field(name); !ok {
			logger.Debug("ignoring column not in schema", "column", name)
		}
	}

	type slot struct {
		field int
		pos   int
	}
	var present []slot
	columns := make([]Column, len(v.schema.Fields))
	for i, f := range v.schema.Fields {
		columns[i] = Column{Name: f.Name, Type: f.Type}
		if pos, ok := idx[f.Name]; ok {
			present = append(present, slot{field: i, pos: pos})
		}
	}

	rows := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, E(KindSchema, "parse csv", err)
		}
		rows++

		for _, s := range present {
			spec := v.schema.Fields[s.field]
			raw := record[s.pos]
			val, err := ParseCell(raw, spec)
			if err != nil {
				return nil, E(KindSchema, "validate", &CellError{
					Row:    rows,
					Column: spec.Name,
					Value:  raw,
					Type:   spec.Type,
					Err:    err,
				})
			}
			columns[s.field].Values = append(columns[s.field].Values, val)
		}
	}

	var missing []string
	for i, f := range v.schema.Fields {
		if _, ok := idx[f.Name]; !ok {
			logger.Error("missing column", "column", f.Name)
			missing = append(missing, f.Name)
			continue
		}
		if columns[i].NullCount() == rows {
			logger.Error("column entirely empty", "column", f.Name)
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return nil, Errorf(KindSchema, "validate", "missing columns: %s", strings.Join(missing, ", "))
	}

	ds := &Dataset{Schema: v.schema.Key, Columns: columns, Rows: rows}

	for _, rule := range v.schema.Rules {
		if rerr := rule.Apply(ds); rerr != nil {
			logger.Error("domain rule failed",
				"column", rule.Column,
				"violations", len(rerr.Violations),
			)
			return nil, E(KindValidation, "validate", rerr)
		}
	}

	logger.Info("validation completed",
		"rows", rows,
		"columns", len(columns),
		"bytes", counter.BytesRead(),
	)
	return ds, nil
}
