package core

// convert.go turns raw CSV cells into typed values.
//
// Unlike a lenient importer, conversion here is strict: a cell that is not
// empty and does not parse under its column's type is an error, never a
// silent NULL. Empty cells are NULL for every type.

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeaderIndex maps column names to their position in the CSV row.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
// Names are trimmed of surrounding whitespace; matching is case-sensitive.
// When a name repeats, the first occurrence wins; callers that must reject
// repeats check DuplicateHeaders first.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.TrimSpace(h)
		if _, dup := idx[key]; dup {
			continue
		}
		idx[key] = i
	}
	return idx
}

// DuplicateHeaders returns each trimmed header name that appears more than
// once, in order of its second occurrence.
func DuplicateHeaders(header []string) []string {
	seen := make(map[string]int, len(header))
	var dups []string
	for _, h := range header {
		key := strings.TrimSpace(h)
		seen[key]++
		if seen[key] == 2 {
			dups = append(dups, key)
		}
	}
	return dups
}

// ParseCell converts a raw cell to the Go value for spec.Type.
// Returns (nil, nil) for an empty cell.
func ParseCell(raw string, spec FieldSpec) (any, error) {
	if spec.Type != FieldText {
		raw = strings.TrimSpace(raw)
	}
	if raw == "" {
		return nil, nil
	}
	if spec.Normalizer != nil {
		raw = spec.Normalizer(raw)
	}

	switch spec.Type {
	case FieldText:
		return raw, nil
	case FieldTimestamp:
		return ParseTimestamp(raw)
	case FieldDate:
		return ParseDate(raw)
	case FieldInt64:
		return strconv.ParseInt(raw, 10, 64)
	case FieldInt8:
		v, err := strconv.ParseInt(raw, 10, 8)
		if err != nil {
			return nil, err
		}
		return int8(v), nil
	case FieldFloat64:
		return strconv.ParseFloat(raw, 64)
	default:
		return nil, fmt.Errorf("unsupported field type %d", spec.Type)
	}
}

// ErrTimestampPrecision reports a timestamp finer than the microsecond
// resolution of the refined output.
var ErrTimestampPrecision = errors.New("timestamp has sub-microsecond precision")

// ParseTimestamp parses s under the ISO-8601 timestamp family without zone.
// The result is in UTC. Fractions beyond microseconds are rejected.
func ParseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range TimestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			if t.Nanosecond()%int(time.Microsecond) != 0 {
				return time.Time{}, ErrTimestampPrecision
			}
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// ParseDate parses an ISO-8601 calendar date (YYYY-MM-DD) in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatValue renders a typed cell value back to its CSV form.
// Used for error messages and test fixtures.
func FormatValue(v any, t FieldType) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		if t == FieldDate {
			return x.Format(DateLayout)
		}
		return x.Format(TimestampLayouts[0])
	case int64:
		return strconv.FormatInt(x, 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
