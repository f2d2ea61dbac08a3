package core

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Violation is a single cell that failed a Rule.
type Violation struct {
	Row   int    // 1-based data row number
	Value string // Offending value as written in the dataset
}

// Rule is a predicate over one column plus a human-readable rejection reason.
// Null cells never violate a rule.
type Rule struct {
	Column string
	Reason string
	// Distinct reports offending values once each instead of row by row.
	Distinct bool
	Check    func(c *Column) []Violation
}

// RuleError reports every violation of one rule.
type RuleError struct {
	Rule       Rule
	Violations []Violation
}

func (e *RuleError) Error() string {
	if e.Rule.Distinct {
		seen := make(map[string]bool)
		var values []string
		for _, v := range e.Violations {
			if !seen[v.Value] {
				seen[v.Value] = true
				values = append(values, v.Value)
			}
		}
		return fmt.Sprintf("%s: %s", e.Rule.Reason, strings.Join(values, ", "))
	}

	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("row %d: %q", v.Row, v.Value)
	}
	return fmt.Sprintf("%s: %s", e.Rule.Reason, strings.Join(parts, "; "))
}

// Apply evaluates the rule against ds.
// Returns nil if the column passes or is absent from the dataset.
func (r Rule) Apply(ds *Dataset) *RuleError {
	col := ds.Column(r.Column)
	if col == nil {
		return nil
	}
	if v := r.Check(col); len(v) > 0 {
		return &RuleError{Rule: r, Violations: v}
	}
	return nil
}

// AllowedIntegers returns a rule confining an integer column to the given values.
func AllowedIntegers(column string, allowed ...int64) Rule {
	return Rule{
		Column:   column,
		Reason:   fmt.Sprintf("invalid values found in %s column", column),
		Distinct: true,
		Check: func(c *Column) []Violation {
			var out []Violation
			for i, v := range c.Values {
				n, ok := toInt64(v)
				if !ok {
					continue
				}
				if !slices.Contains(allowed, n) {
					out = append(out, Violation{Row: i + 1, Value: strconv.FormatInt(n, 10)})
				}
			}
			return out
		},
	}
}

// MatchesPattern returns a rule requiring every text cell of column to match re.
func MatchesPattern(column string, re *regexp.Regexp, reason string) Rule {
	return MatchesPatternAfter(column, re, reason, nil)
}

// MatchesPatternAfter is MatchesPattern with prepare applied to each cell
// before matching. The dataset keeps the cell as written; violations report
// the prepared value.
func MatchesPatternAfter(column string, re *regexp.Regexp, reason string, prepare func(string) string) Rule {
	return Rule{
		Column: column,
		Reason: reason,
		Check: func(c *Column) []Violation {
			var out []Violation
			for i, v := range c.Values {
				s, ok := v.(string)
				if !ok {
					continue
				}
				if prepare != nil {
					s = prepare(s)
				}
				if !re.MatchString(s) {
					out = append(out, Violation{Row: i + 1, Value: s})
				}
			}
			return out
		},
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int8:
		return int64(n), true
	default:
		return 0, false
	}
}
