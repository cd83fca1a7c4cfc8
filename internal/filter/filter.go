// Package filter implements the metadata filter grammar of spec §4.3/§4.7:
// a field maps either to a scalar (implicit equality) or to an operator
// object (`$gte`, `$lte`, `$gt`, `$lt`, `$in`, `$nin`, `$ne`). Filters are
// evaluated client-side against a document's full decoded metadata, after
// any cheaper membership pre-filter (e.g. tracker.QueryByFilters' set
// intersection on indexed fields) has already narrowed the candidate set.
package filter

import (
	"fmt"
	"strconv"

	"github.com/lifearchivist/core/internal/archerr"
)

// Filters is a decoded filter map as accepted by SearchService and
// index.search: field name -> either a bare value (equality) or an
// operator object like {"$gte": 10}.
type Filters map[string]any

// Matches reports whether metadata satisfies every field in f. An empty or
// nil f always matches.
func Matches(metadata map[string]any, f Filters) bool {
	for field, want := range f {
		if !matchesField(metadata[field], want) {
			return false
		}
	}
	return true
}

func matchesField(got, want any) bool {
	ops, ok := want.(map[string]any)
	if !ok {
		return equal(got, want)
	}

	for op, operand := range ops {
		if !matchesOperator(got, op, operand) {
			return false
		}
	}
	return true
}

func matchesOperator(got any, op string, operand any) bool {
	switch op {
	case "$ne":
		return !equal(got, operand)
	case "$in":
		return containsAny(operand, got)
	case "$nin":
		return !containsAny(operand, got)
	case "$gt", "$gte", "$lt", "$lte":
		return compareNumeric(got, operand, op)
	default:
		return false
	}
}

// equal compares two decoded JSON scalars loosely: numbers compare
// numerically regardless of float/int representation, everything else
// compares by fmt.Sprint.
func equal(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func containsAny(list any, value any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if equal(item, value) {
			return true
		}
	}
	return false
}

func compareNumeric(got, operand any, op string) bool {
	gf, ok := asFloat(got)
	if !ok {
		return false
	}
	of, ok := asFloat(operand)
	if !ok {
		return false
	}
	switch op {
	case "$gt":
		return gf > of
	case "$gte":
		return gf >= of
	case "$lt":
		return gf < of
	case "$lte":
		return gf <= of
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// EqualityOnly extracts the subset of f whose values are bare scalars (not
// operator objects), stringified for use as a Redis indexed-field
// pre-filter (tracker.QueryByFilters). Operator filters are dropped here;
// the caller must still apply f in full via Matches against each
// candidate's full metadata.
func EqualityOnly(f Filters) map[string]string {
	out := make(map[string]string, len(f))
	for field, want := range f {
		if _, isOperator := want.(map[string]any); isOperator {
			continue
		}
		out[field] = fmt.Sprint(want)
	}
	return out
}

// Validate rejects unknown operator keys, per spec §7's ValidationError on
// "unknown operator".
func Validate(f Filters) error {
	for field, want := range f {
		ops, ok := want.(map[string]any)
		if !ok {
			continue
		}
		for op := range ops {
			switch op {
			case "$gte", "$lte", "$gt", "$lt", "$in", "$nin", "$ne":
			default:
				return archerr.New(archerr.CodeValidationOperator,
					fmt.Sprintf("unknown filter operator %q on field %q", op, field), nil)
			}
		}
	}
	return nil
}
