// Package sqlgen compiles structured filter and update descriptions into
// parameterized Postgres statement fragments.
//
// All values are parameterized with pgx named arguments (@name), never
// interpolated. Filter keys are emitted in sorted order so a given input
// always produces the same SQL template, which is what makes bulk updates
// (identical-template batches) and golden tests possible.
package sqlgen

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/khushal/pgstore/internal/record"
)

// PathSeparator splits a column name from a JSON path inside a filter or
// update key, e.g. "metadata:client.ip".
const PathSeparator = ":"

var paramSanitizer = strings.NewReplacer(PathSeparator, "_", ".", "_", "@", "_")

// BuildFilter translates structured equality/IN filters plus raw additional
// filters into a WHERE clause and its named parameters.
//
// A nil value compiles to IS NULL, a slice to IN with one parameter per
// element, anything else to equality. Keys of the form "col:a.b" address a
// JSON document path; equality on them navigates with -> and extracts the
// leaf as text with ->>.
//
// The returned clause includes the leading "WHERE" and is empty when there
// is nothing to filter on.
func BuildFilter(filters record.Fields, additional []record.AdditionalFilter) (string, map[string]any, error) {
	clauses := make([]string, 0, len(filters)+len(additional))
	params := make(map[string]any, len(filters))

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := filters[key]
		paramKey := paramSanitizer.Replace(key)
		navExpr, isJSONPath := jsonNavExpr(key)

		switch {
		case value == nil:
			clauses = append(clauses, navExpr+" IS NULL")

		case isSequence(value):
			elems := sequenceValues(value)
			if len(elems) == 0 {
				return "", nil, record.Validationf("build filter", "empty IN list for filter %q", key)
			}
			expr := navExpr
			placeholders := make([]string, len(elems))
			for i, elem := range elems {
				name := fmt.Sprintf("%s_%d", paramKey, i)
				if isJSONPath {
					expr = jsonTextExpr(key)
					params[name] = textValue(elem)
				} else {
					params[name] = elem
				}
				placeholders[i] = "@" + name
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", expr, strings.Join(placeholders, ", ")))

		default:
			expr := navExpr
			bound := value
			if isJSONPath {
				// Extract the leaf as text so the comparison is against the
				// parameter's text form regardless of the stored JSON type.
				expr = jsonTextExpr(key)
				bound = textValue(value)
			} else if doc, ok := documentValue(value); ok {
				bound = doc
			}
			params[paramKey] = bound
			clauses = append(clauses, fmt.Sprintf("%s = @%s", expr, paramKey))
		}
	}

	for _, af := range additional {
		clauses = append(clauses, af.Statement)
		for name, value := range af.Params {
			if _, dup := params[name]; dup {
				return "", nil, record.Validationf("build filter", "additional filter parameter %q collides with a structured filter parameter", name)
			}
			params[name] = value
		}
	}

	if len(clauses) == 0 {
		return "", params, nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), params, nil
}

// jsonNavExpr turns "col:a.b" into "col->'a'->'b'". Plain keys pass through
// unchanged with isJSONPath=false.
func jsonNavExpr(key string) (expr string, isJSONPath bool) {
	col, path, found := strings.Cut(key, PathSeparator)
	if !found {
		return key, false
	}
	var b strings.Builder
	b.WriteString(col)
	for _, part := range strings.Split(path, ".") {
		fmt.Fprintf(&b, "->'%s'", part)
	}
	return b.String(), true
}

// jsonTextExpr is jsonNavExpr with the final step extracting text (->>).
func jsonTextExpr(key string) string {
	col, path, _ := strings.Cut(key, PathSeparator)
	parts := strings.Split(path, ".")
	var b strings.Builder
	b.WriteString(col)
	for _, part := range parts[:len(parts)-1] {
		fmt.Fprintf(&b, "->'%s'", part)
	}
	fmt.Fprintf(&b, "->>'%s'", parts[len(parts)-1])
	return b.String()
}

// textValue renders a filter value in the text form Postgres produces for
// the corresponding JSON leaf.
func textValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// documentValue JSON-encodes nested-document values so they bind as a JSON
// literal against a jsonb column.
func documentValue(v any) (string, bool) {
	if _, ok := v.(map[string]any); !ok {
		return "", false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func isSequence(v any) bool {
	if _, ok := v.([]byte); ok {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
}

func sequenceValues(v any) []any {
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
