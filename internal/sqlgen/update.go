package sqlgen

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/khushal/pgstore/internal/record"
)

// AppendSuffix on the final path segment of an update key marks
// array-append semantics instead of replace, e.g. "metadata:tags@append".
const AppendSuffix = "@append"

type updateMode int

const (
	modeNone updateMode = iota
	modeReplace
	modeAppend
)

// updateNode is one segment of an update-path tree. Only leaves carry a
// value and mode; internal nodes exist to express nested jsonb_set
// wrapping. The tree lives for a single statement build and is discarded
// once the SQL is synthesized.
type updateNode struct {
	path     []string // path[0] is the column name
	mode     updateMode
	value    any
	children []*updateNode
}

// BuildUpdate translates update entries keyed by "col", "col:a.b", or
// "col:a.b@append" into a SET clause and its named parameters.
//
// Entries are grouped by target column. A column with a single pathless
// entry degenerates to plain assignment; path-addressed entries build a
// node tree and synthesize nested jsonb_set merge expressions. Conflicting
// mode or value at the same path fails fast with a validation error before
// any SQL is produced.
func BuildUpdate(updates record.Fields) (string, map[string]any, error) {
	if len(updates) == 0 {
		return "", nil, record.Validationf("build update", "no updates specified")
	}

	grouped := make(map[string]map[string]any)
	for key, value := range updates {
		col, path, _ := strings.Cut(key, PathSeparator)
		if grouped[col] == nil {
			grouped[col] = make(map[string]any)
		}
		grouped[col][path] = value
	}

	cols := make([]string, 0, len(grouped))
	for col := range grouped {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	clauses := make([]string, 0, len(cols))
	params := make(map[string]any)
	for _, col := range cols {
		clause, colParams, err := buildColumnClause(col, grouped[col])
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		for name, value := range colParams {
			params[name] = value
		}
	}

	return strings.Join(clauses, ", "), params, nil
}

// buildColumnClause synthesizes the "col = expr" assignment for all update
// entries targeting one column.
func buildColumnClause(col string, pathToVal map[string]any) (string, map[string]any, error) {
	if value, ok := pathToVal[""]; ok {
		if len(pathToVal) > 1 {
			return "", nil, record.Validationf("build update", "column %q mixes a whole-column update with path updates", col)
		}
		leaf := &updateNode{path: []string{col}, mode: modeReplace, value: value}
		return col + " = " + leaf.sqlExpr(), leafParams(leaf), nil
	}

	root := &updateNode{path: []string{col}}
	paths := make([]string, 0, len(pathToVal))
	for p := range pathToVal {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := root.graft(path, pathToVal[path], pathToVal); err != nil {
			return "", nil, err
		}
	}

	params := make(map[string]any)
	collectParams(root, params)
	return col + " = " + root.sqlExpr(), params, nil
}

// graft walks one dotted path down the tree, creating nodes as needed and
// rejecting conflicting leaves.
func (n *updateNode) graft(path string, value any, all map[string]any) error {
	parts := strings.Split(path, ".")
	cur := n
	for i, part := range parts {
		key := part
		mode := modeNone
		var leafValue any
		if i == len(parts)-1 {
			mode = modeReplace
			if strings.HasSuffix(part, AppendSuffix) {
				key = strings.TrimSuffix(part, AppendSuffix)
				mode = modeAppend
			}
			leafValue = value
		}

		var next *updateNode
		for _, child := range cur.children {
			if child.path[len(child.path)-1] == key {
				if child.mode != mode || !reflect.DeepEqual(child.value, leafValue) {
					return record.Validationf("build update", "conflicting update path in %v", keysOf(all))
				}
				next = child
				break
			}
		}
		if next == nil {
			next = &updateNode{
				path:  append(append([]string{}, cur.path...), key),
				mode:  mode,
				value: leafValue,
			}
			cur.children = append(cur.children, next)
		}
		cur = next
	}
	return nil
}

// sqlExpr produces the jsonb merge expression for this node. A leaf is its
// placeholder; an internal node wraps each child back into a
// jsonb_set-at-path expression, recursively, until the root yields the
// full column expression.
func (n *updateNode) sqlExpr() string {
	if n.mode != modeNone {
		expr := "@" + paramName(n.path)
		if len(n.path) == 1 {
			if _, ok := n.value.(map[string]any); ok {
				expr += "::jsonb"
			}
		}
		return expr
	}

	obj := jsonPathExpr(n.path)
	for _, child := range n.children {
		key := child.path[len(child.path)-1]
		if child.mode == modeAppend {
			obj = fmt.Sprintf("jsonb_set(%s, '{%s}', (%s || %s::jsonb))",
				obj, key, jsonPathExpr(child.path), child.sqlExpr())
		} else {
			obj = fmt.Sprintf("jsonb_set(%s, '{%s}', %s::jsonb)",
				obj, key, child.sqlExpr())
		}
	}
	return obj
}

// collectParams walks the tree and binds every leaf's value. Path-addressed
// values are JSON-encoded so they splice into the document; a whole-column
// value binds raw unless it is itself a document.
func collectParams(n *updateNode, params map[string]any) {
	if n.mode != modeNone {
		params[paramName(n.path)] = encodeUpdateValue(n)
	}
	for _, child := range n.children {
		collectParams(child, params)
	}
}

func leafParams(n *updateNode) map[string]any {
	params := make(map[string]any, 1)
	collectParams(n, params)
	return params
}

func encodeUpdateValue(n *updateNode) any {
	_, isDoc := n.value.(map[string]any)
	if isDoc || len(n.path) > 1 {
		b, err := json.Marshal(n.value)
		if err != nil {
			return fmt.Sprint(n.value)
		}
		return string(b)
	}
	return n.value
}

// paramName derives the @-placeholder name for a node, prefixed u_ to keep
// update parameters out of the filter parameter namespace.
func paramName(path []string) string {
	var b strings.Builder
	b.WriteString("u")
	for _, part := range path {
		b.WriteString("_")
		b.WriteString(paramSanitizer.Replace(part))
	}
	return b.String()
}

// jsonPathExpr renders a node path as column->'a'->'b' navigation.
func jsonPathExpr(path []string) string {
	var b strings.Builder
	b.WriteString(path[0])
	for _, part := range path[1:] {
		fmt.Fprintf(&b, "->'%s'", part)
	}
	return b.String()
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
