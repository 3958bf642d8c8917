package storage

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/khushal/pgstore/internal/record"
	"github.com/khushal/pgstore/internal/sqlgen"
)

// MemoryStore is a map-backed Backend for tests and database-less runs.
// It mirrors the Postgres store's semantics: generated metadata, filter
// matching including document paths, cursor pagination, and the same
// update-compiler validation rules.
type MemoryStore[T any, P record.Ptr[T]] struct {
	mu   sync.RWMutex
	rows map[string]record.Fields
}

func NewMemoryStore[T any, P record.Ptr[T]]() *MemoryStore[T, P] {
	return &MemoryStore[T, P]{rows: make(map[string]record.Fields)}
}

func (m *MemoryStore[T, P]) Insert(ctx context.Context, rec P) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(rec)
}

func (m *MemoryStore[T, P]) BulkInsert(ctx context.Context, recs []P) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		if _, err := m.insertLocked(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore[T, P]) insertLocked(rec P) (string, error) {
	fields := withGeneratedMeta(rec.ToFields(), time.Now().UTC())
	id, _ := fields[record.FieldID].(string)
	m.rows[id] = cloneFields(fields)
	return id, nil
}

func (m *MemoryStore[T, P]) Get(ctx context.Context, filters record.Fields) (P, error) {
	recs, err := m.GetAll(ctx, ListOptions{Filters: filters, Limit: 2})
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		return recs[0], nil
	default:
		return nil, record.Validationf("get", "filters matched more than one record")
	}
}

func (m *MemoryStore[T, P]) GetAll(ctx context.Context, opts ListOptions) ([]P, error) {
	raw, err := m.getAllRaw(opts)
	if err != nil {
		return nil, err
	}
	recs := make([]P, len(raw))
	for i, row := range raw {
		rec := P(new(T))
		if err := rec.FromFields(row); err != nil {
			return nil, fmt.Errorf("deserialize record: %w", err)
		}
		recs[i] = rec
	}
	return recs, nil
}

func (m *MemoryStore[T, P]) GetAllPaginate(ctx context.Context, opts PageOptions) ([]P, string, error) {
	if len(opts.Additional) > 0 {
		return nil, "", record.Validationf("paginate", "additional filters are not supported by the memory store")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var bound any
	switch opts.Field {
	case record.FieldCreatedTS:
		if opts.Token != "" {
			ts, err := sqlgen.DecodeTimeToken(opts.Token)
			if err != nil {
				return nil, "", record.Validationf("paginate", "invalid pagination token: %v", err)
			}
			bound = ts
		}
	case record.FieldID:
		if opts.Token != "" {
			id, err := sqlgen.DecodeIDToken(opts.Token)
			if err != nil {
				return nil, "", record.Validationf("paginate", "invalid pagination token: %v", err)
			}
			bound = id
		}
	default:
		return nil, "", record.Validationf("paginate", "unsupported pagination field %q", opts.Field)
	}

	// The bound must filter before the limit applies, otherwise later
	// pages would re-select the same leading rows and come back empty.
	raw, err := m.pageRaw(ListOptions{
		Filters:  opts.Filters,
		OrderBy:  opts.Field,
		OrderAsc: opts.OrderAsc,
		Limit:    limit,
	}, bound)
	if err != nil {
		return nil, "", err
	}

	recs := make([]P, len(raw))
	for i, row := range raw {
		rec := P(new(T))
		if err := rec.FromFields(row); err != nil {
			return nil, "", fmt.Errorf("deserialize record: %w", err)
		}
		recs[i] = rec
	}
	if len(raw) < limit {
		return recs, "", nil
	}

	last := raw[len(raw)-1]
	if opts.Field == record.FieldCreatedTS {
		ts, _ := last[record.FieldCreatedTS].(time.Time)
		return recs, sqlgen.EncodeTimeToken(ts), nil
	}
	id, _ := last[record.FieldID].(string)
	return recs, sqlgen.EncodeIDToken(id), nil
}

func (m *MemoryStore[T, P]) Count(ctx context.Context, filters record.Fields) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, row := range m.rows {
		ok, err := matchesFilters(row, filters)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore[T, P]) Update(ctx context.Context, in UpdateInput) error {
	if len(in.Filters) == 0 && len(in.Additional) == 0 {
		return record.Validationf("update", "no filters specified for update")
	}
	if len(in.Updates) == 0 {
		return record.Validationf("update", "no updates specified for update")
	}
	if len(in.Additional) > 0 {
		return record.Validationf("update", "additional filters are not supported by the memory store")
	}
	// Run the compiler for validation parity with the SQL path before
	// touching any row.
	if _, _, err := sqlgen.BuildUpdate(in.Updates); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, row := range m.rows {
		ok, err := matchesFilters(row, in.Filters)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for key, value := range in.Updates {
			if err := applyUpdate(row, key, value); err != nil {
				return err
			}
		}
		row[record.FieldLastUpdatedTS] = now
		m.rows[id] = row
	}
	return nil
}

func (m *MemoryStore[T, P]) Delete(ctx context.Context, filters record.Fields, additional []record.AdditionalFilter) (int64, error) {
	if len(filters) == 0 && len(additional) == 0 {
		return 0, record.Validationf("delete", "refusing unfiltered delete")
	}
	if len(additional) > 0 {
		return 0, record.Validationf("delete", "additional filters are not supported by the memory store")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, row := range m.rows {
		ok, err := matchesFilters(row, filters)
		if err != nil {
			return 0, err
		}
		if ok {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore[T, P]) getAllRaw(opts ListOptions) ([]record.Fields, error) {
	return m.pageRaw(opts, nil)
}

// pageRaw selects, orders, and limits matching rows. A non-nil bound
// additionally restricts rows to those strictly below it on the order
// field, which is how pagination tokens translate in memory.
func (m *MemoryStore[T, P]) pageRaw(opts ListOptions, bound any) ([]record.Fields, error) {
	if len(opts.Additional) > 0 {
		return nil, record.Validationf("get_all", "additional filters are not supported by the memory store")
	}
	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = record.FieldID
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	m.mu.RLock()
	var out []record.Fields
	for _, row := range m.rows {
		ok, err := matchesFilters(row, opts.Filters)
		if err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		if ok && (bound == nil || compareValues(row[orderBy], bound) < 0) {
			out = append(out, cloneFields(row))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		c := compareValues(out[i][orderBy], out[j][orderBy])
		if opts.OrderAsc {
			return c < 0
		}
		return c > 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// matchesFilters applies the same matching rules the filter compiler
// lowers to SQL: nil means the value is absent, sequences mean membership,
// and colon paths navigate nested documents.
func matchesFilters(row record.Fields, filters record.Fields) (bool, error) {
	for key, want := range filters {
		got, found := valueAt(row, key)
		switch {
		case want == nil:
			if found && got != nil {
				return false, nil
			}
		case isSequenceValue(want):
			elems := reflect.ValueOf(want)
			if elems.Len() == 0 {
				return false, record.Validationf("filter", "empty sequence for field %q", key)
			}
			matched := false
			for i := 0; i < elems.Len(); i++ {
				if equalValues(got, elems.Index(i).Interface()) {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
		default:
			if !found || !equalValues(got, want) {
				return false, nil
			}
		}
	}
	return true, nil
}

// valueAt resolves a possibly path-qualified filter key against a row.
func valueAt(row record.Fields, key string) (any, bool) {
	column, path, hasPath := strings.Cut(key, sqlgen.PathSeparator)
	value, ok := row[column]
	if !ok {
		return nil, false
	}
	if !hasPath {
		return value, true
	}
	for _, step := range strings.Split(path, ".") {
		doc, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = doc[step]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

func applyUpdate(row record.Fields, key string, value any) error {
	appendMode := strings.HasSuffix(key, sqlgen.AppendSuffix)
	key = strings.TrimSuffix(key, sqlgen.AppendSuffix)
	column, path, hasPath := strings.Cut(key, sqlgen.PathSeparator)
	if !hasPath {
		row[column] = cloneValue(value)
		return nil
	}

	doc, ok := row[column].(map[string]any)
	if !ok {
		doc = make(map[string]any)
		row[column] = doc
	}
	steps := strings.Split(path, ".")
	for _, step := range steps[:len(steps)-1] {
		next, ok := doc[step].(map[string]any)
		if !ok {
			next = make(map[string]any)
			doc[step] = next
		}
		doc = next
	}
	leaf := steps[len(steps)-1]
	if appendMode {
		doc[leaf] = concatValue(doc[leaf], cloneValue(value))
		return nil
	}
	doc[leaf] = cloneValue(value)
	return nil
}

func cloneValue(v any) any {
	if doc, ok := v.(map[string]any); ok {
		return cloneDoc(doc)
	}
	if seq, ok := v.([]any); ok {
		return slices.Clone(seq)
	}
	return v
}

// concatValue mirrors jsonb concatenation: objects merge key-wise, arrays
// append, and anything else replaces.
func concatValue(existing, value any) any {
	if cur, ok := existing.(map[string]any); ok {
		if add, ok := value.(map[string]any); ok {
			merged := cloneDoc(cur)
			for k, v := range add {
				merged[k] = v
			}
			return merged
		}
	}
	if cur, ok := existing.([]any); ok {
		if add, ok := value.([]any); ok {
			return append(slices.Clone(cur), add...)
		}
		return append(slices.Clone(cur), value)
	}
	return value
}

func equalValues(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		return at.Equal(bt)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compareValues(a, b any) int {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		return at.Compare(bt)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func isSequenceValue(v any) bool {
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// cloneFields copies a row deeply enough that callers cannot mutate
// stored documents through returned values.
func cloneFields(fields record.Fields) record.Fields {
	out := make(record.Fields, len(fields))
	for k, v := range fields {
		if doc, ok := v.(map[string]any); ok {
			out[k] = cloneDoc(doc)
			continue
		}
		if seq, ok := v.([]any); ok {
			out[k] = slices.Clone(seq)
			continue
		}
		out[k] = v
	}
	return out
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneDoc(nested)
			continue
		}
		if seq, ok := v.([]any); ok {
			out[k] = slices.Clone(seq)
			continue
		}
		out[k] = v
	}
	return out
}
