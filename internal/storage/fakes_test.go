package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/khushal/pgstore/internal/record"
)

// fakeDB implements DBTX, recording statements and serving canned result
// sets so executor behavior can be exercised without a server.
type fakeDB struct {
	// Recorded calls.
	execSQL  []string
	execArgs []map[string]any
	querySQL []string
	batches  []int // queued statement count per SendBatch

	// Canned responses. results is consumed one entry per Query call; the
	// last entry repeats once exhausted.
	results  [][]record.Fields
	rowValue any
	execTag  pgconn.CommandTag
	err      error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, namedArgs(args))
	return f.execTag, f.err
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.querySQL = append(f.querySQL, sql)
	if f.err != nil {
		return nil, f.err
	}
	var rows []record.Fields
	if len(f.results) > 0 {
		rows = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	return newFakeRows(rows), nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.querySQL = append(f.querySQL, sql)
	f.execArgs = append(f.execArgs, namedArgs(args))
	return &fakeRow{value: f.rowValue, err: f.err}
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batches = append(f.batches, b.Len())
	return &fakeBatchResults{n: b.Len(), tag: f.execTag, err: f.err}
}

func namedArgs(args []any) map[string]any {
	if len(args) == 1 {
		if na, ok := args[0].(pgx.NamedArgs); ok {
			return na
		}
	}
	return nil
}

type fakeRow struct {
	value any
	err   error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return fmt.Errorf("fake row supports exactly one column, got %d", len(dest))
	}
	switch d := dest[0].(type) {
	case *string:
		*d = r.value.(string)
	case *int64:
		*d = r.value.(int64)
	case *bool:
		*d = r.value.(bool)
	default:
		return fmt.Errorf("fake row cannot scan into %T", dest[0])
	}
	return nil
}

// fakeRows serves a fixed result set through the pgx.Rows surface. Column
// order follows the first row's iteration order captured once up front so
// FieldDescriptions and Values stay aligned.
type fakeRows struct {
	cols []string
	rows []record.Fields
	idx  int
}

func newFakeRows(rows []record.Fields) *fakeRows {
	var cols []string
	if len(rows) > 0 {
		for col := range rows[0] {
			cols = append(cols, col)
		}
	}
	return &fakeRows{cols: cols, rows: rows, idx: -1}
}

func (r *fakeRows) Close()                        {}
func (r *fakeRows) Err() error                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) Conn() *pgx.Conn               { return nil }
func (r *fakeRows) RawValues() [][]byte           { return nil }
func (r *fakeRows) Scan(dest ...any) error        { return fmt.Errorf("not implemented") }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	descs := make([]pgconn.FieldDescription, len(r.cols))
	for i, col := range r.cols {
		descs[i] = pgconn.FieldDescription{Name: col}
	}
	return descs
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeRows) Values() ([]any, error) {
	row := r.rows[r.idx]
	values := make([]any, len(r.cols))
	for i, col := range r.cols {
		values[i] = row[col]
	}
	return values, nil
}

type fakeBatchResults struct {
	n   int
	tag pgconn.CommandTag
	err error
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) { return b.tag, b.err }
func (b *fakeBatchResults) Query() (pgx.Rows, error)         { return nil, fmt.Errorf("not implemented") }
func (b *fakeBatchResults) QueryRow() pgx.Row {
	return &fakeRow{err: fmt.Errorf("not implemented")}
}
func (b *fakeBatchResults) Close() error { return nil }

// note is the record type the storage tests run against.
type note struct {
	record.Meta

	Title   string
	Details map[string]any
}

func (n *note) ToFields() record.Fields {
	fields := n.MetaFields()
	fields["title"] = n.Title
	fields["details"] = n.Details
	return fields
}

func (n *note) FromFields(fields record.Fields) error {
	n.SetMetaFields(fields)
	n.Title, _ = fields["title"].(string)
	n.Details, _ = fields["details"].(map[string]any)
	return nil
}

func noteRows(n int, start time.Time) []record.Fields {
	rows := make([]record.Fields, n)
	for i := range rows {
		rows[i] = record.Fields{
			"id":              fmt.Sprintf("note-%03d", i),
			"created_ts":      start.Add(-time.Duration(i) * time.Minute),
			"last_updated_ts": start,
			"title":           fmt.Sprintf("title %d", i),
			"details":         map[string]any{"seq": i},
		}
	}
	return rows
}
