package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/khushal/pgstore/internal/record"
	"github.com/khushal/pgstore/internal/sqlgen"
)

const (
	// DefaultLimit caps result sets when the caller does not supply one.
	DefaultLimit = 1000

	// maxRowsPerStatement bounds both the read window size and the number
	// of rows bound into one bulk statement.
	maxRowsPerStatement = 10000
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ListOptions describes a filtered, ordered, limited read.
type ListOptions struct {
	Filters    record.Fields
	Additional []record.AdditionalFilter
	Columns    []string
	OrderBy    string // defaults to id
	OrderAsc   bool
	Limit      int // <=0 means DefaultLimit
}

// PageOptions describes a cursor-paginated read keyed on one ordering
// field. Only created_ts and id are supported.
type PageOptions struct {
	Filters    record.Fields
	Additional []record.AdditionalFilter
	Columns    []string
	Token      string // empty for the first page
	Limit      int
	Field      string
	OrderAsc   bool
}

// UpdateInput describes one logical update request: the values to set and
// the rows to apply them to.
type UpdateInput struct {
	Updates    record.Fields
	Filters    record.Fields
	Additional []record.AdditionalFilter
}

// Executor turns compiled filter/update fragments plus a target table into
// executable statements, runs them against a DBTX, and shapes results. It
// holds no connection state; retry and transaction scope live in Store.
type Executor[T any, P record.Ptr[T]] struct {
	fqTable string
}

// NewExecutor binds an executor to a fully-qualified table name.
func NewExecutor[T any, P record.Ptr[T]](fqTable string) *Executor[T, P] {
	return &Executor[T, P]{fqTable: fqTable}
}

// Insert writes one record, assigning a generated id and timestamps when
// absent, and returns the id.
func (e *Executor[T, P]) Insert(ctx context.Context, db DBTX, rec P) (string, error) {
	fields := withGeneratedMeta(rec.ToFields(), time.Now().UTC())

	cols := sortedColumns(fields)
	placeholders := make([]string, len(cols))
	params := make(map[string]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "@" + col
		params[col] = bindFieldValue(fields[col])
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		e.fqTable, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	var id string
	if err := db.QueryRow(ctx, sql, pgx.NamedArgs(params)).Scan(&id); err != nil {
		return "", fmt.Errorf("insert into %s: %w", e.fqTable, err)
	}
	slog.Debug("inserted record", "table", e.fqTable, "id", id)
	return id, nil
}

// BulkInsert writes many records through one statement template, batch
// bound and executed in bounded-size chunks.
func (e *Executor[T, P]) BulkInsert(ctx context.Context, db DBTX, recs []P) error {
	if len(recs) == 0 {
		return nil
	}
	now := time.Now().UTC()

	payloads := make([]map[string]any, len(recs))
	var cols []string
	for i, rec := range recs {
		fields := withGeneratedMeta(rec.ToFields(), now)
		if cols == nil {
			cols = sortedColumns(fields)
		}
		payload := make(map[string]any, len(cols))
		for _, col := range cols {
			payload[col] = bindFieldValue(fields[col])
		}
		payloads[i] = payload
	}

	placeholders := make([]string, len(cols))
	for i, col := range cols {
		placeholders[i] = "@" + col
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		e.fqTable, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	for chunk := range slices.Chunk(payloads, maxRowsPerStatement) {
		if err := execBatch(ctx, db, sql, chunk); err != nil {
			return fmt.Errorf("bulk insert into %s: %w", e.fqTable, err)
		}
	}
	slog.Debug("bulk inserted records", "table", e.fqTable, "count", len(recs))
	return nil
}

// GetAll returns typed records matching the filters, mapped through the
// record type's deserializer.
func (e *Executor[T, P]) GetAll(ctx context.Context, db DBTX, opts ListOptions) ([]P, error) {
	raw, err := e.GetAllRaw(ctx, db, opts)
	if err != nil {
		return nil, err
	}
	return e.fromRawRows(raw)
}

// GetAllRaw returns raw field maps matching the filters. Large results are
// fetched in fixed-size windows, accumulating until the limit is satisfied
// or a short page signals exhaustion.
func (e *Executor[T, P]) GetAllRaw(ctx context.Context, db DBTX, opts ListOptions) ([]record.Fields, error) {
	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = record.FieldID
	}
	if !identPattern.MatchString(orderBy) {
		return nil, record.Validationf("get_all", "invalid order field %q", orderBy)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	filterClause, params, err := sqlgen.BuildFilter(opts.Filters, opts.Additional)
	if err != nil {
		return nil, err
	}

	columns := "*"
	if len(opts.Columns) > 0 {
		columns = strings.Join(opts.Columns, ", ")
	}
	direction := "DESC"
	if opts.OrderAsc {
		direction = "ASC"
	}

	var out []record.Fields
	offset := 0
	batch := min(maxRowsPerStatement, limit)
	for {
		sql := joinSQL(
			fmt.Sprintf("SELECT %s FROM %s", columns, e.fqTable),
			filterClause,
			fmt.Sprintf("ORDER BY %s %s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", orderBy, direction, offset, batch),
		)
		rows, err := db.Query(ctx, sql, pgx.NamedArgs(params))
		if err != nil {
			return nil, fmt.Errorf("select from %s: %w", e.fqTable, err)
		}
		fetched, err := scanRows(rows, &out)
		if err != nil {
			return nil, fmt.Errorf("select from %s: %w", e.fqTable, err)
		}
		if fetched < batch {
			break
		}
		offset += batch
		batch = min(batch, limit-len(out))
		if batch <= 0 {
			break
		}
	}
	slog.Debug("fetched rows", "table", e.fqTable, "count", len(out))
	return out, nil
}

// GetAllPaginate is the typed variant of GetAllRawPaginate.
func (e *Executor[T, P]) GetAllPaginate(ctx context.Context, db DBTX, opts PageOptions) ([]P, string, error) {
	raw, next, err := e.GetAllRawPaginate(ctx, db, opts)
	if err != nil {
		return nil, "", err
	}
	recs, err := e.fromRawRows(raw)
	if err != nil {
		return nil, "", err
	}
	return recs, next, nil
}

// GetAllRawPaginate reads one page keyed on the pagination field. An
// incoming token decodes to a strict exclusive bound added as an
// additional filter; a full page yields the next token derived from the
// last row, a short page yields an empty token.
func (e *Executor[T, P]) GetAllRawPaginate(ctx context.Context, db DBTX, opts PageOptions) ([]record.Fields, string, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	additional := opts.Additional
	switch opts.Field {
	case record.FieldCreatedTS:
		if opts.Token != "" {
			bound, err := sqlgen.DecodeTimeToken(opts.Token)
			if err != nil {
				return nil, "", record.Validationf("paginate", "invalid pagination token: %v", err)
			}
			additional = append(slices.Clone(additional), record.AdditionalFilter{
				Statement: record.FieldCreatedTS + " < @af_created_ts",
				Params:    map[string]any{"af_created_ts": bound},
			})
		}
	case record.FieldID:
		if opts.Token != "" {
			bound, err := sqlgen.DecodeIDToken(opts.Token)
			if err != nil {
				return nil, "", record.Validationf("paginate", "invalid pagination token: %v", err)
			}
			additional = append(slices.Clone(additional), record.AdditionalFilter{
				Statement: record.FieldID + " < @af_id",
				Params:    map[string]any{"af_id": bound},
			})
		}
	default:
		return nil, "", record.Validationf("paginate", "unsupported pagination field %q", opts.Field)
	}

	raw, err := e.GetAllRaw(ctx, db, ListOptions{
		Filters:    opts.Filters,
		Additional: additional,
		Columns:    opts.Columns,
		OrderBy:    opts.Field,
		OrderAsc:   opts.OrderAsc,
		Limit:      limit,
	})
	if err != nil {
		return nil, "", err
	}
	if len(raw) < limit {
		return raw, "", nil
	}

	last := raw[len(raw)-1]
	switch opts.Field {
	case record.FieldCreatedTS:
		ts, ok := last[record.FieldCreatedTS].(time.Time)
		if !ok {
			return nil, "", fmt.Errorf("paginate %s: created_ts missing from last page entry", e.fqTable)
		}
		return raw, sqlgen.EncodeTimeToken(ts), nil
	default:
		id, ok := last[record.FieldID].(string)
		if !ok {
			return nil, "", fmt.Errorf("paginate %s: id missing from last page entry", e.fqTable)
		}
		return raw, sqlgen.EncodeIDToken(id), nil
	}
}

// Update applies one update request. Every update implicitly refreshes
// last_updated_ts.
func (e *Executor[T, P]) Update(ctx context.Context, db DBTX, in UpdateInput) error {
	sql, params, err := e.buildUpdateStatement(in)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, sql, pgx.NamedArgs(params)); err != nil {
		return fmt.Errorf("update %s: %w", e.fqTable, err)
	}
	return nil
}

// BulkUpdate applies a batch of update requests that must all compile to
// the identical SQL template; only parameter values may differ. A mixed
// batch is caller misuse, not a partial-failure case.
func (e *Executor[T, P]) BulkUpdate(ctx context.Context, db DBTX, inputs []UpdateInput) error {
	if len(inputs) == 0 {
		return nil
	}
	var template string
	payloads := make([]map[string]any, len(inputs))
	for i, in := range inputs {
		sql, params, err := e.buildUpdateStatement(in)
		if err != nil {
			return err
		}
		if template == "" {
			template = sql
		} else if sql != template {
			return record.Validationf("bulk update", "mismatched statement templates in batch for %s", e.fqTable)
		}
		payloads[i] = params
	}
	if err := execBatch(ctx, db, template, payloads); err != nil {
		return fmt.Errorf("bulk update %s: %w", e.fqTable, err)
	}
	slog.Debug("bulk updated records", "table", e.fqTable, "count", len(inputs))
	return nil
}

// Delete removes rows matching the filters and returns the affected row
// count. An unfiltered delete is rejected to prevent full-table wipes.
func (e *Executor[T, P]) Delete(ctx context.Context, db DBTX, filters record.Fields, additional []record.AdditionalFilter) (int64, error) {
	if len(filters) == 0 && len(additional) == 0 {
		return 0, record.Validationf("delete", "refusing unfiltered delete on %s", e.fqTable)
	}
	filterClause, params, err := sqlgen.BuildFilter(filters, additional)
	if err != nil {
		return 0, err
	}
	sql := joinSQL("DELETE FROM "+e.fqTable, filterClause)
	tag, err := db.Exec(ctx, sql, pgx.NamedArgs(params))
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", e.fqTable, err)
	}
	slog.Debug("deleted records", "table", e.fqTable, "count", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// Count returns the number of rows matching the filters.
func (e *Executor[T, P]) Count(ctx context.Context, db DBTX, filters record.Fields) (int64, error) {
	filterClause, params, err := sqlgen.BuildFilter(filters, nil)
	if err != nil {
		return 0, err
	}
	sql := joinSQL("SELECT COUNT(*) FROM "+e.fqTable, filterClause)
	var n int64
	if err := db.QueryRow(ctx, sql, pgx.NamedArgs(params)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", e.fqTable, err)
	}
	return n, nil
}

// RawQuery executes an arbitrary statement, tolerating statements that
// return no result set.
func (e *Executor[T, P]) RawQuery(ctx context.Context, db DBTX, sql string, args ...any) ([]record.Fields, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	var out []record.Fields
	if _, err := scanRows(rows, &out); err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	return out, nil
}

func (e *Executor[T, P]) buildUpdateStatement(in UpdateInput) (string, map[string]any, error) {
	if len(in.Filters) == 0 && len(in.Additional) == 0 {
		return "", nil, record.Validationf("update", "no filters specified for update on %s", e.fqTable)
	}
	if len(in.Updates) == 0 {
		return "", nil, record.Validationf("update", "no updates specified for update on %s", e.fqTable)
	}

	updates := make(record.Fields, len(in.Updates)+1)
	for k, v := range in.Updates {
		updates[k] = v
	}
	updates[record.FieldLastUpdatedTS] = time.Now().UTC()

	filterClause, filterParams, err := sqlgen.BuildFilter(in.Filters, in.Additional)
	if err != nil {
		return "", nil, err
	}
	updateClause, updateParams, err := sqlgen.BuildUpdate(updates)
	if err != nil {
		return "", nil, err
	}

	sql := joinSQL("UPDATE "+e.fqTable, "SET "+updateClause, filterClause)
	params := make(map[string]any, len(filterParams)+len(updateParams))
	for k, v := range filterParams {
		params[k] = v
	}
	for k, v := range updateParams {
		params[k] = v
	}
	return sql, params, nil
}

func (e *Executor[T, P]) fromRawRows(raw []record.Fields) ([]P, error) {
	recs := make([]P, len(raw))
	for i, row := range raw {
		rec := P(new(T))
		if err := rec.FromFields(row); err != nil {
			return nil, fmt.Errorf("deserialize row from %s: %w", e.fqTable, err)
		}
		recs[i] = rec
	}
	return recs, nil
}

// withGeneratedMeta fills in a generated id and timestamps when the record
// did not supply them.
func withGeneratedMeta(fields record.Fields, now time.Time) record.Fields {
	if id, _ := fields[record.FieldID].(string); id == "" {
		fields[record.FieldID] = uuid.NewString()
	}
	if ts, ok := fields[record.FieldCreatedTS].(time.Time); !ok || ts.IsZero() {
		fields[record.FieldCreatedTS] = now
	}
	if ts, ok := fields[record.FieldLastUpdatedTS].(time.Time); !ok || ts.IsZero() {
		fields[record.FieldLastUpdatedTS] = now
	}
	return fields
}

// bindFieldValue serializes nested-document fields to their document
// encoding before binding.
func bindFieldValue(v any) any {
	if doc, ok := v.(map[string]any); ok {
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Sprint(doc)
		}
		return string(b)
	}
	return v
}

func sortedColumns(fields record.Fields) []string {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	slices.Sort(cols)
	return cols
}

// scanRows appends every row to out as a lowercased field map and returns
// the number of rows in this result set.
func scanRows(rows pgx.Rows, out *[]record.Fields) (int, error) {
	defer rows.Close()
	n := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return n, fmt.Errorf("read row: %w", err)
		}
		descs := rows.FieldDescriptions()
		row := make(record.Fields, len(descs))
		for i, desc := range descs {
			row[strings.ToLower(desc.Name)] = values[i]
		}
		*out = append(*out, row)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterate rows: %w", err)
	}
	return n, nil
}

// execBatch queues one statement per payload and executes them as a single
// round trip.
func execBatch(ctx context.Context, db DBTX, sql string, payloads []map[string]any) error {
	batch := &pgx.Batch{}
	for _, payload := range payloads {
		batch.Queue(sql, pgx.NamedArgs(payload))
	}
	results := db.SendBatch(ctx, batch)
	defer results.Close()
	for range payloads {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

// joinSQL assembles statement sections, skipping empty ones.
func joinSQL(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}
