package storage

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/khushal/pgstore/internal/record"
)

const maxAttempts = 3

// retrySleeps is the candidate backoff pool; each retry sleeps for one
// randomly chosen duration. Swapped out in tests.
var retrySleeps = []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}

// Store binds a record type to a table through a shared pool. All
// operations acquire a connection per call, retry transient connection
// failures, and run multi-statement work inside a transaction.
type Store[T any, P record.Ptr[T]] struct {
	pool *Pool
	exec *Executor[T, P]
}

// NewStore creates a store over pool's schema-qualified table.
func NewStore[T any, P record.Ptr[T]](pool *Pool, table string) *Store[T, P] {
	return &Store[T, P]{
		pool: pool,
		exec: NewExecutor[T, P](pool.TableName(table)),
	}
}

// Insert writes one record and returns its id.
func (s *Store[T, P]) Insert(ctx context.Context, rec P) (string, error) {
	return withRetry(ctx, func(ctx context.Context) (string, error) {
		return withConn(ctx, s.pool, func(ctx context.Context, db DBTX) (string, error) {
			return s.exec.Insert(ctx, db, rec)
		})
	})
}

// BulkInsert writes many records atomically.
func (s *Store[T, P]) BulkInsert(ctx context.Context, recs []P) error {
	_, err := withRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return withTx(ctx, s.pool, func(ctx context.Context, db DBTX) (struct{}, error) {
			return struct{}{}, s.exec.BulkInsert(ctx, db, recs)
		})
	})
	return err
}

// Get returns the single record matching the filters, nil when no row
// matches, and a validation error when the filters are not selective
// enough to identify one row.
func (s *Store[T, P]) Get(ctx context.Context, filters record.Fields) (P, error) {
	recs, err := s.GetAll(ctx, ListOptions{Filters: filters, Limit: 2})
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

// GetAll returns typed records matching the options.
func (s *Store[T, P]) GetAll(ctx context.Context, opts ListOptions) ([]P, error) {
	return withRetry(ctx, func(ctx context.Context) ([]P, error) {
		return withConn(ctx, s.pool, func(ctx context.Context, db DBTX) ([]P, error) {
			return s.exec.GetAll(ctx, db, opts)
		})
	})
}

// GetAllRaw returns raw field maps matching the options.
func (s *Store[T, P]) GetAllRaw(ctx context.Context, opts ListOptions) ([]record.Fields, error) {
	return withRetry(ctx, func(ctx context.Context) ([]record.Fields, error) {
		return withConn(ctx, s.pool, func(ctx context.Context, db DBTX) ([]record.Fields, error) {
			return s.exec.GetAllRaw(ctx, db, opts)
		})
	})
}

type page[P any] struct {
	recs []P
	next string
}

// GetAllPaginate returns one page of typed records plus the token for the
// next page, empty when the results are exhausted.
func (s *Store[T, P]) GetAllPaginate(ctx context.Context, opts PageOptions) ([]P, string, error) {
	p, err := withRetry(ctx, func(ctx context.Context) (page[P], error) {
		return withConn(ctx, s.pool, func(ctx context.Context, db DBTX) (page[P], error) {
			recs, next, err := s.exec.GetAllPaginate(ctx, db, opts)
			return page[P]{recs: recs, next: next}, err
		})
	})
	return p.recs, p.next, err
}

// GetAllRawPaginate is the raw variant of GetAllPaginate.
func (s *Store[T, P]) GetAllRawPaginate(ctx context.Context, opts PageOptions) ([]record.Fields, string, error) {
	p, err := withRetry(ctx, func(ctx context.Context) (page[record.Fields], error) {
		return withConn(ctx, s.pool, func(ctx context.Context, db DBTX) (page[record.Fields], error) {
			raw, next, err := s.exec.GetAllRawPaginate(ctx, db, opts)
			return page[record.Fields]{recs: raw, next: next}, err
		})
	})
	return p.recs, p.next, err
}

// Update applies one update request.
func (s *Store[T, P]) Update(ctx context.Context, in UpdateInput) error {
	_, err := withRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return withConn(ctx, s.pool, func(ctx context.Context, db DBTX) (struct{}, error) {
			return struct{}{}, s.exec.Update(ctx, db, in)
		})
	})
	return err
}

// BulkUpdate applies a batch of same-shaped update requests atomically.
func (s *Store[T, P]) BulkUpdate(ctx context.Context, inputs []UpdateInput) error {
	_, err := withRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return withTx(ctx, s.pool, func(ctx context.Context, db DBTX) (struct{}, error) {
			return struct{}{}, s.exec.BulkUpdate(ctx, db, inputs)
		})
	})
	return err
}

// Delete removes matching rows and returns the affected count.
func (s *Store[T, P]) Delete(ctx context.Context, filters record.Fields, additional []record.AdditionalFilter) (int64, error) {
	return withRetry(ctx, func(ctx context.Context) (int64, error) {
		return withConn(ctx, s.pool, func(ctx context.Context, db DBTX) (int64, error) {
			return s.exec.Delete(ctx, db, filters, additional)
		})
	})
}

// Count returns the number of matching rows.
func (s *Store[T, P]) Count(ctx context.Context, filters record.Fields) (int64, error) {
	return withRetry(ctx, func(ctx context.Context) (int64, error) {
		return withConn(ctx, s.pool, func(ctx context.Context, db DBTX) (int64, error) {
			return s.exec.Count(ctx, db, filters)
		})
	})
}

// RawQuery executes an arbitrary statement against the store's pool.
func (s *Store[T, P]) RawQuery(ctx context.Context, sql string, args ...any) ([]record.Fields, error) {
	return withRetry(ctx, func(ctx context.Context) ([]record.Fields, error) {
		return withConn(ctx, s.pool, func(ctx context.Context, db DBTX) ([]record.Fields, error) {
			return s.exec.RawQuery(ctx, db, sql, args...)
		})
	})
}

// withRetry runs fn up to maxAttempts times, sleeping a random backoff
// between attempts. Only connection failures are considered transient;
// anything else, validation errors included, is terminal.
func withRetry[R any](ctx context.Context, fn func(context.Context) (R, error)) (R, error) {
	var zero R
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if !record.IsConnectionFailure(err) {
			return zero, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		sleep := retrySleeps[rand.IntN(len(retrySleeps))]
		slog.Warn("storage operation failed, retrying",
			"attempt", attempt, "backoff", sleep, "error", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return zero, fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

// withConn acquires a pooled connection for the duration of fn.
func withConn[R any](ctx context.Context, pool *Pool, fn func(context.Context, DBTX) (R, error)) (R, error) {
	var zero R
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer conn.Release()
	return fn(ctx, conn)
}

// withTx runs fn inside a transaction, rolling back on error.
func withTx[R any](ctx context.Context, pool *Pool, fn func(context.Context, DBTX) (R, error)) (R, error) {
	var zero R
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return zero, fmt.Errorf("begin transaction: %w", err)
	}
	res, err := fn(ctx, tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("commit transaction: %w", err)
	}
	return res, nil
}
