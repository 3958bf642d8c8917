package storage

import (
	"context"

	"github.com/khushal/pgstore/internal/record"
)

// Backend is the storage surface domain packages program against. The
// Postgres store and the in-memory store both satisfy it, so callers can
// run without a database in tests and local tooling.
type Backend[T any, P record.Ptr[T]] interface {
	Insert(ctx context.Context, rec P) (string, error)
	BulkInsert(ctx context.Context, recs []P) error
	Get(ctx context.Context, filters record.Fields) (P, error)
	GetAll(ctx context.Context, opts ListOptions) ([]P, error)
	GetAllPaginate(ctx context.Context, opts PageOptions) ([]P, string, error)
	Count(ctx context.Context, filters record.Fields) (int64, error)
	Update(ctx context.Context, in UpdateInput) error
	Delete(ctx context.Context, filters record.Fields, additional []record.AdditionalFilter) (int64, error)
}

// NewBackend returns a Postgres-backed store when a pool is configured and
// an in-memory store otherwise.
func NewBackend[T any, P record.Ptr[T]](pool *Pool, table string) Backend[T, P] {
	if pool == nil {
		return NewMemoryStore[T, P]()
	}
	return NewStore[T, P](pool, table)
}
