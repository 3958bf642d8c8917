// Package storage provides the generic relational storage layer: a
// schema-scoped Postgres connection pool, a statement executor that turns
// compiled filter/update fragments into full statements, and a typed
// generic store binding a record type to a table.
//
// Concurrency model: every store operation is a blocking call on the
// calling goroutine and acquires its own connection, so concurrent
// operations share no mutable state. Pool-level synchronization is
// delegated to pgxpool.
package storage
