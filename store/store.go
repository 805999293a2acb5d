// Package store defines the persistence context the unit of work wraps: a
// versioned record store with transactions and optimistic concurrency.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrNoTransaction = errors.New("no transaction in context")
	ErrTxDone        = errors.New("transaction already committed or rolled back")
	ErrClosed        = errors.New("store is closed")
)

// Record is one stored entity. Version is the concurrency token: it starts at
// 1 for a new record and increments on every write.
type Record struct {
	Collection string
	ID         string
	Version    uint64
	Data       []byte
}

// Reader reads committed state, or the state visible inside a transaction.
type Reader interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Record, error)

	// Scan returns every record of the collection ordered by ID.
	Scan(ctx context.Context, collection string) ([]Record, error)
}

// Tx is a transaction with exclusive write access to its own changes until
// Commit or Rollback releases it.
//
// Implementations must guarantee:
//   - Put and Delete check rec.Version against the version visible to the
//     transaction and fail with *pipeline.PersistenceConflictError on mismatch.
//   - Commit re-checks every written version against committed state and
//     applies all writes or none.
//   - After Commit or Rollback, every call fails with ErrTxDone.
type Tx interface {
	Reader

	// Put writes rec. rec.Version must equal the current version (0 when the
	// record must not exist yet). It returns the record as written.
	Put(ctx context.Context, rec Record) (Record, error)

	// Delete removes the record at the given version.
	Delete(ctx context.Context, collection, id string, version uint64) error

	Commit(ctx context.Context) error
	Rollback() error
}

// Store is a transactional record store.
type Store interface {
	Reader

	// Begin opens a transaction. Cancelling ctx does not end the transaction;
	// the caller decides between Commit and Rollback.
	Begin(ctx context.Context) (Tx, error)

	// Close releases any resources held by the Store.
	//
	// Implementations should make Close idempotent.
	Close() error
}

type ctxKey string

const txKey ctxKey = "tx"

// WithTx makes tx the ambient transaction of ctx.
func WithTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFromContext returns the ambient transaction, if any.
func TxFromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey).(Tx)
	return tx, ok && tx != nil
}
