// Package sqlite implements store.Store on SQLite through database/sql and
// github.com/mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/terraskye/pipeline"
	"github.com/terraskye/pipeline/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	data       BLOB,
	PRIMARY KEY (collection, id)
);
CREATE TABLE IF NOT EXISTS tombstones (
	collection TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);`

type Store struct {
	db     *sql.DB
	owned  bool
	once   sync.Once
	closed chan struct{}
}

var _ store.Store = (*Store)(nil)

// Open opens the database at dsn and creates the schema if needed.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an existing handle. Close does not close db.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db, closed: make(chan struct{})}, nil
}

func (s *Store) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func get(ctx context.Context, q querier, collection, id string) (store.Record, error) {
	rec := store.Record{Collection: collection, ID: id}
	err := q.QueryRowContext(ctx,
		`SELECT version, data FROM records WHERE collection = ? AND id = ?`, collection, id).
		Scan(&rec.Version, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

func scan(ctx context.Context, q querier, collection string) ([]store.Record, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, version, data FROM records WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.Record, 0)
	for rows.Next() {
		rec := store.Record{Collection: collection}
		if err := rows.Scan(&rec.ID, &rec.Version, &rec.Data); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Record, error) {
	if s.isClosed() {
		return store.Record{}, store.ErrClosed
	}
	return get(ctx, s.db, collection, id)
}

func (s *Store) Scan(ctx context.Context, collection string) ([]store.Record, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	return scan(ctx, s.db, collection)
}

// Begin starts a database transaction. database/sql rolls a transaction back
// when its context is cancelled, so the transaction is detached from ctx and
// ended only by Commit or Rollback.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sqlTx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &tx{tx: sqlTx}, nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if s.owned {
			err = s.db.Close()
		}
	})
	return err
}

type tx struct {
	tx *sql.Tx
}

func mapTxErr(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return store.ErrTxDone
	}
	return err
}

func (t *tx) Get(ctx context.Context, collection, id string) (store.Record, error) {
	rec, err := get(ctx, t.tx, collection, id)
	return rec, mapTxErr(err)
}

func (t *tx) Scan(ctx context.Context, collection string) ([]store.Record, error) {
	recs, err := scan(ctx, t.tx, collection)
	return recs, mapTxErr(err)
}

func (t *tx) current(ctx context.Context, collection, id string) (uint64, error) {
	rec, err := get(ctx, t.tx, collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, mapTxErr(err)
	}
	return rec.Version, nil
}

// tombstone returns the version a deleted record was retired at, or 0.
func (t *tx) tombstone(ctx context.Context, collection, id string) (uint64, error) {
	var v uint64
	err := t.tx.QueryRowContext(ctx,
		`SELECT version FROM tombstones WHERE collection = ? AND id = ?`, collection, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, mapTxErr(err)
}

func (t *tx) Put(ctx context.Context, rec store.Record) (store.Record, error) {
	current, err := t.current(ctx, rec.Collection, rec.ID)
	if err != nil {
		return store.Record{}, err
	}
	if current != rec.Version {
		return store.Record{}, &pipeline.PersistenceConflictError{
			Collection: rec.Collection, ID: rec.ID, Expected: rec.Version, Actual: current,
		}
	}

	next := rec
	next.Version = current + 1
	if current == 0 {
		var last uint64
		if last, err = t.tombstone(ctx, rec.Collection, rec.ID); err != nil {
			return store.Record{}, err
		}
		next.Version = last + 1
		_, err = t.tx.ExecContext(ctx,
			`DELETE FROM tombstones WHERE collection = ? AND id = ?`, next.Collection, next.ID)
		if err == nil {
			_, err = t.tx.ExecContext(ctx,
				`INSERT INTO records (collection, id, version, data) VALUES (?, ?, ?, ?)`,
				next.Collection, next.ID, next.Version, next.Data)
		}
	} else {
		var res sql.Result
		res, err = t.tx.ExecContext(ctx,
			`UPDATE records SET version = ?, data = ? WHERE collection = ? AND id = ? AND version = ?`,
			next.Version, next.Data, next.Collection, next.ID, current)
		if err == nil {
			if n, _ := res.RowsAffected(); n == 0 {
				return store.Record{}, &pipeline.PersistenceConflictError{
					Collection: rec.Collection, ID: rec.ID, Expected: rec.Version, Actual: current,
				}
			}
		}
	}
	if err != nil {
		return store.Record{}, mapTxErr(err)
	}
	return next, nil
}

func (t *tx) Delete(ctx context.Context, collection, id string, version uint64) error {
	current, err := t.current(ctx, collection, id)
	if err != nil {
		return err
	}
	if current == 0 {
		return store.ErrNotFound
	}
	if current != version {
		return &pipeline.PersistenceConflictError{
			Collection: collection, ID: id, Expected: version, Actual: current,
		}
	}
	if _, err = t.tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ? AND version = ?`, collection, id, version); err != nil {
		return mapTxErr(err)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO tombstones (collection, id, version) VALUES (?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET version = excluded.version`,
		collection, id, version+1)
	return mapTxErr(err)
}

func (t *tx) Commit(_ context.Context) error {
	return mapTxErr(t.tx.Commit())
}

func (t *tx) Rollback() error {
	return mapTxErr(t.tx.Rollback())
}
