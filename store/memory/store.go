// Package memory provides an in-memory store.Store with optimistic
// transactions. Writes are buffered per transaction and applied atomically
// on Commit after every written version is re-checked. Versions never repeat
// for a key: a deleted record leaves a tombstone carrying its last version.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/terraskye/pipeline"
	"github.com/terraskye/pipeline/store"
)

type key struct {
	collection string
	id         string
}

type Store struct {
	mu         sync.RWMutex
	records    map[key]store.Record
	tombstones map[key]uint64
	closed     bool
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[key]store.Record), tombstones: make(map[key]uint64)}
}

func cloneRecord(rec store.Record) store.Record {
	rec.Data = slices.Clone(rec.Data)
	return rec
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.Record{}, store.ErrClosed
	}
	rec, ok := s.records[key{collection, id}]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) Scan(ctx context.Context, collection string) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	return s.scanLocked(collection), nil
}

func (s *Store) scanLocked(collection string) []store.Record {
	out := make([]store.Record, 0)
	for k, rec := range s.records {
		if k.collection == collection {
			out = append(out, cloneRecord(rec))
		}
	}
	sortByID(out)
	return out
}

// stamp is the last version written for k, live or deleted.
func (s *Store) stamp(k key) uint64 {
	if rec, ok := s.records[k]; ok {
		return rec.Version
	}
	return s.tombstones[k]
}

// Begin opens a transaction. No lock is held until Commit.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	return &tx{store: s, writes: make(map[key]*pending)}, nil
}

// Len returns the number of committed records in collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.records {
		if k.collection == collection {
			n++
		}
	}
	return n
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type pending struct {
	rec     store.Record // Version is the stamp this write produces
	base    uint64       // committed stamp the write was based on
	deleted bool
}

type tx struct {
	mu     sync.Mutex
	store  *Store
	writes map[key]*pending
	order  []key
	done   bool
}

func (t *tx) Get(ctx context.Context, collection, id string) (store.Record, error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return store.Record{}, store.ErrTxDone
	}
	p, ok := t.writes[key{collection, id}]
	t.mu.Unlock()

	if !ok {
		return t.store.Get(ctx, collection, id)
	}
	if p.deleted {
		return store.Record{}, store.ErrNotFound
	}
	return cloneRecord(p.rec), nil
}

func (t *tx) Scan(ctx context.Context, collection string) ([]store.Record, error) {
	committed, err := t.store.Scan(ctx, collection)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, store.ErrTxDone
	}

	out := committed[:0]
	for _, rec := range committed {
		if _, overwritten := t.writes[key{collection, rec.ID}]; !overwritten {
			out = append(out, rec)
		}
	}
	for k, p := range t.writes {
		if k.collection == collection && !p.deleted {
			out = append(out, cloneRecord(p.rec))
		}
	}
	sortByID(out)
	return out, nil
}

// visible returns the version the transaction currently sees (0 when the
// record does not exist), the last stamp written for the key and the
// committed stamp the key is based on.
func (t *tx) visible(k key) (current, last, base uint64) {
	if p, ok := t.writes[k]; ok {
		if p.deleted {
			return 0, p.rec.Version, p.base
		}
		return p.rec.Version, p.rec.Version, p.base
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if rec, ok := t.store.records[k]; ok {
		return rec.Version, rec.Version, rec.Version
	}
	stamp := t.store.tombstones[k]
	return 0, stamp, stamp
}

func (t *tx) Put(ctx context.Context, rec store.Record) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return store.Record{}, store.ErrTxDone
	}

	k := key{rec.Collection, rec.ID}
	current, last, base := t.visible(k)
	if rec.Version != current {
		return store.Record{}, &pipeline.PersistenceConflictError{
			Collection: rec.Collection, ID: rec.ID, Expected: rec.Version, Actual: current,
		}
	}

	written := cloneRecord(rec)
	written.Version = last + 1
	if _, seen := t.writes[k]; !seen {
		t.order = append(t.order, k)
	}
	t.writes[k] = &pending{rec: written, base: base}
	return cloneRecord(written), nil
}

func (t *tx) Delete(ctx context.Context, collection, id string, version uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return store.ErrTxDone
	}

	k := key{collection, id}
	current, last, base := t.visible(k)
	if current == 0 {
		return store.ErrNotFound
	}
	if version != current {
		return &pipeline.PersistenceConflictError{
			Collection: collection, ID: id, Expected: version, Actual: current,
		}
	}
	if _, seen := t.writes[k]; !seen {
		t.order = append(t.order, k)
	}
	t.writes[k] = &pending{rec: store.Record{Collection: collection, ID: id, Version: last + 1}, base: base, deleted: true}
	return nil
}

// Commit applies every buffered write, or none if any record changed since
// the transaction read it.
func (t *tx) Commit(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return store.ErrTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	for _, k := range t.order {
		p := t.writes[k]
		if actual := s.stamp(k); actual != p.base {
			return &pipeline.PersistenceConflictError{
				Collection: k.collection, ID: k.id, Expected: p.base, Actual: actual,
			}
		}
	}
	for _, k := range t.order {
		p := t.writes[k]
		if p.deleted {
			delete(s.records, k)
			s.tombstones[k] = p.rec.Version
			continue
		}
		delete(s.tombstones, k)
		s.records[k] = p.rec
	}
	t.writes = nil
	return nil
}

func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	t.writes = nil
	return nil
}

func sortByID(recs []store.Record) {
	slices.SortFunc(recs, func(a, b store.Record) int {
		return strings.Compare(a.ID, b.ID)
	})
}
