package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Repository gives typed access to one collection. Entities are stored as
// JSON.
//
// Reads use the ambient transaction from ctx when there is one and fall back
// to committed state otherwise. Writes require an ambient transaction.
type Repository[T any] struct {
	store      Store
	collection string
}

// NewRepository creates a repository for collection.
func NewRepository[T any](st Store, collection string) *Repository[T] {
	return &Repository[T]{store: st, collection: collection}
}

// Collection returns the collection name.
func (r *Repository[T]) Collection() string { return r.collection }

func (r *Repository[T]) reader(ctx context.Context) Reader {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return r.store
}

// Get returns the entity and its current version.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, uint64, error) {
	var entity T
	rec, err := r.reader(ctx).Get(ctx, r.collection, id)
	if err != nil {
		return entity, 0, fmt.Errorf("get %s %q: %w", r.collection, id, err)
	}
	if err := json.Unmarshal(rec.Data, &entity); err != nil {
		return entity, 0, fmt.Errorf("decode %s %q: %w", r.collection, id, err)
	}
	return entity, rec.Version, nil
}

// Insert stores a new entity. It fails with a persistence conflict if id
// already exists.
func (r *Repository[T]) Insert(ctx context.Context, id string, entity T) (uint64, error) {
	return r.Update(ctx, id, entity, 0)
}

// Update stores entity if the stored version still equals version and
// returns the new version.
func (r *Repository[T]) Update(ctx context.Context, id string, entity T, version uint64) (uint64, error) {
	tx, ok := TxFromContext(ctx)
	if !ok {
		return 0, fmt.Errorf("save %s %q: %w", r.collection, id, ErrNoTransaction)
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return 0, fmt.Errorf("encode %s %q: %w", r.collection, id, err)
	}
	rec, err := tx.Put(ctx, Record{Collection: r.collection, ID: id, Version: version, Data: data})
	if err != nil {
		return 0, fmt.Errorf("save %s %q: %w", r.collection, id, err)
	}
	return rec.Version, nil
}

// Delete removes the entity at version.
func (r *Repository[T]) Delete(ctx context.Context, id string, version uint64) error {
	tx, ok := TxFromContext(ctx)
	if !ok {
		return fmt.Errorf("delete %s %q: %w", r.collection, id, ErrNoTransaction)
	}
	if err := tx.Delete(ctx, r.collection, id, version); err != nil {
		return fmt.Errorf("delete %s %q: %w", r.collection, id, err)
	}
	return nil
}

// All returns every entity of the collection ordered by ID.
func (r *Repository[T]) All(ctx context.Context) ([]T, error) {
	recs, err := r.reader(ctx).Scan(ctx, r.collection)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", r.collection, err)
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var entity T
		if err := json.Unmarshal(rec.Data, &entity); err != nil {
			return nil, fmt.Errorf("decode %s %q: %w", r.collection, rec.ID, err)
		}
		out = append(out, entity)
	}
	return out, nil
}
