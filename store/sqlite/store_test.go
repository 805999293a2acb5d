package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/pipeline"
	"github.com/terraskye/pipeline/store"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "records.db") + "?_busy_timeout=5000&_txlock=immediate"
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CommitAndRead(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	rec, err := tx.Put(ctx, store.Record{Collection: "orders", ID: "b", Data: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version)
	_, err = tx.Put(ctx, store.Record{Collection: "orders", ID: "a", Data: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	recs, err := s.Scan(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)

	got, err := s.Get(ctx, "orders", "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got.Data)
}

func TestStore_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	tx, _ := s.Begin(ctx)
	_, err := tx.Put(ctx, store.Record{Collection: "orders", ID: "a"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = s.Get(ctx, "orders", "a")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, tx.Commit(ctx), store.ErrTxDone)
}

func TestStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	tx, _ := s.Begin(ctx)
	_, err := tx.Put(ctx, store.Record{Collection: "orders", ID: "a"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx, _ = s.Begin(ctx)
	defer tx.Rollback()
	_, err = tx.Put(ctx, store.Record{Collection: "orders", ID: "a", Version: 3})
	assert.ErrorIs(t, err, pipeline.ErrPersistenceConflict)

	rec, err := tx.Put(ctx, store.Record{Collection: "orders", ID: "a", Version: 1, Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Version)

	require.NoError(t, tx.Delete(ctx, "orders", "a", 2))
	assert.ErrorIs(t, tx.Delete(ctx, "orders", "a", 2), store.ErrNotFound)
}

func TestStore_ReinsertNeverReusesVersion(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	tx, _ := s.Begin(ctx)
	for v := uint64(0); v < 3; v++ {
		_, err := tx.Put(ctx, store.Record{Collection: "orders", ID: "a", Version: v})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(ctx))

	tx, _ = s.Begin(ctx)
	require.NoError(t, tx.Delete(ctx, "orders", "a", 3))
	rec, err := tx.Put(ctx, store.Record{Collection: "orders", ID: "a", Data: []byte("again")})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.Version)
	require.NoError(t, tx.Commit(ctx))

	got, err := s.Get(ctx, "orders", "a")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Version)

	tx, _ = s.Begin(ctx)
	_, err = tx.Put(ctx, store.Record{Collection: "orders", ID: "a", Version: 1})
	assert.ErrorIs(t, err, pipeline.ErrPersistenceConflict)
	require.NoError(t, tx.Delete(ctx, "orders", "a", 5))
	require.NoError(t, tx.Commit(ctx))

	tx, _ = s.Begin(ctx)
	rec, err = tx.Put(ctx, store.Record{Collection: "orders", ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rec.Version)
	require.NoError(t, tx.Commit(ctx))
}

func TestStore_CancelledContextDoesNotEndTx(t *testing.T) {
	s := openTemp(t)

	ctx, cancel := context.WithCancel(context.Background())
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Put(ctx, store.Record{Collection: "orders", ID: "a"})
	require.NoError(t, err)
	cancel()

	require.NoError(t, tx.Commit(context.Background()))
	_, err = s.Get(context.Background(), "orders", "a")
	assert.NoError(t, err)
}
