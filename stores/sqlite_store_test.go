package stores_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/stores"
	"github.com/mickamy/txqueue/test/database"
)

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	testRepositoryContract(t, func(t *testing.T) (*sql.DB, txqueue.ElementRepository[order], deadLetterStore) {
		db := database.OpenSQLite(t)
		store := stores.NewSQLiteStore[order](db, stores.WithSQLiteQueue("orders"))
		return db, store, store.DeadLetters()
	})
}

func TestSQLiteStorePayloadDecodeError(t *testing.T) {
	t.Parallel()
	db := database.OpenSQLite(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx,
		`INSERT INTO txqueue_elements (created_at, next_dispatch_after, dispatch_count, payload) VALUES (?, ?, 0, ?)`,
		base.UnixNano(), base.UnixNano(), []byte("not json"))
	require.NoError(t, err)

	store := stores.NewSQLiteStore[order](db)
	_, err = store.LockForNextDispatch(ctx, 10, base.Add(time.Second), base.Add(time.Minute))
	require.True(t, txqueue.HasType(err, txqueue.ErrTypePayloadUnmarshal))
}

func TestSQLiteStoreCustomTable(t *testing.T) {
	t.Parallel()
	db := database.OpenSQLite(t)
	store := stores.NewSQLiteStore[order](db, stores.WithSQLiteTable("missing_table"))

	_, err := store.LockForNextDispatch(context.Background(), 1, base, base)
	typ, ok := txqueue.TypeOf(err)
	require.True(t, ok)
	require.Equal(t, txqueue.ErrTypeRetryDispatchLock, typ)
}
