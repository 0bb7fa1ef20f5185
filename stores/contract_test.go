package stores_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/sqltx"
	"github.com/mickamy/txqueue/txqueuetest"
)

type order struct {
	Number string `json:"number"`
	Amount int    `json:"amount"`
}

type deadLetterStore interface {
	txqueue.DeadLetterRepository[order]
	Count(ctx context.Context) (int, error)
}

type storeFactory func(t *testing.T) (*sql.DB, txqueue.ElementRepository[order], deadLetterStore)

var base = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func insert(t *testing.T, db *sql.DB, repo txqueue.ElementRepository[order], number string, createdAt time.Time) txqueue.Element[order] {
	t.Helper()
	var element txqueue.Element[order]
	err := sqltx.InTx(context.Background(), db, func(ctx context.Context) error {
		var err error
		element, err = repo.Insert(ctx, txqueue.ElementToEnqueue[order]{Payload: order{Number: number, Amount: 10}}, createdAt, createdAt)
		return err
	})
	require.NoError(t, err)
	return element
}

func testRepositoryContract(t *testing.T, open storeFactory) {
	t.Run("insert and find", func(t *testing.T) {
		db, repo, _ := open(t)
		ctx := context.Background()

		inserted := insert(t, db, repo, "A-1", base)
		require.NotZero(t, inserted.ID)
		require.Equal(t, txqueue.InitialDispatchCount, inserted.DispatchCount)

		found, err := repo.FindByID(ctx, inserted.ID)
		require.NoError(t, err)
		require.Equal(t, inserted.ID, found.ID)
		require.True(t, found.CreatedAt.Equal(base), "CreatedAt = %v, want %v", found.CreatedAt, base)
		require.True(t, found.NextDispatchAfter.Equal(base))
		require.Equal(t, order{Number: "A-1", Amount: 10}, found.Payload)
	})

	t.Run("find missing", func(t *testing.T) {
		_, repo, _ := open(t)
		_, err := repo.FindByID(context.Background(), 404)
		typ, ok := txqueue.TypeOf(err)
		require.True(t, ok)
		require.Equal(t, txqueue.ErrTypeReadElement, typ)
	})

	t.Run("insert rolled back with the caller", func(t *testing.T) {
		db, repo, _ := open(t)
		ctx := context.Background()
		var id int64
		boom := errors.New("business rule violated")
		err := sqltx.InTx(ctx, db, func(ctx context.Context) error {
			element, err := repo.Insert(ctx, txqueue.ElementToEnqueue[order]{Payload: order{Number: "B-1"}}, base, base)
			if err != nil {
				return err
			}
			id = element.ID
			return boom
		})
		require.ErrorIs(t, err, boom)
		_, err = repo.FindByID(ctx, id)
		require.True(t, txqueue.HasType(err, txqueue.ErrTypeReadElement))
	})

	t.Run("lock claims due elements oldest first", func(t *testing.T) {
		db, repo, _ := open(t)
		ctx := context.Background()
		second := insert(t, db, repo, "2", base.Add(time.Second))
		first := insert(t, db, repo, "1", base)
		third := insert(t, db, repo, "3", base.Add(2*time.Second))
		insert(t, db, repo, "future", base.Add(time.Hour))

		now := base.Add(time.Minute)
		lease := now.Add(10 * time.Second)
		claimed, err := repo.LockForNextDispatch(ctx, 2, now, lease)
		require.NoError(t, err)
		require.Len(t, claimed, 2)
		require.Equal(t, first.ID, claimed[0].ID)
		require.Equal(t, second.ID, claimed[1].ID)
		for _, element := range claimed {
			require.Equal(t, 1, element.DispatchCount)
			require.True(t, element.NextDispatchAfter.Equal(lease), "NextDispatchAfter = %v, want %v", element.NextDispatchAfter, lease)
		}

		rest, err := repo.LockForNextDispatch(ctx, 10, now, lease)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		require.Equal(t, third.ID, rest[0].ID)

		none, err := repo.LockForNextDispatch(ctx, 10, lease, lease.Add(10*time.Second))
		require.NoError(t, err)
		require.Empty(t, none, "elements are not claimable until the lease has passed")

		again, err := repo.LockForNextDispatch(ctx, 10, lease.Add(time.Millisecond), lease.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, again, 3)
		for _, element := range again {
			require.Equal(t, 2, element.DispatchCount)
		}
	})

	t.Run("guarded delete", func(t *testing.T) {
		db, repo, _ := open(t)
		ctx := context.Background()
		inserted := insert(t, db, repo, "D-1", base)
		claimed, err := repo.LockForNextDispatch(ctx, 1, base.Add(time.Second), base.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		_, err = repo.Delete(ctx, inserted)
		typ, _ := txqueue.TypeOf(err)
		require.Equal(t, txqueue.ErrTypeZeroRowsDeleted, typ)
		stored, err := repo.FindByID(ctx, inserted.ID)
		require.NoError(t, err)
		require.Equal(t, 1, stored.DispatchCount)

		deleted, err := repo.Delete(ctx, claimed[0])
		require.NoError(t, err)
		require.Equal(t, claimed[0].ID, deleted.ID)

		_, err = repo.Delete(ctx, claimed[0])
		require.True(t, txqueue.HasType(err, txqueue.ErrTypeZeroRowsDeleted))
	})

	t.Run("dead letters", func(t *testing.T) {
		db, repo, deadLetters := open(t)
		ctx := context.Background()
		element := insert(t, db, repo, "E-1", base)

		_, err := deadLetters.Insert(ctx, element)
		require.NoError(t, err)
		n, err := deadLetters.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		_, err = deadLetters.Insert(ctx, element)
		require.True(t, txqueue.HasType(err, txqueue.ErrTypeDeadLetterInsert))
	})

	t.Run("queue end to end", func(t *testing.T) {
		db, repo, deadLetters := open(t)
		ctx := context.Background()
		clock := txqueuetest.NewClock(base)
		attempts := 0
		var queue *txqueue.Queue[order]
		var err error
		queue, err = txqueue.New(txqueue.Options[order]{
			Name:         "orders",
			Repository:   repo,
			DeadLetters:  deadLetters,
			Transactions: sqltx.NewManager(db),
			Consumer: txqueue.ConsumerFunc[order](func(context.Context, txqueue.Element[order]) error {
				attempts++
				return errors.New("downstream rejected")
			}),
			Publisher: txqueue.PublisherFunc[order](func(ctx context.Context, element txqueue.Element[order], _ string) error {
				queue.Dispatch(ctx, element)
				return nil
			}),
			Now: clock.Now,
		})
		require.NoError(t, err)

		_, err = queue.Enqueue(ctx, txqueue.ElementToEnqueue[order]{Payload: order{Number: "F-1"}})
		require.True(t, errors.Is(err, txqueue.ErrNoTransaction))

		var element txqueue.Element[order]
		require.NoError(t, sqltx.InTx(ctx, db, func(ctx context.Context) error {
			element, err = queue.Enqueue(ctx, txqueue.ElementToEnqueue[order]{Payload: order{Number: "F-1"}})
			return err
		}))

		for i := 0; i < queue.Config().MaxDispatchCount; i++ {
			clock.Advance(queue.Config().LockTimeout + time.Millisecond)
			queue.RetryDispatch(ctx)
		}

		require.Equal(t, queue.Config().MaxDispatchCount, attempts)
		_, err = repo.FindByID(ctx, element.ID)
		require.True(t, txqueue.HasType(err, txqueue.ErrTypeReadElement))
		n, err := deadLetters.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})
}
