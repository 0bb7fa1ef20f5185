package txqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/txqueuetest"
)

func TestEnqueueRequiresTransaction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.queue.Enqueue(context.Background(), txqueue.ElementToEnqueue[payload]{Payload: payload{OrderID: "o-1"}})

	if typ, _ := txqueue.TypeOf(err); typ != txqueue.ErrTypeEnqueueUnexpected {
		t.Fatalf("Enqueue() error type = %q, want %q", typ, txqueue.ErrTypeEnqueueUnexpected)
	}
	if !errors.Is(err, txqueue.ErrNoTransaction) {
		t.Fatalf("Enqueue() error = %v, want it to wrap %v", err, txqueue.ErrNoTransaction)
	}
	if f.repository.Len() != 0 {
		t.Fatalf("repository len = %d, want 0", f.repository.Len())
	}
	if got := f.metrics.ErrorCount(txqueue.ErrTypeOpenTransaction); got != 1 {
		t.Fatalf("open-transaction-error metrics = %d, want 1", got)
	}
	if got := f.transactions.Propagations(); len(got) != 1 || got[0] != txqueue.PropagationMandatory {
		t.Fatalf("propagations = %v, want [MANDATORY]", got)
	}
}

func TestEnqueueInsideTransaction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, tx := f.transactions.Begin(context.Background())

	element, err := f.queue.Enqueue(ctx, txqueue.ElementToEnqueue[payload]{
		Payload:       payload{OrderID: "o-7"},
		DispatchDelay: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if element.DispatchCount != txqueue.InitialDispatchCount {
		t.Fatalf("DispatchCount = %d, want %d", element.DispatchCount, txqueue.InitialDispatchCount)
	}
	if !element.CreatedAt.Equal(epoch) {
		t.Fatalf("CreatedAt = %v, want %v", element.CreatedAt, epoch)
	}
	if want := epoch.Add(30 * time.Second); !element.NextDispatchAfter.Equal(want) {
		t.Fatalf("NextDispatchAfter = %v, want %v", element.NextDispatchAfter, want)
	}
	stored, ok := f.repository.Get(element.ID)
	if !ok || stored.Payload.OrderID != "o-7" {
		t.Fatalf("stored = %+v, %v, want payload o-7", stored, ok)
	}
	if f.transactions.Commits() != 1 {
		t.Fatalf("commits = %d, want 1 (only the caller's)", f.transactions.Commits())
	}
}

func TestEnqueueRolledBackWithCallerTransaction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, tx := f.transactions.Begin(context.Background())

	if _, err := f.queue.Enqueue(ctx, txqueue.ElementToEnqueue[payload]{Payload: payload{OrderID: "o-1"}}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	tx.Rollback()

	if f.repository.Len() != 0 {
		t.Fatalf("repository len = %d, want 0 after rollback", f.repository.Len())
	}
}

func TestEnqueueInsertFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.repository.WillReturnError(txqueuetest.OpInsert, errors.New("disk full"))
	ctx, _ := f.transactions.Begin(context.Background())

	_, err := f.queue.Enqueue(ctx, txqueue.ElementToEnqueue[payload]{Payload: payload{OrderID: "o-1"}})

	if typ, _ := txqueue.TypeOf(err); typ != txqueue.ErrTypeEnqueueUnexpected {
		t.Fatalf("Enqueue() error type = %q, want %q", typ, txqueue.ErrTypeEnqueueUnexpected)
	}
	if !txqueue.HasType(err, txqueue.ErrTypeQueueInsert) {
		t.Fatalf("Enqueue() error = %v, want it to carry %q", err, txqueue.ErrTypeQueueInsert)
	}
	if got := f.metrics.ErrorCount(txqueue.ErrTypeQueueInsert); got != 1 {
		t.Fatalf("queue-insert-error metrics = %d, want 1", got)
	}
}

type panickingRepository struct {
	*txqueuetest.Repository[payload]
}

func (panickingRepository) Insert(context.Context, txqueue.ElementToEnqueue[payload], time.Time, time.Time) (txqueue.Element[payload], error) {
	panic("driver bug")
}

func TestEnqueueRecoversPanic(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *txqueue.Options[payload]) {
		o.Repository = panickingRepository{txqueuetest.NewRepository[payload](queueName)}
	})
	ctx, _ := f.transactions.Begin(context.Background())

	_, err := f.queue.Enqueue(ctx, txqueue.ElementToEnqueue[payload]{Payload: payload{OrderID: "o-1"}})

	var qe *txqueue.QueueError[txqueue.ElementToEnqueue[payload]]
	if !errors.As(err, &qe) {
		t.Fatalf("Enqueue() error = %T, want *QueueError", err)
	}
	if qe.Type != txqueue.ErrTypeEnqueueUnexpected || qe.Cause == nil {
		t.Fatalf("QueueError = %+v, want enqueue-unexpected-error with a cause", qe)
	}
	if got := f.metrics.ErrorCount(txqueue.ErrTypeEnqueueUnexpected); got != 1 {
		t.Fatalf("enqueue-unexpected-error metrics = %d, want 1", got)
	}
}
