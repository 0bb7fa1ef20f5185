package txqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/txqueuetest"
)

func TestDispatchSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	element := f.stored(1, 1)

	f.queue.Dispatch(context.Background(), element)

	if _, ok := f.repository.Get(1); ok {
		t.Fatalf("element still in queue after successful dispatch")
	}
	if got := len(f.consumer.Consumed()); got != 1 {
		t.Fatalf("consumed = %d, want 1", got)
	}
	if got := len(f.deadLetters.Elements()); got != 0 {
		t.Fatalf("dead letters = %d, want 0", got)
	}
	successes := f.metrics.Successes()
	if len(successes) != 1 {
		t.Fatalf("success metrics = %d, want 1", len(successes))
	}
	if successes[0].Latency != time.Minute || successes[0].DispatchCount != 1 {
		t.Fatalf("success = %+v, want latency 1m and dispatch count 1", successes[0])
	}
	if got := f.transactions.Propagations(); len(got) != 1 || got[0] != txqueue.PropagationRequiresNew {
		t.Fatalf("propagations = %v, want [REQUIRES_NEW]", got)
	}
}

func TestDispatchFailureWithAttemptsLeft(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	element := f.stored(1, 1)
	f.consumer.WillReturnError(txqueuetest.OpConsume, errors.New("downstream unavailable"))

	f.queue.Dispatch(context.Background(), element)

	stored, ok := f.repository.Get(1)
	if !ok || stored.DispatchCount != 1 {
		t.Fatalf("stored = %+v, %v, want element restored by rollback", stored, ok)
	}
	if got := len(f.deadLetters.Elements()); got != 0 {
		t.Fatalf("dead letters = %d, want 0", got)
	}
	if got := f.metrics.ErrorCount(txqueue.ErrTypeConsumePayloadUnexpected); got != 1 {
		t.Fatalf("consume error metrics = %d, want 1", got)
	}
	if f.transactions.Rollbacks() != 1 {
		t.Fatalf("rollbacks = %d, want 1", f.transactions.Rollbacks())
	}
}

func TestDispatchMovesExhaustedElementToDeadLetters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	maxCount := f.queue.Config().MaxDispatchCount
	element := f.stored(1, maxCount)
	f.consumer.WillReturnError(txqueuetest.OpConsume, errors.New("poison message"))

	f.queue.Dispatch(context.Background(), element)

	if _, ok := f.repository.Get(1); ok {
		t.Fatalf("element still in queue after dead-lettering")
	}
	dead := f.deadLetters.Elements()
	if len(dead) != 1 || dead[0].ID != 1 {
		t.Fatalf("dead letters = %+v, want exactly element 1", dead)
	}
	if got := len(f.consumer.Fallbacks()); got != 1 {
		t.Fatalf("fallbacks = %d, want 1", got)
	}
	if got := f.metrics.DeadLetters(); len(got) != 1 || got[0] != maxCount {
		t.Fatalf("dead letter metrics = %v, want [%d]", got, maxCount)
	}
	if got := f.transactions.Propagations(); len(got) != 2 {
		t.Fatalf("transactions opened = %d, want 2", len(got))
	}
}

func TestDispatchStaleElementLosesRace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	element := f.stored(1, 1)
	f.stored(1, 2)

	f.queue.Dispatch(context.Background(), element)

	stored, ok := f.repository.Get(1)
	if !ok || stored.DispatchCount != 2 {
		t.Fatalf("stored = %+v, %v, want row untouched", stored, ok)
	}
	if got := len(f.consumer.Consumed()); got != 0 {
		t.Fatalf("consumed = %d, want 0", got)
	}
	if got := f.metrics.ErrorCount(txqueue.ErrTypeZeroRowsDeleted); got != 1 {
		t.Fatalf("zero-rows-deleted metrics = %d, want 1", got)
	}
}

func TestDispatchDeadLetterLosesRace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	maxCount := f.queue.Config().MaxDispatchCount
	element := f.stored(1, maxCount)
	f.stored(1, maxCount+1)
	f.consumer.WillReturnError(txqueuetest.OpConsume, errors.New("poison message"))

	f.queue.Dispatch(context.Background(), element)

	stored, ok := f.repository.Get(1)
	if !ok || stored.DispatchCount != maxCount+1 {
		t.Fatalf("stored = %+v, %v, want row untouched", stored, ok)
	}
	if got := len(f.deadLetters.Elements()); got != 0 {
		t.Fatalf("dead letters = %d, want 0", got)
	}
	if got := len(f.consumer.Fallbacks()); got != 0 {
		t.Fatalf("fallbacks = %d, want 0", got)
	}
	if got := f.metrics.ErrorCount(txqueue.ErrTypeMovedToDeadLetterQueue); got != 1 {
		t.Fatalf("moved-to-dead-letter-queue-error metrics = %d, want 1", got)
	}
}

// panickingCommit panics on Commit of the first transaction it opens.
type panickingCommit struct {
	txqueue.TransactionCreator
	opened int
}

func (p *panickingCommit) OpenTransaction(ctx context.Context, propagation txqueue.Propagation, queueName string) (txqueue.OpenedTransaction, error) {
	tx, err := p.TransactionCreator.OpenTransaction(ctx, propagation, queueName)
	if err != nil {
		return nil, err
	}
	p.opened++
	if p.opened == 1 {
		return panicOnCommit{tx}, nil
	}
	return tx, nil
}

type panicOnCommit struct {
	txqueue.OpenedTransaction
}

func (panicOnCommit) Commit() error {
	panic("connection lost during commit")
}

func TestDispatchPanicInPrimaryPathStillDeadLetters(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *txqueue.Options[payload]) {
		o.Transactions = &panickingCommit{TransactionCreator: o.Transactions}
	})
	maxCount := f.queue.Config().MaxDispatchCount
	element := f.stored(1, maxCount)

	f.queue.Dispatch(context.Background(), element)

	if _, ok := f.repository.Get(1); ok {
		t.Fatalf("element still in queue after dead-lettering")
	}
	if got := len(f.deadLetters.Elements()); got != 1 {
		t.Fatalf("dead letters = %d, want 1", got)
	}
	if got := f.metrics.ErrorCount(txqueue.ErrTypeDispatcherUnexpected); got != 1 {
		t.Fatalf("dispatcher-unexpected-error metrics = %d, want 1", got)
	}
	if got := f.metrics.DeadLetters(); len(got) != 1 || got[0] != maxCount {
		t.Fatalf("dead letter metrics = %v, want [%d]", got, maxCount)
	}
}

func TestDispatchPanicInPrimaryPathWithAttemptsLeft(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *txqueue.Options[payload]) {
		o.Transactions = &panickingCommit{TransactionCreator: o.Transactions}
	})
	element := f.stored(1, 1)

	f.queue.Dispatch(context.Background(), element)

	stored, ok := f.repository.Get(1)
	if !ok || stored.DispatchCount != 1 {
		t.Fatalf("stored = %+v, %v, want element restored by rollback", stored, ok)
	}
	if got := len(f.deadLetters.Elements()); got != 0 {
		t.Fatalf("dead letters = %d, want 0", got)
	}
}

func TestDispatchDeadLetterFailureKeepsElement(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	element := f.stored(1, f.queue.Config().MaxDispatchCount)
	f.consumer.WillReturnError(txqueuetest.OpConsume, errors.New("poison message"))
	f.deadLetters.WillReturnError(txqueuetest.OpInsert, errors.New("dead letter table missing"))

	f.queue.Dispatch(context.Background(), element)

	if _, ok := f.repository.Get(1); !ok {
		t.Fatalf("element deleted although the dead-letter transition rolled back")
	}
	if got := f.metrics.ErrorCount(txqueue.ErrTypeMovedToDeadLetterQueue); got != 1 {
		t.Fatalf("moved-to-dead-letter-queue-error metrics = %d, want 1", got)
	}
	if got := len(f.metrics.DeadLetters()); got != 0 {
		t.Fatalf("dead letter metrics = %d, want 0", got)
	}
	if got := len(f.consumer.Fallbacks()); got != 0 {
		t.Fatalf("fallbacks = %d, want 0", got)
	}
}

func TestDispatchFallbackFailureRollsBackDeadLetter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	element := f.stored(1, f.queue.Config().MaxDispatchCount)
	f.consumer.WillReturnError(txqueuetest.OpConsume, errors.New("poison message"))
	f.consumer.WillReturnError(txqueuetest.OpConsumeFallback, errors.New("alerting down"))

	f.queue.Dispatch(context.Background(), element)

	if _, ok := f.repository.Get(1); !ok {
		t.Fatalf("element deleted although the fallback failed")
	}
	if got := len(f.deadLetters.Elements()); got != 0 {
		t.Fatalf("dead letters = %d, want 0 after rollback", got)
	}
	if got := f.metrics.ErrorCount(txqueue.ErrTypeMovedToDeadLetterQueue); got != 1 {
		t.Fatalf("moved-to-dead-letter-queue-error metrics = %d, want 1", got)
	}
}

func TestDispatchRecoversConsumerPanic(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	element := f.stored(1, 1)
	f.consumer.OnConsume = func(context.Context, txqueue.Element[payload]) error {
		panic("nil map")
	}

	f.queue.Dispatch(context.Background(), element)

	if _, ok := f.repository.Get(1); !ok {
		t.Fatalf("element deleted although the consumer panicked")
	}
	if got := f.metrics.ErrorCount(txqueue.ErrTypeConsumePayloadUnexpected); got != 1 {
		t.Fatalf("consume-element-payload-unexpected-error metrics = %d, want 1", got)
	}
}

func TestDispatchCommitFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	element := f.stored(1, 1)
	f.transactions.WillReturnError(txqueuetest.OpCommit, errors.New("serialization failure"))

	f.queue.Dispatch(context.Background(), element)

	if _, ok := f.repository.Get(1); !ok {
		t.Fatalf("element deleted although commit failed")
	}
	if got := f.metrics.ErrorCount(txqueue.ErrTypeCommitTransaction); got != 1 {
		t.Fatalf("commit-transaction-error metrics = %d, want 1", got)
	}
}

func TestDispatchSurvivesBrokenMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.metrics.PanicOnRecord = true
	element := f.stored(1, 1)

	f.queue.Dispatch(context.Background(), element)

	if _, ok := f.repository.Get(1); ok {
		t.Fatalf("element still in queue, want dispatch to succeed despite metrics failure")
	}
}

func TestDispatchWithoutFallbackConsumer(t *testing.T) {
	t.Parallel()
	var calls int
	f := newFixture(t, func(o *txqueue.Options[payload]) {
		o.Consumer = txqueue.ConsumerFunc[payload](func(context.Context, txqueue.Element[payload]) error {
			calls++
			return errors.New("always failing")
		})
	})
	element := f.stored(1, f.queue.Config().MaxDispatchCount)

	f.queue.Dispatch(context.Background(), element)

	if calls != 1 {
		t.Fatalf("consumer calls = %d, want 1", calls)
	}
	if got := len(f.deadLetters.Elements()); got != 1 {
		t.Fatalf("dead letters = %d, want 1 with the default fallback", got)
	}
}
