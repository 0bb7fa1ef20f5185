package txqueue

import (
	"context"
	"time"
)

const enqueueUnexpectedMessage = "An unexpected error occurred during adding the element to the queue."

type enqueuer[P any] struct {
	name         string
	now          func() time.Time
	logger       Logger
	metrics      *MetricHandler
	transactions TransactionCreator
	repository   ElementRepository[P]
}

// enqueue joins the caller's transaction and inserts item. It never commits: the caller owns the transaction.
// Every failure is logged and metered under its own tag and returned as enqueue-unexpected-error.
func (e *enqueuer[P]) enqueue(ctx context.Context, item ElementToEnqueue[P]) (element Element[P], err error) {
	defer func() {
		if r := recover(); r != nil {
			qe := NewError(e.name, item, ErrTypeEnqueueUnexpected, enqueueUnexpectedMessage, panicError(r))
			e.report(ctx, qe)
			element, err = Element[P]{}, qe
		}
	}()

	element, qe := e.insert(ctx, item)
	if qe != nil {
		e.report(ctx, qe)
		if qe.Type != ErrTypeEnqueueUnexpected {
			qe = NewError(e.name, item, ErrTypeEnqueueUnexpected, enqueueUnexpectedMessage, qe)
		}
		return Element[P]{}, qe
	}
	return element, nil
}

func (e *enqueuer[P]) insert(ctx context.Context, item ElementToEnqueue[P]) (Element[P], *QueueError[ElementToEnqueue[P]]) {
	now := e.now()
	nextDispatchAfter := now.Add(item.DispatchDelay)

	tx, err := e.transactions.OpenTransaction(ctx, PropagationMandatory, e.name)
	if err != nil {
		return Element[P]{}, asQueueError(err, e.name, item, ErrTypeOpenTransaction, "Failed to open transaction.")
	}
	element, err := e.repository.Insert(tx.Context(), item, now, nextDispatchAfter)
	if err != nil {
		return Element[P]{}, asQueueError(err, e.name, item, ErrTypeQueueInsert, "Failed to insert the element.")
	}
	return element, nil
}

func (e *enqueuer[P]) report(ctx context.Context, qe *QueueError[ElementToEnqueue[P]]) {
	qe.LogError(ctx, e.logger)
	e.metrics.RegisterQueueError(ctx, qe)
}
