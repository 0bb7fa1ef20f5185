package txqueue

import (
	"context"
	"time"
)

type dispatcher[P any] struct {
	name         string
	cfg          Config
	now          func() time.Time
	logger       Logger
	metrics      *MetricHandler
	transactions TransactionCreator
	consumer     PayloadConsumer[P]
	repository   ElementRepository[P]
	deadLetters  DeadLetterRepository[P]
}

func (d *dispatcher[P]) dispatch(ctx context.Context, element Element[P]) {
	defer func() {
		if r := recover(); r != nil {
			qe := NewError(d.name, element, ErrTypeDispatcherUnexpected,
				"An unexpected error occurred during dispatching the element.", panicError(r))
			d.report(ctx, qe)
		}
	}()

	if qe := d.dispatchInternal(ctx, element); qe != nil {
		d.report(ctx, qe)
		if element.DispatchCount < d.cfg.MaxDispatchCount {
			return
		}
		d.moveToDeadLetterQueue(ctx, element)
		return
	}
	d.metrics.RegisterDispatchSuccess(ctx, element.CreatedAt, d.now(), element.DispatchCount)
}

// dispatchInternal turns a panic of the primary path into dispatcher-unexpected-error so an exhausted
// element is still dead-lettered.
func (d *dispatcher[P]) dispatchInternal(ctx context.Context, element Element[P]) (qe *QueueError[Element[P]]) {
	defer func() {
		if r := recover(); r != nil {
			qe = NewError(d.name, element, ErrTypeDispatcherUnexpected,
				"An unexpected error occurred during dispatching the element.", panicError(r))
		}
	}()
	return d.dispatchInTransaction(ctx, element)
}

// dispatchInTransaction deletes the element and consumes its payload in one REQUIRES_NEW transaction.
func (d *dispatcher[P]) dispatchInTransaction(ctx context.Context, element Element[P]) *QueueError[Element[P]] {
	tx, err := d.transactions.OpenTransaction(ctx, PropagationRequiresNew, d.name)
	if err != nil {
		return asQueueError(err, d.name, element, ErrTypeOpenTransaction, "Failed to open transaction.")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	if qe := d.consume(tx.Context(), element); qe != nil {
		return qe
	}
	if err := tx.Commit(); err != nil {
		return asQueueError(err, d.name, element, ErrTypeCommitTransaction, "Failed to commit transaction.")
	}
	committed = true
	return nil
}

func (d *dispatcher[P]) consume(ctx context.Context, element Element[P]) (qe *QueueError[Element[P]]) {
	defer func() {
		if r := recover(); r != nil {
			cause := panicError(r)
			qe = NewError(d.name, element, ErrTypeConsumePayloadUnexpected,
				"An unexpected error occurred while consuming the element payload. Cause: "+cause.Error(), cause)
		}
	}()

	if _, err := d.repository.Delete(ctx, element); err != nil {
		return asQueueError(err, d.name, element, ErrTypeDeleteElement, "Failed to delete the element.")
	}
	if err := d.consumer.Consume(ctx, element); err != nil {
		return asQueueError(err, d.name, element, ErrTypeConsumePayloadUnexpected,
			"An unexpected error occurred while consuming the element payload. Cause: "+err.Error())
	}
	return nil
}

// moveToDeadLetterQueue runs the dead-letter transition in a second REQUIRES_NEW transaction.
// A lost delete race rolls the whole transition back; a later claim retries it.
func (d *dispatcher[P]) moveToDeadLetterQueue(ctx context.Context, element Element[P]) {
	qe := d.moveInTransaction(ctx, element)
	if qe != nil {
		d.logger.Error(ctx, "Failed to move queue element %+v to dead letter queue. %v", element, qe)
		d.metrics.RegisterError(ctx, ErrTypeMovedToDeadLetterQueue, qe.Cause)
		return
	}
	d.metrics.RegisterMoveToDeadLetterQueue(ctx, element.DispatchCount)
}

func (d *dispatcher[P]) moveInTransaction(ctx context.Context, element Element[P]) (qe *QueueError[Element[P]]) {
	defer func() {
		if r := recover(); r != nil {
			qe = NewError(d.name, element, ErrTypeDispatcherUnexpected,
				"An unexpected error occurred during moving the element to the dead letter queue.", panicError(r))
		}
	}()

	tx, err := d.transactions.OpenTransaction(ctx, PropagationRequiresNew, d.name)
	if err != nil {
		return asQueueError(err, d.name, element, ErrTypeOpenTransaction, "Failed to open transaction.")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	if qe := d.consumeFallback(tx.Context(), element); qe != nil {
		return qe
	}
	if err := tx.Commit(); err != nil {
		return asQueueError(err, d.name, element, ErrTypeCommitTransaction, "Failed to commit transaction.")
	}
	committed = true
	return nil
}

func (d *dispatcher[P]) consumeFallback(ctx context.Context, element Element[P]) (qe *QueueError[Element[P]]) {
	defer func() {
		if r := recover(); r != nil {
			cause := panicError(r)
			qe = NewError(d.name, element, ErrTypeFallbackConsumePayloadUnexpected,
				"An unexpected error occurred while fallback consume of the element payload. Cause: "+cause.Error(), cause)
		}
	}()

	if _, err := d.repository.Delete(ctx, element); err != nil {
		return asQueueError(err, d.name, element, ErrTypeDeleteElement, "Failed to delete the element.")
	}
	if _, err := d.deadLetters.Insert(ctx, element); err != nil {
		return asQueueError(err, d.name, element, ErrTypeDeadLetterInsert, "Failed to insert the element into the dead letter store.")
	}
	if err := consumeFallback(ctx, d.consumer, element); err != nil {
		return asQueueError(err, d.name, element, ErrTypeFallbackConsumePayloadUnexpected,
			"An unexpected error occurred while fallback consume of the element payload. Cause: "+err.Error())
	}
	return nil
}

func (d *dispatcher[P]) report(ctx context.Context, qe *QueueError[Element[P]]) {
	qe.LogError(ctx, d.logger)
	d.metrics.RegisterQueueError(ctx, qe)
}
