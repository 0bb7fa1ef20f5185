package txqueue

import (
	"context"
	"time"
)

type retrier[P any] struct {
	name         string
	cfg          Config
	now          func() time.Time
	logger       Logger
	metrics      *MetricHandler
	transactions TransactionCreator
	publisher    Publisher[P]
	repository   ElementRepository[P]
}

func (r *retrier[P]) retry(ctx context.Context) {
	elements, qe := r.findAndLock(ctx)
	if qe != nil {
		qe.LogError(ctx, r.logger)
		r.metrics.RegisterQueueError(ctx, qe)
		return
	}
	for _, element := range elements {
		r.publish(ctx, element)
	}
}

// findAndLock claims a batch in its own transaction and commits straight away: the bumped lease is
// the durable effect, and committing releases the row locks.
func (r *retrier[P]) findAndLock(ctx context.Context) (elements []Element[P], qe *QueueError[string]) {
	defer func() {
		if rec := recover(); rec != nil {
			elements = nil
			qe = NewError(r.name, r.name, ErrTypeRetrierFindAndLock,
				"An unexpected error occurred during lock queue elements for retry.", panicError(rec))
		}
	}()

	now := r.now()
	leaseHorizon := now.Add(r.cfg.LockTimeout)

	tx, err := r.transactions.OpenTransaction(ctx, PropagationRequiresNew, r.name)
	if err != nil {
		return nil, asQueueError(err, r.name, r.name, ErrTypeOpenTransaction, "Failed to open transaction.")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	elements, err = r.repository.LockForNextDispatch(tx.Context(), r.cfg.RetryDispatchBatchSize, now, leaseHorizon)
	if err != nil {
		return nil, asQueueError(err, r.name, r.name, ErrTypeRetryDispatchLock, "Failed to lock queue elements for retry.")
	}
	if err := tx.Commit(); err != nil {
		return nil, asQueueError(err, r.name, r.name, ErrTypeRetrierFindAndLock,
			"An unexpected error occurred during lock queue elements for retry.")
	}
	committed = true
	return elements, nil
}

// publish hands one element to the publisher; a failure never stops the rest of the batch.
func (r *retrier[P]) publish(ctx context.Context, element Element[P]) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(ctx, "Error while publishing application event for element %d of queue %s: %v", element.ID, r.name, rec)
			r.metrics.RegisterError(ctx, ErrTypeRetrierPublish, panicError(rec))
		}
	}()

	if err := r.publisher.Publish(ctx, element, r.name); err != nil {
		qe := asQueueError(err, r.name, element, ErrTypeEventPublication, "Failed to publish the element.")
		qe.LogError(ctx, r.logger)
		r.metrics.RegisterQueueError(ctx, qe)
	}
}
