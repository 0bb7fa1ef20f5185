package txqueue

import (
	"context"
	"time"
)

// ElementRepository persists queue elements.
// Every method resolves its executor from ctx so it runs inside the transaction opened by the queue.
type ElementRepository[P any] interface {
	// Insert stores a new element with DispatchCount 0 and returns it with its assigned id.
	Insert(ctx context.Context, item ElementToEnqueue[P], createdAt, nextDispatchAfter time.Time) (Element[P], error)
	// FindByID is a point lookup used for diagnostics.
	FindByID(ctx context.Context, id int64) (Element[P], error)
	// LockForNextDispatch claims up to batchSize elements with NextDispatchAfter < notDispatchedTill,
	// oldest first by (CreatedAt, ID), skipping rows locked by concurrent claimers. Claimed rows get
	// NextDispatchAfter = nextDispatchTime and DispatchCount+1 in the same statement.
	LockForNextDispatch(ctx context.Context, batchSize int, notDispatchedTill, nextDispatchTime time.Time) ([]Element[P], error)
	// Delete removes the row matching both ID and DispatchCount.
	// It reports zero-rows-deleted when the stored dispatch count has moved on.
	Delete(ctx context.Context, element Element[P]) (Element[P], error)
}

// DeadLetterRepository stores elements that exhausted their attempts.
type DeadLetterRepository[P any] interface {
	Insert(ctx context.Context, element Element[P]) (Element[P], error)
}
