// Package txqueue provides a transactional queue: elements are enqueued atomically with the caller's
// business transaction and later dispatched, retried and dead-lettered by any number of workers
// sharing one relational table.
package txqueue

import "time"

// InitialDispatchCount is the dispatch count of a freshly inserted element.
const InitialDispatchCount = 0

// Element is a queue row as persisted by an ElementRepository.
type Element[P any] struct {
	// ID is assigned on insert and never changes afterwards.
	ID int64
	// CreatedAt is set once at insert.
	CreatedAt time.Time
	// NextDispatchAfter is the due time; while an element is leased it holds the lease expiry.
	NextDispatchAfter time.Time
	// DispatchCount is bumped by exactly one on every successful claim.
	DispatchCount int
	// Payload is owned by the application.
	Payload P
}

// NewElement assembles a persisted element from its fields.
func NewElement[P any](id int64, createdAt, nextDispatchAfter time.Time, dispatchCount int, payload P) Element[P] {
	return Element[P]{
		ID:                id,
		CreatedAt:         createdAt,
		NextDispatchAfter: nextDispatchAfter,
		DispatchCount:     dispatchCount,
		Payload:           payload,
	}
}

// Due reports whether the element may be claimed at now.
func (e Element[P]) Due(now time.Time) bool {
	return e.NextDispatchAfter.Before(now)
}

// ElementToEnqueue is what a caller hands to Queue.Enqueue.
type ElementToEnqueue[P any] struct {
	// Payload is stored as-is by the repository.
	Payload P
	// DispatchDelay postpones the first dispatch; zero means "due immediately".
	DispatchDelay time.Duration
}

// Build returns the persisted form once the repository has assigned an id.
func (e ElementToEnqueue[P]) Build(id int64, createdAt, nextDispatchAfter time.Time) Element[P] {
	return NewElement(id, createdAt, nextDispatchAfter, InitialDispatchCount, e.Payload)
}
