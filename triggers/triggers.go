// Package triggers holds what the dispatch triggers share. A trigger is a txqueue.Publisher on the retry
// side and a loop feeding Dispatcher on the other side; see the local, sqs and redis subpackages.
package triggers

import (
	"context"

	"github.com/mickamy/txqueue"
)

// Dispatcher receives claimed elements. *txqueue.Queue implements it.
type Dispatcher[P any] interface {
	Dispatch(ctx context.Context, element txqueue.Element[P])
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc[P any] func(ctx context.Context, element txqueue.Element[P])

// Dispatch implements Dispatcher.
func (f DispatcherFunc[P]) Dispatch(ctx context.Context, element txqueue.Element[P]) {
	f(ctx, element)
}

// PublicationError reports a failed hand-off of element.
func PublicationError[P any](queue string, element txqueue.Element[P], cause error) error {
	return txqueue.NewError(queue, element, txqueue.ErrTypeEventPublication,
		"Failed to publish the element as an event.", cause)
}
