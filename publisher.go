package txqueue

import "context"

// Publisher hands a claimed element from the retry path to whatever eventually calls Queue.Dispatch.
// Failures should be reported as application-event-publication-error.
type Publisher[P any] interface {
	Publish(ctx context.Context, element Element[P], queueName string) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc[P any] func(ctx context.Context, element Element[P], queueName string) error

// Publish implements Publisher.
func (f PublisherFunc[P]) Publish(ctx context.Context, element Element[P], queueName string) error {
	return f(ctx, element, queueName)
}
