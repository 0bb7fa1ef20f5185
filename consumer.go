package txqueue

import "context"

// PayloadConsumer processes the payload of a dispatched element.
// It runs inside the dispatch transaction carried by ctx; returning an error rolls back the delete.
type PayloadConsumer[P any] interface {
	Consume(ctx context.Context, element Element[P]) error
}

// FallbackConsumer is optionally implemented by a PayloadConsumer to react to dead-lettering.
// Consumers that do not implement it get a fallback that always succeeds.
type FallbackConsumer[P any] interface {
	ConsumeFallback(ctx context.Context, element Element[P]) error
}

// ConsumerFunc adapts a function to PayloadConsumer.
type ConsumerFunc[P any] func(ctx context.Context, element Element[P]) error

// Consume implements PayloadConsumer.
func (f ConsumerFunc[P]) Consume(ctx context.Context, element Element[P]) error {
	return f(ctx, element)
}

func consumeFallback[P any](ctx context.Context, consumer PayloadConsumer[P], element Element[P]) error {
	if fc, ok := consumer.(FallbackConsumer[P]); ok {
		return fc.ConsumeFallback(ctx, element)
	}
	return nil
}
