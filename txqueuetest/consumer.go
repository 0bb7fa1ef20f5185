package txqueuetest

import (
	"context"
	"sync"

	"github.com/mickamy/txqueue"
)

// Operation names accepted by Consumer.WillReturnError.
const (
	OpConsume         = "consume"
	OpConsumeFallback = "consumeFallback"
)

// Consumer records consumed payloads and can be told to fail either hook.
type Consumer[P any] struct {
	failures failures

	// OnConsume, when set, runs before Consume records the element.
	OnConsume func(ctx context.Context, element txqueue.Element[P]) error
	// OnConsumeFallback, when set, runs before ConsumeFallback records the element.
	OnConsumeFallback func(ctx context.Context, element txqueue.Element[P]) error

	mu        sync.Mutex
	consumed  []txqueue.Element[P]
	fallbacks []txqueue.Element[P]
}

// NewConsumer returns a consumer that succeeds on everything.
func NewConsumer[P any]() *Consumer[P] {
	return &Consumer[P]{}
}

// WillReturnError makes op fail with err until cleared with a nil err.
func (c *Consumer[P]) WillReturnError(op string, err error) {
	c.failures.set(op, err)
}

// Consume implements txqueue.PayloadConsumer.
func (c *Consumer[P]) Consume(ctx context.Context, element txqueue.Element[P]) error {
	if c.OnConsume != nil {
		if err := c.OnConsume(ctx, element); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.consumed = append(c.consumed, element)
	c.mu.Unlock()
	return c.failures.get(OpConsume)
}

// ConsumeFallback implements txqueue.FallbackConsumer.
func (c *Consumer[P]) ConsumeFallback(ctx context.Context, element txqueue.Element[P]) error {
	if c.OnConsumeFallback != nil {
		if err := c.OnConsumeFallback(ctx, element); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.fallbacks = append(c.fallbacks, element)
	c.mu.Unlock()
	return c.failures.get(OpConsumeFallback)
}

// Consumed returns every element passed to Consume, including failed attempts.
func (c *Consumer[P]) Consumed() []txqueue.Element[P] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]txqueue.Element[P](nil), c.consumed...)
}

// Fallbacks returns every element passed to ConsumeFallback.
func (c *Consumer[P]) Fallbacks() []txqueue.Element[P] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]txqueue.Element[P](nil), c.fallbacks...)
}
