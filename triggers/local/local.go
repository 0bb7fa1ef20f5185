// Package local hands claimed elements to Queue.Dispatch inside the same process.
package local

import (
	"context"
	"errors"
	"sync"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/triggers"
)

// ErrClosed is the cause reported when publishing to a stopped bus.
var ErrClosed = errors.New("local: bus closed")

// Options tune a Bus.
type Options struct {
	// Buffer is the channel capacity; Publish blocks while it is full.
	Buffer int
	// Workers is the number of goroutines calling Dispatch.
	Workers int
}

func (o *Options) setDefaults() {
	if o.Buffer <= 0 {
		o.Buffer = 64
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
}

type event[P any] struct {
	queue   string
	element txqueue.Element[P]
}

// Bus is a bounded in-process channel drained by a pool of dispatch workers.
type Bus[P any] struct {
	opts   Options
	events chan event[P]
	done   chan struct{}
	once   sync.Once
}

// NewBus returns a bus; nothing is dispatched until Run is called.
func NewBus[P any](opts Options) *Bus[P] {
	opts.setDefaults()
	return &Bus[P]{
		opts:   opts,
		events: make(chan event[P], opts.Buffer),
		done:   make(chan struct{}),
	}
}

// Publish implements txqueue.Publisher.
func (b *Bus[P]) Publish(ctx context.Context, element txqueue.Element[P], queueName string) error {
	select {
	case <-b.done:
		return triggers.PublicationError(queueName, element, ErrClosed)
	default:
	}
	select {
	case b.events <- event[P]{queue: queueName, element: element}:
		return nil
	case <-b.done:
		return triggers.PublicationError(queueName, element, ErrClosed)
	case <-ctx.Done():
		return triggers.PublicationError(queueName, element, ctx.Err())
	}
}

// Run dispatches published elements with Workers goroutines until ctx is cancelled.
// Elements still buffered at that point are dropped; their lease expires and a later claim picks them up.
func (b *Bus[P]) Run(ctx context.Context, d triggers.Dispatcher[P]) error {
	defer b.once.Do(func() { close(b.done) })

	var wg sync.WaitGroup
	for i := 0; i < b.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-b.events:
					d.Dispatch(ctx, ev.element)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Direct dispatches synchronously from the retrier's goroutine.
type Direct[P any] struct {
	mu     sync.RWMutex
	target triggers.Dispatcher[P]
}

// Bind sets the dispatcher; it is usually the queue that was built with this publisher.
func (d *Direct[P]) Bind(target triggers.Dispatcher[P]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = target
}

// ErrUnbound is the cause reported when Direct has no dispatcher yet.
var ErrUnbound = errors.New("local: direct publisher has no dispatcher")

// Publish implements txqueue.Publisher.
func (d *Direct[P]) Publish(ctx context.Context, element txqueue.Element[P], queueName string) error {
	d.mu.RLock()
	target := d.target
	d.mu.RUnlock()
	if target == nil {
		return triggers.PublicationError(queueName, element, ErrUnbound)
	}
	target.Dispatch(ctx, element)
	return nil
}
