package txqueuetest

import (
	"context"
	"sync"

	"github.com/mickamy/txqueue"
)

// OpPublish is the operation name accepted by Publisher.WillReturnError.
const OpPublish = "publish"

// Publisher records published elements.
type Publisher[P any] struct {
	failures failures

	// OnPublish, when set, runs for every successfully recorded element; tests use it to dispatch synchronously.
	OnPublish func(ctx context.Context, element txqueue.Element[P])

	mu        sync.Mutex
	published []txqueue.Element[P]
}

// NewPublisher returns a publisher that succeeds on everything.
func NewPublisher[P any]() *Publisher[P] {
	return &Publisher[P]{}
}

// WillReturnError makes Publish fail with err until cleared with a nil err.
func (p *Publisher[P]) WillReturnError(op string, err error) {
	p.failures.set(op, err)
}

// Publish implements txqueue.Publisher.
func (p *Publisher[P]) Publish(ctx context.Context, element txqueue.Element[P], _ string) error {
	if err := p.failures.get(OpPublish); err != nil {
		return err
	}
	p.mu.Lock()
	p.published = append(p.published, element)
	p.mu.Unlock()
	if p.OnPublish != nil {
		p.OnPublish(ctx, element)
	}
	return nil
}

// Published returns every element published so far.
func (p *Publisher[P]) Published() []txqueue.Element[P] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]txqueue.Element[P](nil), p.published...)
}
