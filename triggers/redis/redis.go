// Package redis carries claimed elements through a Redis list.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/internal/eventwire"
	"github.com/mickamy/txqueue/triggers"
)

// DefaultKey is the list used when none is configured.
const DefaultKey = "txqueue:events"

// Client is the subset of *redis.Client used here.
type Client interface {
	RPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd
}

// Publisher appends claimed elements to a list.
type Publisher[P any] struct {
	client Client
	key    string
	now    func() time.Time
}

// NewPublisher creates a publisher pushing onto key.
func NewPublisher[P any](client Client, key string) *Publisher[P] {
	if key == "" {
		key = DefaultKey
	}
	return &Publisher[P]{client: client, key: key, now: time.Now}
}

// Publish implements txqueue.Publisher.
func (p *Publisher[P]) Publish(ctx context.Context, element txqueue.Element[P], queueName string) error {
	data, err := eventwire.Marshal(eventwire.New(queueName, element, p.now()))
	if err != nil {
		return triggers.PublicationError(queueName, element, err)
	}
	if err := p.client.RPush(ctx, p.key, data).Err(); err != nil {
		return triggers.PublicationError(queueName, element, err)
	}
	return nil
}

// SubscriberOptions tune the pop loop.
type SubscriberOptions struct {
	// Key is the list to pop from.
	Key string
	// PopTimeout bounds one BLPOP so cancellation is noticed.
	PopTimeout time.Duration
	// ErrorBackoff is the pause after a failed BLPOP.
	ErrorBackoff time.Duration
	// Logger emits subscriber logs.
	Logger txqueue.Logger
}

func (o *SubscriberOptions) setDefaults() {
	if o.Key == "" {
		o.Key = DefaultKey
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = time.Second
	}
	if o.Logger == nil {
		o.Logger = txqueue.NopLogger()
	}
}

// Subscriber pops events and dispatches them one at a time.
type Subscriber[P any] struct {
	client Client
	opts   SubscriberOptions
}

// NewSubscriber creates a subscriber.
func NewSubscriber[P any](client Client, opts SubscriberOptions) *Subscriber[P] {
	opts.setDefaults()
	return &Subscriber[P]{client: client, opts: opts}
}

// Run pops until ctx is cancelled. A popped event is gone from Redis; if its dispatch is lost the
// element is claimed again once its lease expires.
func (s *Subscriber[P]) Run(ctx context.Context, d triggers.Dispatcher[P]) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := s.client.BLPop(ctx, s.opts.PopTimeout, s.opts.Key).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.opts.Logger.Error(ctx, "redis pop error: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.ErrorBackoff):
			}
			continue
		}
		// BLPOP replies with [key, value].
		if len(res) != 2 {
			s.opts.Logger.Warn(ctx, "redis: unexpected BLPOP reply %v", res)
			continue
		}
		event, err := eventwire.Unmarshal[P]([]byte(res[1]))
		if err != nil {
			s.opts.Logger.Warn(ctx, "redis: dropping undecodable event: %v", err)
			continue
		}
		d.Dispatch(ctx, event.Element())
	}
}
