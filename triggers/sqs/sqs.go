// Package sqs carries claimed elements through an Amazon SQS queue (or LocalStack).
package sqs

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/internal/eventwire"
	"github.com/mickamy/txqueue/triggers"
)

// API is the subset of *sqs.Client used here.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

const queueAttribute = "txqueue-queue"

// Publisher sends claimed elements to an SQS queue.
type Publisher[P any] struct {
	api      API
	queueURL string
	now      func() time.Time
}

// NewPublisher creates a publisher for queueURL.
func NewPublisher[P any](api API, queueURL string) *Publisher[P] {
	return &Publisher[P]{api: api, queueURL: queueURL, now: time.Now}
}

// Publish implements txqueue.Publisher.
func (p *Publisher[P]) Publish(ctx context.Context, element txqueue.Element[P], queueName string) error {
	body, err := eventwire.Marshal(eventwire.New(queueName, element, p.now()))
	if err != nil {
		return triggers.PublicationError(queueName, element, err)
	}
	_, err = p.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			queueAttribute: {DataType: aws.String("String"), StringValue: aws.String(queueName)},
		},
	})
	if err != nil {
		return triggers.PublicationError(queueName, element, err)
	}
	return nil
}

// SubscriberOptions tune the receive loop.
type SubscriberOptions struct {
	// MaxMessages per ReceiveMessage call (1-10).
	MaxMessages int32
	// WaitTimeSeconds enables long polling.
	WaitTimeSeconds int32
	// VisibilityTimeout should exceed the time Dispatch takes.
	VisibilityTimeout int32
	// ErrorBackoff is the pause after a failed ReceiveMessage.
	ErrorBackoff time.Duration
	// Logger emits subscriber logs.
	Logger txqueue.Logger
}

func (o *SubscriberOptions) setDefaults() {
	if o.MaxMessages <= 0 || o.MaxMessages > 10 {
		o.MaxMessages = 10
	}
	if o.WaitTimeSeconds <= 0 {
		o.WaitTimeSeconds = 5
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 30
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = time.Second
	}
	if o.Logger == nil {
		o.Logger = txqueue.NopLogger()
	}
}

// Subscriber receives events from SQS and dispatches them.
type Subscriber[P any] struct {
	api      API
	queueURL string
	opts     SubscriberOptions
}

// NewSubscriber creates a subscriber for queueURL.
func NewSubscriber[P any](api API, queueURL string, opts SubscriberOptions) *Subscriber[P] {
	opts.setDefaults()
	return &Subscriber[P]{api: api, queueURL: queueURL, opts: opts}
}

// Run receives until ctx is cancelled. Every received message is deleted once handled: the queue table,
// not SQS, decides whether an element is tried again.
func (s *Subscriber[P]) Run(ctx context.Context, d triggers.Dispatcher[P]) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.receiveOnce(ctx, d); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			s.opts.Logger.Error(ctx, "sqs receive error: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.ErrorBackoff):
			}
		}
	}
}

func (s *Subscriber[P]) receiveOnce(ctx context.Context, d triggers.Dispatcher[P]) error {
	resp, err := s.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: s.opts.MaxMessages,
		WaitTimeSeconds:     s.opts.WaitTimeSeconds,
		VisibilityTimeout:   s.opts.VisibilityTimeout,
	})
	if err != nil {
		return err
	}
	for _, msg := range resp.Messages {
		s.handle(ctx, d, msg)
	}
	return nil
}

func (s *Subscriber[P]) handle(ctx context.Context, d triggers.Dispatcher[P], msg types.Message) {
	event, err := eventwire.Unmarshal[P]([]byte(aws.ToString(msg.Body)))
	if err != nil {
		s.opts.Logger.Warn(ctx, "sqs: dropping undecodable message %s: %v", aws.ToString(msg.MessageId), err)
	} else {
		d.Dispatch(ctx, event.Element())
	}
	if msg.ReceiptHandle == nil {
		return
	}
	if _, err := s.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		s.opts.Logger.Error(ctx, "sqs delete error: %v", err)
	}
}
