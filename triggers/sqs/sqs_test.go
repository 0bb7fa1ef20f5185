package sqs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/triggers"
	sqstrigger "github.com/mickamy/txqueue/triggers/sqs"
)

type fakeAPI struct {
	mu       sync.Mutex
	sendErr  error
	sent     []*sqs.SendMessageInput
	inbox    []types.Message
	deleted  []string
	received chan struct{}
}

func (f *fakeAPI) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	f.inbox = append(f.inbox, types.Message{
		MessageId:     aws.String("m"),
		Body:          in.MessageBody,
		ReceiptHandle: aws.String("rh-" + aws.ToString(in.MessageBody)[:8]),
	})
	return &sqs.SendMessageOutput{MessageId: aws.String("m")}, nil
}

func (f *fakeAPI) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.inbox
	f.inbox = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeAPI) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

type job struct {
	Kind string `json:"kind"`
}

func TestPublishThenSubscribe(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	publisher := sqstrigger.NewPublisher[job](api, "http://localhost:4566/000000000000/txqueue")
	element := txqueue.NewElement(11, time.Unix(1700000000, 0).UTC(), time.Unix(1700000010, 0).UTC(), 2, job{Kind: "email"})

	require.NoError(t, publisher.Publish(context.Background(), element, "jobs"))
	require.Len(t, api.sent, 1)
	require.Equal(t, "jobs", aws.ToString(api.sent[0].MessageAttributes["txqueue-queue"].StringValue))

	dispatched := make(chan txqueue.Element[job], 1)
	subscriber := sqstrigger.NewSubscriber[job](api, "http://localhost:4566/000000000000/txqueue", sqstrigger.SubscriberOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errc := make(chan error, 1)
	go func() {
		errc <- subscriber.Run(ctx, triggers.DispatcherFunc[job](func(_ context.Context, e txqueue.Element[job]) {
			dispatched <- e
		}))
	}()

	select {
	case got := <-dispatched:
		require.Equal(t, element.ID, got.ID)
		require.Equal(t, element.DispatchCount, got.DispatchCount)
		require.Equal(t, element.Payload, got.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatch")
	}
	require.Eventually(t, func() bool { return api.deletedCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
}

func TestSubscriberDropsUndecodableMessages(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{inbox: []types.Message{{MessageId: aws.String("bad"), Body: aws.String("{"), ReceiptHandle: aws.String("rh-bad")}}}
	subscriber := sqstrigger.NewSubscriber[job](api, "q", sqstrigger.SubscriberOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	dispatched := make(chan txqueue.Element[job], 1)
	go func() {
		_ = subscriber.Run(ctx, triggers.DispatcherFunc[job](func(_ context.Context, e txqueue.Element[job]) { dispatched <- e }))
	}()

	require.Eventually(t, func() bool { return api.deletedCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.Empty(t, dispatched)
}

func TestPublishFailureIsTyped(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{sendErr: errors.New("throttled")}
	publisher := sqstrigger.NewPublisher[job](api, "q")

	err := publisher.Publish(context.Background(), txqueue.NewElement(1, time.Time{}, time.Time{}, 1, job{}), "jobs")

	typ, ok := txqueue.TypeOf(err)
	require.True(t, ok)
	require.Equal(t, txqueue.ErrTypeEventPublication, typ)
}
