package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/internal/config"
	awssqs "github.com/mickamy/txqueue/internal/lib/aws/sqs"
	"github.com/mickamy/txqueue/triggers"
	"github.com/mickamy/txqueue/triggers/local"
	redistrigger "github.com/mickamy/txqueue/triggers/redis"
	sqstrigger "github.com/mickamy/txqueue/triggers/sqs"
)

// trigger pairs the retrier's publisher with the loop that feeds Dispatch.
type trigger struct {
	publisher txqueue.Publisher[payload]
	run       func(ctx context.Context, d triggers.Dispatcher[payload]) error
	close     func()
}

func openTrigger(ctx context.Context, cfg config.Config, logger txqueue.Logger) (*trigger, error) {
	switch cfg.Trigger {
	case config.TriggerLocal:
		bus := local.NewBus[payload](local.Options{Workers: cfg.LocalWorkers})
		return &trigger{publisher: bus, run: bus.Run, close: func() {}}, nil
	case config.TriggerSQS:
		client, err := awssqs.New(ctx, awssqs.Options{
			Region:    cfg.SQSRegion,
			Endpoint:  cfg.SQSEndpoint,
			AccessKey: cfg.SQSAccessKey,
			SecretKey: cfg.SQSSecretKey,
		})
		if err != nil {
			return nil, err
		}
		sub := sqstrigger.NewSubscriber[payload](client, cfg.SQSQueueURL, sqstrigger.SubscriberOptions{Logger: logger})
		return &trigger{
			publisher: sqstrigger.NewPublisher[payload](client, cfg.SQSQueueURL),
			run:       sub.Run,
			close:     func() {},
		}, nil
	case config.TriggerRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		sub := redistrigger.NewSubscriber[payload](client, redistrigger.SubscriberOptions{Key: cfg.RedisKey, Logger: logger})
		return &trigger{
			publisher: redistrigger.NewPublisher[payload](client, cfg.RedisKey),
			run:       sub.Run,
			close:     func() { _ = client.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown trigger %q", cfg.Trigger)
	}
}
