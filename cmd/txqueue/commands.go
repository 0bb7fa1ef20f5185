package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/internal/config"
	"github.com/mickamy/txqueue/logging"
	"github.com/mickamy/txqueue/migrations"
	"github.com/mickamy/txqueue/sqltx"
	"github.com/mickamy/txqueue/triggers/local"
	"github.com/mickamy/txqueue/webhook"
)

func runMigrate(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	switch action {
	case "up":
		applied, err := migrations.Up(ctx, be.db, be.dialect)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "applied %d migration(s)\n", len(applied))
		return err
	case "down":
		return migrations.Down(ctx, be.db, be.dialect)
	case "version":
		v, err := migrations.Version(ctx, be.db, be.dialect)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "version %d\n", v)
		return err
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
}

func runEnqueue(ctx context.Context, cfg config.Config, zl *zap.Logger, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("enqueue takes exactly one JSON argument")
	}
	body := payload(args[0])
	if !json.Valid(body) {
		return fmt.Errorf("enqueue: %q is not valid JSON", args[0])
	}

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	logger := logging.NewZap(zl)
	// Enqueuing never publishes; the worker's retrier picks the element up.
	queue, err := be.newQueue(cfg, logger, txqueue.NopMetrics{}, webhook.NewConsumer[payload](cfg.WebhookURL), &local.Direct[payload]{})
	if err != nil {
		return err
	}

	var element txqueue.Element[payload]
	err = sqltx.InTx(ctx, be.db, func(ctx context.Context) error {
		element, err = queue.Enqueue(ctx, txqueue.ElementToEnqueue[payload]{Payload: body})
		return err
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "enqueued element %d\n", element.ID)
	return err
}

func runInspect(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("inspect takes exactly one element id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("inspect: invalid id %q: %w", args[0], err)
	}

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	element, err := be.repository.FindByID(ctx, id)
	if err != nil {
		return err
	}
	deadLetters, err := be.deadLetters.Count(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		ID                int64           `json:"id"`
		CreatedAt         string          `json:"created_at"`
		NextDispatchAfter string          `json:"next_dispatch_after"`
		DispatchCount     int             `json:"dispatch_count"`
		Payload           json.RawMessage `json:"payload"`
		DeadLetters       int             `json:"dead_letters"`
	}{
		ID:                element.ID,
		CreatedAt:         element.CreatedAt.UTC().Format(timeLayout),
		NextDispatchAfter: element.NextDispatchAfter.UTC().Format(timeLayout),
		DispatchCount:     element.DispatchCount,
		Payload:           element.Payload,
		DeadLetters:       deadLetters,
	})
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
