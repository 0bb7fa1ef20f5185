package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/mickamy/txqueue"
	"github.com/mickamy/txqueue/internal/config"
	"github.com/mickamy/txqueue/migrations"
	"github.com/mickamy/txqueue/sqltx"
	"github.com/mickamy/txqueue/stores"
)

// The command is payload-agnostic: it stores whatever JSON it is given.
type payload = json.RawMessage

type deadLetterStore interface {
	txqueue.DeadLetterRepository[payload]
	Count(ctx context.Context) (int, error)
}

type backend struct {
	db          *sql.DB
	dialect     migrations.Dialect
	repository  txqueue.ElementRepository[payload]
	deadLetters deadLetterStore
	close       func()
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	dialect, err := migrations.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	be := &backend{dialect: dialect}
	switch dialect {
	case migrations.Postgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		be.db = stdlib.OpenDBFromPool(pool)
		be.close = func() {
			_ = be.db.Close()
			pool.Close()
		}
		store := stores.NewPostgresStore[payload](be.db, stores.WithPostgresQueue(cfg.QueueName))
		be.repository, be.deadLetters = store, store.DeadLetters()
	case migrations.MySQL:
		if be.db, err = sql.Open("mysql", cfg.DatabaseDSN); err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		be.close = func() { _ = be.db.Close() }
		store := stores.NewMySQLStore[payload](be.db, stores.WithMySQLQueue(cfg.QueueName))
		be.repository, be.deadLetters = store, store.DeadLetters()
	case migrations.SQLite:
		if be.db, err = sql.Open("sqlite", cfg.DatabaseDSN); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		be.close = func() { _ = be.db.Close() }
		store := stores.NewSQLiteStore[payload](be.db, stores.WithSQLiteQueue(cfg.QueueName))
		be.repository, be.deadLetters = store, store.DeadLetters()
	}
	return be, nil
}

func (be *backend) newQueue(cfg config.Config, logger txqueue.Logger, sink txqueue.Metrics, consumer txqueue.PayloadConsumer[payload], publisher txqueue.Publisher[payload]) (*txqueue.Queue[payload], error) {
	return txqueue.New(txqueue.Options[payload]{
		Name:         cfg.QueueName,
		Config:       cfg.Queue,
		Repository:   be.repository,
		DeadLetters:  be.deadLetters,
		Transactions: sqltx.NewManager(be.db, sqltx.WithLogger(logger), sqltx.WithMetrics(sink)),
		Consumer:     consumer,
		Publisher:    publisher,
		Metrics:      sink,
		Logger:       logger,
	})
}
