// Package sqltx is a database/sql implementation of txqueue.TransactionCreator.
//
// The transaction travels in the context: stores call ExecutorFrom to run inside whatever
// transaction the queue (or the application, through WithTx) has opened.
package sqltx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/mickamy/txqueue"
)

// Executor is the surface shared by *sql.DB and *sql.Tx that stores need.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// WithTx returns a context carrying tx. Use it to enqueue inside a transaction the application opened itself.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// FromContext returns the transaction carried by ctx.
func FromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// ExecutorFrom returns the transaction carried by ctx, or db when there is none.
func ExecutorFrom(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := FromContext(ctx); ok {
		return tx
	}
	return db
}

// InTx runs fn inside a new transaction and commits when fn succeeds.
// A failing rollback is returned together with fn's error.
func InTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqltx: begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = multierr.Append(err, fmt.Errorf("sqltx: rollback: %w", rbErr))
			}
		}
	}()
	if err = fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqltx: commit: %w", err)
	}
	return nil
}

// Option configures a Manager.
type Option func(*Manager)

// WithTxOptions sets the isolation level and read-only flag of transactions begun by the manager.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(m *Manager) {
		m.txOptions = opts
	}
}

// WithLogger routes rollback failures to logger.
func WithLogger(logger txqueue.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics counts rollback failures as database-rollback errors.
func WithMetrics(metrics txqueue.Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// Manager opens database/sql transactions for a queue.
type Manager struct {
	db        *sql.DB
	txOptions *sql.TxOptions
	logger    txqueue.Logger
	metrics   txqueue.Metrics
}

// NewManager returns a TransactionCreator over db.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:      db,
		metrics: txqueue.NopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DB returns the underlying database handle.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// OpenTransaction implements txqueue.TransactionCreator.
func (m *Manager) OpenTransaction(ctx context.Context, propagation txqueue.Propagation, queueName string) (txqueue.OpenedTransaction, error) {
	switch propagation {
	case txqueue.PropagationMandatory:
		if _, ok := FromContext(ctx); !ok {
			return nil, openError(propagation, queueName, txqueue.ErrNoTransaction)
		}
		return &transaction{ctx: ctx, queue: queueName, manager: m, joined: true}, nil
	case txqueue.PropagationRequiresNew:
		tx, err := m.db.BeginTx(ctx, m.txOptions)
		if err != nil {
			return nil, openError(propagation, queueName, err)
		}
		return &transaction{ctx: WithTx(ctx, tx), tx: tx, queue: queueName, manager: m}, nil
	default:
		return nil, openError(propagation, queueName, fmt.Errorf("unsupported propagation %d", propagation))
	}
}

func openError(propagation txqueue.Propagation, queueName string, cause error) error {
	return txqueue.NewError(queueName, queueName, txqueue.ErrTypeOpenTransaction,
		fmt.Sprintf("Failed to open transaction with propagation behaviour %s for %s.", propagation, queueName), cause)
}

type transaction struct {
	ctx     context.Context
	tx      *sql.Tx
	queue   string
	manager *Manager
	joined  bool
}

func (t *transaction) Context() context.Context {
	return t.ctx
}

func (t *transaction) Commit() error {
	if t.joined {
		return nil
	}
	if err := t.tx.Commit(); err != nil {
		return txqueue.NewError(t.queue, t.queue, txqueue.ErrTypeCommitTransaction,
			fmt.Sprintf("Failed to commit transaction for %s.", t.queue), err)
	}
	return nil
}

// Rollback of a joined transaction is left to its owner.
func (t *transaction) Rollback() {
	if t.joined {
		return
	}
	err := t.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return
	}
	handler := txqueue.NewMetricHandler(t.queue, t.manager.metrics, t.manager.logger)
	if t.manager.logger != nil {
		t.manager.logger.Error(t.ctx, "queue %s: rollback failed: %v", t.queue, err)
	}
	handler.RegisterRollbackError(t.ctx, err)
}
