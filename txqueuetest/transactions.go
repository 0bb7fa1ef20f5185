package txqueuetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mickamy/txqueue"
)

// Operation names accepted by Transactions.WillReturnError.
const (
	OpOpenTransaction = "openTransaction"
	OpCommit          = "commit"
)

// Snapshotter is implemented by fakes whose writes are undone when a transaction rolls back.
type Snapshotter interface {
	// Snapshot captures the current state and returns a function restoring it.
	Snapshot() (restore func())
}

// Transactions is a TransactionCreator that rolls back enlisted fakes by restoring snapshots.
type Transactions struct {
	failures  failures
	resources []Snapshotter

	mu           sync.Mutex
	propagations []txqueue.Propagation
	commits      int
	rollbacks    int
}

// NewTransactions returns a creator that snapshots resources whenever a new transaction begins.
// A rollback restores the whole snapshot, so it also undoes writes committed by transactions that
// overlapped it. Only roll back concurrently when no other transaction writes in between.
func NewTransactions(resources ...Snapshotter) *Transactions {
	return &Transactions{resources: resources}
}

// WillReturnError makes op fail with err until cleared with a nil err.
func (t *Transactions) WillReturnError(op string, err error) {
	t.failures.set(op, err)
}

type txKey struct{}

// Begin starts a caller-owned transaction, the way application code opens one before calling Enqueue.
func (t *Transactions) Begin(ctx context.Context) (context.Context, *Tx) {
	tx := t.begin(ctx)
	return tx.ctx, tx
}

// OpenTransaction implements txqueue.TransactionCreator.
func (t *Transactions) OpenTransaction(ctx context.Context, propagation txqueue.Propagation, queueName string) (txqueue.OpenedTransaction, error) {
	t.mu.Lock()
	t.propagations = append(t.propagations, propagation)
	t.mu.Unlock()

	message := fmt.Sprintf("Failed to open transaction with propagation behaviour %s for %s.", propagation, queueName)
	if err := t.failures.get(OpOpenTransaction); err != nil {
		return nil, txqueue.NewError(queueName, queueName, txqueue.ErrTypeOpenTransaction, message, err)
	}
	switch propagation {
	case txqueue.PropagationMandatory:
		if _, ok := ctx.Value(txKey{}).(*Tx); !ok {
			return nil, txqueue.NewError(queueName, queueName, txqueue.ErrTypeOpenTransaction, message, txqueue.ErrNoTransaction)
		}
		return &Tx{owner: t, ctx: ctx, queue: queueName, joined: true}, nil
	default:
		tx := t.begin(ctx)
		tx.queue = queueName
		return tx, nil
	}
}

func (t *Transactions) begin(ctx context.Context) *Tx {
	tx := &Tx{owner: t}
	for _, r := range t.resources {
		tx.restore = append(tx.restore, r.Snapshot())
	}
	tx.ctx = context.WithValue(ctx, txKey{}, tx)
	return tx
}

// Propagations lists the propagation of every OpenTransaction call in order.
func (t *Transactions) Propagations() []txqueue.Propagation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]txqueue.Propagation(nil), t.propagations...)
}

// Commits returns the number of committed transactions.
func (t *Transactions) Commits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commits
}

// Rollbacks returns the number of rolled back transactions.
func (t *Transactions) Rollbacks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbacks
}

// Tx is a fake transaction. Joined transactions commit and roll back nothing.
type Tx struct {
	owner   *Transactions
	ctx     context.Context
	queue   string
	joined  bool
	restore []func()
	done    bool
}

// Context implements txqueue.OpenedTransaction.
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// Commit implements txqueue.OpenedTransaction.
func (tx *Tx) Commit() error {
	if err := tx.owner.failures.get(OpCommit); err != nil {
		return txqueue.NewError(tx.queue, tx.queue, txqueue.ErrTypeCommitTransaction,
			fmt.Sprintf("Failed to commit transaction for %s.", tx.queue), err)
	}
	if tx.joined || tx.done {
		return nil
	}
	tx.done = true
	tx.owner.mu.Lock()
	tx.owner.commits++
	tx.owner.mu.Unlock()
	return nil
}

// Rollback implements txqueue.OpenedTransaction.
func (tx *Tx) Rollback() {
	if tx.joined || tx.done {
		return
	}
	tx.done = true
	for i := len(tx.restore) - 1; i >= 0; i-- {
		tx.restore[i]()
	}
	tx.owner.mu.Lock()
	tx.owner.rollbacks++
	tx.owner.mu.Unlock()
}
