package txqueue

import "context"

// Propagation selects how OpenTransaction relates to a transaction already carried by the context.
type Propagation int

const (
	// PropagationMandatory joins the transaction in the context and fails when there is none.
	PropagationMandatory Propagation = iota + 1
	// PropagationRequiresNew always begins a fresh transaction, isolated from any ambient one.
	PropagationRequiresNew
)

func (p Propagation) String() string {
	switch p {
	case PropagationMandatory:
		return "MANDATORY"
	case PropagationRequiresNew:
		return "REQUIRES_NEW"
	default:
		return "UNKNOWN"
	}
}

// TransactionCreator opens transactions on behalf of the queue.
// Failures are reported as QueueError with type open-transaction-error.
type TransactionCreator interface {
	OpenTransaction(ctx context.Context, propagation Propagation, queueName string) (OpenedTransaction, error)
}

// OpenedTransaction is a transaction started (or joined) by a TransactionCreator.
type OpenedTransaction interface {
	// Context carries the transaction; repositories resolve their executor from it.
	Context() context.Context
	// Commit fails with commit-transaction-error. A joined transaction commits nothing.
	Commit() error
	// Rollback never fails observably; implementations log and meter their own failures.
	Rollback()
}
