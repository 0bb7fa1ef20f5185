package txqueue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNameRequired is returned by New when Options.Name is empty.
	ErrNameRequired = errors.New("txqueue: queue name is required")
	// ErrRepositoryRequired is returned by New when Options.Repository is nil.
	ErrRepositoryRequired = errors.New("txqueue: element repository is required")
	// ErrDeadLettersRequired is returned by New when Options.DeadLetters is nil.
	ErrDeadLettersRequired = errors.New("txqueue: dead letter repository is required")
	// ErrTransactionsRequired is returned by New when Options.Transactions is nil.
	ErrTransactionsRequired = errors.New("txqueue: transaction creator is required")
	// ErrConsumerRequired is returned by New when Options.Consumer is nil.
	ErrConsumerRequired = errors.New("txqueue: payload consumer is required")
	// ErrPublisherRequired is returned by New when Options.Publisher is nil.
	ErrPublisherRequired = errors.New("txqueue: publisher is required")
	// ErrNoTransaction is the cause reported when PropagationMandatory finds no transaction in the context.
	ErrNoTransaction = errors.New("txqueue: no transaction in context")
	// ErrInvalidConfig wraps every Config validation failure.
	ErrInvalidConfig = errors.New("txqueue: invalid configuration")
)

// Options configure a Queue and its collaborators.
type Options[P any] struct {
	// Name identifies the queue in logs, metrics and errors.
	Name string
	// Config is validated by New; the zero value is replaced by DefaultConfig.
	Config Config
	// Repository persists queue elements.
	Repository ElementRepository[P]
	// DeadLetters receives elements that exhausted MaxDispatchCount.
	DeadLetters DeadLetterRepository[P]
	// Transactions opens the transactions every operation runs in.
	Transactions TransactionCreator
	// Consumer processes payloads on dispatch.
	Consumer PayloadConsumer[P]
	// Publisher hands claimed elements over to Dispatch.
	Publisher Publisher[P]
	// Metrics is optional; failures to record are logged and ignored.
	Metrics Metrics
	// Logger emits queue logs.
	Logger Logger
	// WorkerID tags the logs of Run.
	WorkerID string
	// Now supplies the current time; override for tests or custom time sources.
	Now func() time.Time
}

func (o *Options[P]) setDefaults() {
	if o.Config == (Config{}) {
		o.Config = DefaultConfig()
	}
	if o.Metrics == nil {
		o.Metrics = NopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	if o.WorkerID == "" {
		o.WorkerID = newWorkerID()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o *Options[P]) validate() error {
	switch {
	case o.Name == "":
		return ErrNameRequired
	case o.Repository == nil:
		return ErrRepositoryRequired
	case o.DeadLetters == nil:
		return ErrDeadLettersRequired
	case o.Transactions == nil:
		return ErrTransactionsRequired
	case o.Consumer == nil:
		return ErrConsumerRequired
	case o.Publisher == nil:
		return ErrPublisherRequired
	}
	return o.Config.Validate(o.Name)
}

// Queue is the public surface of one transactional queue.
type Queue[P any] struct {
	opts       Options[P]
	enqueuer   *enqueuer[P]
	dispatcher *dispatcher[P]
	retrier    *retrier[P]
}

// New validates opts and wires the enqueuer, dispatcher and retrier.
func New[P any](opts Options[P]) (*Queue[P], error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	metrics := NewMetricHandler(opts.Name, opts.Metrics, opts.Logger)
	return &Queue[P]{
		opts: opts,
		enqueuer: &enqueuer[P]{
			name:         opts.Name,
			now:          opts.Now,
			logger:       opts.Logger,
			metrics:      metrics,
			transactions: opts.Transactions,
			repository:   opts.Repository,
		},
		dispatcher: &dispatcher[P]{
			name:         opts.Name,
			cfg:          opts.Config,
			now:          opts.Now,
			logger:       opts.Logger,
			metrics:      metrics,
			transactions: opts.Transactions,
			consumer:     opts.Consumer,
			repository:   opts.Repository,
			deadLetters:  opts.DeadLetters,
		},
		retrier: &retrier[P]{
			name:         opts.Name,
			cfg:          opts.Config,
			now:          opts.Now,
			logger:       opts.Logger,
			metrics:      metrics,
			transactions: opts.Transactions,
			publisher:    opts.Publisher,
			repository:   opts.Repository,
		},
	}, nil
}

// Name returns the queue name.
func (q *Queue[P]) Name() string {
	return q.opts.Name
}

// Config returns the validated configuration.
func (q *Queue[P]) Config() Config {
	return q.opts.Config
}

// Enqueue inserts item inside the transaction carried by ctx.
// It fails when ctx carries no transaction; the element becomes visible when the caller commits.
// Every failure is returned as enqueue-unexpected-error wrapping the error that caused it, which is
// also the tag logged and metered. Use HasType to test for either tag.
func (q *Queue[P]) Enqueue(ctx context.Context, item ElementToEnqueue[P]) (Element[P], error) {
	return q.enqueuer.enqueue(ctx, item)
}

// Dispatch consumes one claimed element in its own transaction and dead-letters it once its
// attempts are exhausted. Outcomes are only visible through logs, metrics and the dead-letter store.
func (q *Queue[P]) Dispatch(ctx context.Context, element Element[P]) {
	q.dispatcher.dispatch(ctx, element)
}

// RetryDispatch claims a batch of due elements and publishes each of them.
func (q *Queue[P]) RetryDispatch(ctx context.Context) {
	q.retrier.retry(ctx)
}
