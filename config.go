package txqueue

import (
	"fmt"
	"time"
)

// Config holds the structural tuning knobs of one queue.
type Config struct {
	// LockTimeout is the lease granted to a claimed element before it becomes claimable again.
	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"10s"`
	// MaxDispatchCount is the number of attempts allowed before the element is dead-lettered.
	MaxDispatchCount int `env:"MAX_DISPATCH_COUNT" envDefault:"3"`
	// RetryDispatchBatchSize caps how many elements one retry cycle claims.
	RetryDispatchBatchSize int `env:"RETRY_DISPATCH_BATCH_SIZE" envDefault:"10"`
	// RetryScheduledRateDelay is the period between two retry cycles started by Queue.Run.
	RetryScheduledRateDelay time.Duration `env:"RETRY_SCHEDULED_RATE_DELAY" envDefault:"100ms"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		LockTimeout:             10 * time.Second,
		MaxDispatchCount:        3,
		RetryDispatchBatchSize:  10,
		RetryScheduledRateDelay: 100 * time.Millisecond,
	}
}

// Validate rejects non-positive values. The returned error names the property and the queue.
func (c Config) Validate(queueName string) error {
	switch {
	case c.LockTimeout <= 0:
		return invalidProperty("lock-timeout", queueName)
	case c.MaxDispatchCount <= 0:
		return invalidProperty("max-dispatch-count", queueName)
	case c.RetryDispatchBatchSize <= 0:
		return invalidProperty("retry-dispatch-batch-size", queueName)
	case c.RetryScheduledRateDelay <= 0:
		return invalidProperty("retry-scheduled-rate-delay", queueName)
	}
	return nil
}

func invalidProperty(property, queueName string) error {
	return fmt.Errorf("%w: configuration property '%s' of queue %s must be greater than zero",
		ErrInvalidConfig, property, queueName)
}
