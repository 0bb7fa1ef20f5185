package txqueue

import (
	"context"
	"fmt"
	"time"
)

// Metrics is the sink for queue counters and timers.
type Metrics interface {
	// IncError counts one absorbed error. errorClass is the Go type of the cause, or "" when there is none.
	IncError(queue string, errorType ErrorType, errorClass string)
	// ObserveDispatchSuccess records the latency between enqueue and successful dispatch.
	ObserveDispatchSuccess(queue string, latency time.Duration, dispatchCount int)
	// IncDeadLetter counts one element moved to the dead-letter store.
	IncDeadLetter(queue string, dispatchCount int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

// IncError implements Metrics.
func (NopMetrics) IncError(string, ErrorType, string) {}

// ObserveDispatchSuccess implements Metrics.
func (NopMetrics) ObserveDispatchSuccess(string, time.Duration, int) {}

// IncDeadLetter implements Metrics.
func (NopMetrics) IncDeadLetter(string, int) {}

// MetricHandler records queue metrics for one queue on a best-effort basis:
// a failing sink is logged and never affects the queue operation.
type MetricHandler struct {
	queue   string
	metrics Metrics
	logger  Logger
}

// NewMetricHandler binds a sink to a queue name.
func NewMetricHandler(queue string, metrics Metrics, logger Logger) *MetricHandler {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &MetricHandler{queue: queue, metrics: metrics, logger: logger}
}

// RegisterQueueError counts err under its own type tag.
func (h *MetricHandler) RegisterQueueError(ctx context.Context, err error) {
	typ, ok := TypeOf(err)
	if !ok {
		typ = "unknown"
	}
	h.RegisterError(ctx, typ, causeOf(err))
}

// RegisterError counts an error of the given type.
func (h *MetricHandler) RegisterError(ctx context.Context, typ ErrorType, cause error) {
	h.safely(ctx, func() {
		h.metrics.IncError(h.queue, typ, errorClass(cause))
	})
}

// RegisterRollbackError counts a failed rollback.
func (h *MetricHandler) RegisterRollbackError(ctx context.Context, cause error) {
	h.RegisterError(ctx, ErrTypeDatabaseRollback, cause)
}

// RegisterDispatchSuccess records latency since createdAt.
func (h *MetricHandler) RegisterDispatchSuccess(ctx context.Context, createdAt, now time.Time, dispatchCount int) {
	h.safely(ctx, func() {
		h.metrics.ObserveDispatchSuccess(h.queue, now.Sub(createdAt), dispatchCount)
	})
}

// RegisterMoveToDeadLetterQueue counts a completed dead-letter transition.
func (h *MetricHandler) RegisterMoveToDeadLetterQueue(ctx context.Context, dispatchCount int) {
	h.safely(ctx, func() {
		h.metrics.IncDeadLetter(h.queue, dispatchCount)
	})
}

func (h *MetricHandler) safely(ctx context.Context, record func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn(ctx, "failed to record metric for queue %s: %v", h.queue, r)
		}
	}()
	record()
}

func errorClass(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
