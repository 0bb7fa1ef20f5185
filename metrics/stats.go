package metrics

import (
	"expvar"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mickamy/txqueue"
)

// Stats publishes basic queue counters via expvar.
type Stats struct {
	errors            atomic.Int64
	dispatched        atomic.Int64
	retriedDispatches atomic.Int64
	deadLetters       atomic.Int64
	latencyNs         atomic.Int64
}

// NewStats registers an expvar entry named "<prefix>_stats".
// expvar panics on duplicate names, so call it once per prefix.
func NewStats(prefix string) *Stats {
	if prefix == "" {
		prefix = "txqueue"
	}
	s := &Stats{}
	expvar.Publish(fmt.Sprintf("%s_stats", prefix), expvar.Func(func() any {
		return s.snapshot()
	}))
	return s
}

// IncError implements txqueue.Metrics.
func (s *Stats) IncError(string, txqueue.ErrorType, string) {
	s.errors.Add(1)
}

// ObserveDispatchSuccess implements txqueue.Metrics.
func (s *Stats) ObserveDispatchSuccess(_ string, latency time.Duration, dispatchCount int) {
	s.dispatched.Add(1)
	if dispatchCount > 1 {
		s.retriedDispatches.Add(1)
	}
	s.latencyNs.Add(latency.Nanoseconds())
}

// IncDeadLetter implements txqueue.Metrics.
func (s *Stats) IncDeadLetter(string, int) {
	s.deadLetters.Add(1)
}

func (s *Stats) snapshot() map[string]int64 {
	return map[string]int64{
		"errors":             s.errors.Load(),
		"dispatched":         s.dispatched.Load(),
		"retried_dispatches": s.retriedDispatches.Load(),
		"dead_letters":       s.deadLetters.Load(),
		"latency_ns":         s.latencyNs.Load(),
	}
}

// Multi fans every observation out to several sinks.
type Multi []txqueue.Metrics

// IncError implements txqueue.Metrics.
func (m Multi) IncError(queue string, errorType txqueue.ErrorType, errorClass string) {
	for _, s := range m {
		s.IncError(queue, errorType, errorClass)
	}
}

// ObserveDispatchSuccess implements txqueue.Metrics.
func (m Multi) ObserveDispatchSuccess(queue string, latency time.Duration, dispatchCount int) {
	for _, s := range m {
		s.ObserveDispatchSuccess(queue, latency, dispatchCount)
	}
}

// IncDeadLetter implements txqueue.Metrics.
func (m Multi) IncDeadLetter(queue string, dispatchCount int) {
	for _, s := range m {
		s.IncDeadLetter(queue, dispatchCount)
	}
}
