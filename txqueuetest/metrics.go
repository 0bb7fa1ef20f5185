package txqueuetest

import (
	"sync"
	"time"

	"github.com/mickamy/txqueue"
)

// Success is one recorded dispatch success.
type Success struct {
	Latency       time.Duration
	DispatchCount int
}

// Metrics records everything reported to it.
type Metrics struct {
	// PanicOnRecord makes every method panic; used to check that metric failures are absorbed.
	PanicOnRecord bool

	mu          sync.Mutex
	errors      []txqueue.ErrorType
	successes   []Success
	deadLetters []int
}

// NewMetrics returns an empty recorder.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncError implements txqueue.Metrics.
func (m *Metrics) IncError(_ string, errorType txqueue.ErrorType, _ string) {
	m.maybePanic()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, errorType)
}

// ObserveDispatchSuccess implements txqueue.Metrics.
func (m *Metrics) ObserveDispatchSuccess(_ string, latency time.Duration, dispatchCount int) {
	m.maybePanic()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, Success{Latency: latency, DispatchCount: dispatchCount})
}

// IncDeadLetter implements txqueue.Metrics.
func (m *Metrics) IncDeadLetter(_ string, dispatchCount int) {
	m.maybePanic()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters = append(m.deadLetters, dispatchCount)
}

func (m *Metrics) maybePanic() {
	if m.PanicOnRecord {
		panic("metrics backend unavailable")
	}
}

// Errors returns the recorded error types in order.
func (m *Metrics) Errors() []txqueue.ErrorType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]txqueue.ErrorType(nil), m.errors...)
}

// ErrorCount returns how many errors of typ were recorded.
func (m *Metrics) ErrorCount(typ txqueue.ErrorType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.errors {
		if e == typ {
			n++
		}
	}
	return n
}

// Successes returns the recorded dispatch successes.
func (m *Metrics) Successes() []Success {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Success(nil), m.successes...)
}

// DeadLetters returns the dispatch counts of recorded dead-letter transitions.
func (m *Metrics) DeadLetters() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.deadLetters...)
}
