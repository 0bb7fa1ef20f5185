// Package metrics provides txqueue.Metrics sinks backed by Prometheus and expvar.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mickamy/txqueue"
)

// Prometheus records queue metrics as Prometheus collectors.
type Prometheus struct {
	Errors           *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	DeadLetters      *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
// A nil reg means prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txqueue_errors_total",
				Help: "Total number of errors absorbed by queue operations",
			},
			[]string{"queue", "error_type", "error_class"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txqueue_dispatch_duration_seconds",
				Help:    "Time from enqueue to successful dispatch",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
			},
			[]string{"queue", "dispatch_count"},
		),
		DeadLetters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txqueue_dead_letter_total",
				Help: "Total number of elements moved to the dead letter store",
			},
			[]string{"queue", "dispatch_count"},
		),
	}
	for _, c := range []prometheus.Collector{p.Errors, p.DispatchDuration, p.DeadLetters} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// IncError implements txqueue.Metrics.
func (p *Prometheus) IncError(queue string, errorType txqueue.ErrorType, errorClass string) {
	p.Errors.WithLabelValues(queue, string(errorType), errorClass).Inc()
}

// ObserveDispatchSuccess implements txqueue.Metrics.
func (p *Prometheus) ObserveDispatchSuccess(queue string, latency time.Duration, dispatchCount int) {
	p.DispatchDuration.WithLabelValues(queue, strconv.Itoa(dispatchCount)).Observe(latency.Seconds())
}

// IncDeadLetter implements txqueue.Metrics.
func (p *Prometheus) IncDeadLetter(queue string, dispatchCount int) {
	p.DeadLetters.WithLabelValues(queue, strconv.Itoa(dispatchCount)).Inc()
}
