// Package metrics provides a request-scoped accumulator that is merged
// into a thread-safe sink when the request finishes. Pipeline stages never
// write to shared state directly; they record into the accumulator owned
// by their request and the pipeline flushes it once.
package metrics

import (
	"time"
)

// Sink receives merged per-request measurements. Implementations must be
// safe for concurrent use.
type Sink interface {
	// IncCounter adds delta to the named counter.
	IncCounter(name string, delta float64)

	// ObserveDuration records one duration observation for the named stage.
	ObserveDuration(name string, d time.Duration)
}

// Accumulator collects measurements for a single request. It is not safe
// for concurrent use; each request owns exactly one.
type Accumulator struct {
	counters  map[string]float64
	durations map[string][]time.Duration
}

// NewAccumulator creates an empty per-request accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		counters:  make(map[string]float64),
		durations: make(map[string][]time.Duration),
	}
}

// Inc adds delta to the named counter.
func (a *Accumulator) Inc(name string, delta float64) {
	a.counters[name] += delta
}

// Observe records one duration observation.
func (a *Accumulator) Observe(name string, d time.Duration) {
	a.durations[name] = append(a.durations[name], d)
}

// Counter returns the accumulated value for a counter name.
func (a *Accumulator) Counter(name string) float64 {
	return a.counters[name]
}

// FlushTo merges every recorded measurement into the sink and resets the
// accumulator. Called once by the pipeline at the end of a request.
func (a *Accumulator) FlushTo(sink Sink) {
	if sink == nil {
		return
	}
	for name, v := range a.counters {
		sink.IncCounter(name, v)
	}
	for name, ds := range a.durations {
		for _, d := range ds {
			sink.ObserveDuration(name, d)
		}
	}
	a.counters = make(map[string]float64)
	a.durations = make(map[string][]time.Duration)
}

// NopSink discards everything. Used in tests and embedded callers that do
// not scrape metrics.
type NopSink struct{}

func (NopSink) IncCounter(string, float64)            {}
func (NopSink) ObserveDuration(string, time.Duration) {}

var _ Sink = NopSink{}
