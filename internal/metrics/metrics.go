// Package metrics records operational metrics for transfers through a
// pluggable, process-wide backend.
//
// The default backend is a no-op, so every call is safe when no real backend
// is configured. Concrete systems (Prometheus Pushgateway, Datadog) live in
// subpackages and are installed with SetBackend; the rest of the code only
// calls the Record* helpers below.
package metrics

import (
	"sync"
	"time"
)

// Metric names shared by every backend.
const (
	StepTotal           = "dataload_step_total"
	StepDurationSeconds = "dataload_step_duration_seconds"
	RecordsTotal        = "dataload_records_total"
	BatchesTotal        = "dataload_batches_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Reset restores the no-op backend.
func Reset() {
	mu.Lock()
	backend = nopBackend{}
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a transfer step and observes its
// duration. Steps are check, extract, open, transform, load, flush, finish
// and run.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow increments a row-level counter for the given job and kind.
//
// Kinds in use:
//   - "extracted"
//   - "deduplicated"
//   - "rejected" (rows carrying validation failures)
//   - "dropped" (rows removed by a require stage)
//   - "consumed"
//   - "inserted"
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatches increments the batch counter for the given job.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{
		"job": job,
	})
}
