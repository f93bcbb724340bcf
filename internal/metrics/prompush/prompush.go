// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// A transfer is a short-lived batch process, so metrics are collected in a
// private registry and pushed to a Pushgateway on Flush instead of being
// exposed on a scrape endpoint. The "job" label is the Pushgateway grouping
// key and is therefore not repeated on the collectors.
package prompush

import (
	"fmt"

	"dataload/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DefaultJob is the Pushgateway job name used when none is given.
const DefaultJob = "dataload"

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string
	reg        *prometheus.Registry

	stepCounter   *prometheus.CounterVec // metrics.StepTotal
	stepDuration  *prometheus.SummaryVec // metrics.StepDurationSeconds
	recordCounter *prometheus.CounterVec // metrics.RecordsTotal
	batchCounter  prometheus.Counter     // metrics.BatchesTotal
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name, usually the transfer job.
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = DefaultJob
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Transfer step executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDurationSeconds,
			Help:       "Duration of transfer steps in seconds by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		recordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Row counts per kind (extracted, deduplicated, rejected, inserted, ...).",
		}, []string{"kind"}),
		batchCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Batches handed to the destination.",
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":  b.stepCounter,
		"step summary":  b.stepDuration,
		"row counter":   b.recordCounter,
		"batch counter": b.batchCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter == nil {
			return
		}
		b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)

	case metrics.RecordsTotal:
		if b.recordCounter == nil {
			return
		}
		b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)

	case metrics.BatchesTotal:
		if b.batchCounter == nil {
			return
		}
		b.batchCounter.Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	if err := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push(); err != nil {
		return fmt.Errorf("prompush: push to %s: %w", b.gatewayURL, err)
	}
	return nil
}
