package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dataload/internal/metrics"

	dto "github.com/prometheus/client_model/go"
)

// families gathers the private registry keyed by metric name.
func families(t *testing.T, b *Backend) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := b.reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

// find returns the series of family name whose labels include want.
func find(t *testing.T, b *Backend, name string, want map[string]string) *dto.Metric {
	t.Helper()
	mf, ok := families(t, b)[name]
	if !ok {
		return nil
	}
next:
	for _, m := range mf.GetMetric() {
		have := map[string]string{}
		for _, lp := range m.GetLabel() {
			have[lp.GetName()] = lp.GetValue()
		}
		for k, v := range want {
			if have[k] != v {
				continue next
			}
		}
		return m
	}
	return nil
}

func newBackend(t *testing.T, url string) *Backend {
	t.Helper()
	b, err := NewBackend("visits", url)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

func TestNewBackend(t *testing.T) {
	if _, err := NewBackend("visits", ""); err == nil {
		t.Fatalf("expected an error without a gateway URL")
	}

	b, err := NewBackend("", "http://pushgateway:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if b.jobName != DefaultJob {
		t.Fatalf("jobName=%q want %q", b.jobName, DefaultJob)
	}
	if b.gatewayURL != "http://pushgateway:9091" {
		t.Fatalf("gatewayURL=%q", b.gatewayURL)
	}
}

func TestIncCounterRoutesByName(t *testing.T) {
	b := newBackend(t, "http://example.com")

	b.IncCounter(metrics.StepTotal, 2, metrics.Labels{"job": "visits", "step": "extract", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 40, metrics.Labels{"job": "visits", "kind": "extracted"})
	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"job": "visits", "kind": "deduplicated"})
	b.IncCounter(metrics.BatchesTotal, 1, metrics.Labels{"job": "visits"})
	b.IncCounter(metrics.BatchesTotal, 1, metrics.Labels{"job": "visits"})
	b.IncCounter("dataload_unknown_total", 9, metrics.Labels{})

	tests := []struct {
		name   string
		metric string
		labels map[string]string
		want   float64
	}{
		{"step", metrics.StepTotal, map[string]string{"step": "extract", "status": "success"}, 2},
		{"extracted", metrics.RecordsTotal, map[string]string{"kind": "extracted"}, 40},
		{"deduplicated", metrics.RecordsTotal, map[string]string{"kind": "deduplicated"}, 3},
		{"batches", metrics.BatchesTotal, nil, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := find(t, b, tc.metric, tc.labels)
			if m == nil {
				t.Fatalf("%s%v not found", tc.metric, tc.labels)
			}
			if got := m.GetCounter().GetValue(); got != tc.want {
				t.Fatalf("%s%v=%v want %v", tc.metric, tc.labels, got, tc.want)
			}
		})
	}

	if _, ok := families(t, b)["dataload_unknown_total"]; ok {
		t.Fatalf("unknown metric must be ignored")
	}
}

func TestObserveHistogram(t *testing.T) {
	b := newBackend(t, "http://example.com")

	b.ObserveHistogram(metrics.StepDurationSeconds, 1.5, metrics.Labels{"step": "load", "status": "success"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.5, metrics.Labels{"step": "load", "status": "success"})
	b.ObserveHistogram(metrics.StepTotal, 7, metrics.Labels{"step": "load", "status": "success"})

	m := find(t, b, metrics.StepDurationSeconds, map[string]string{"step": "load"})
	if m == nil {
		t.Fatalf("step duration not recorded")
	}
	if c, s := m.GetSummary().GetSampleCount(), m.GetSummary().GetSampleSum(); c != 2 || s != 2 {
		t.Fatalf("count=%d sum=%v want 2 and 2", c, s)
	}
}

func TestZeroBackendIsSafe(t *testing.T) {
	var b Backend
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "run", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "inserted"})
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, 1, nil)
}

func TestFlushPushesToGateway(t *testing.T) {
	var (
		path string
		body string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		path, body = r.URL.Path, string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewBackend("nightly-release", server.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.RecordsTotal, 12, metrics.Labels{"kind": "inserted"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if path != "/metrics/job/nightly-release" {
		t.Fatalf("push path=%q", path)
	}
	if body == "" {
		t.Fatalf("push body is empty")
	}
}

func TestFlushReportsGatewayErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newBackend(t, server.URL).Flush()
	if err == nil {
		t.Fatalf("Flush() error = nil, want non-nil")
	}
	if !strings.Contains(err.Error(), server.URL) {
		t.Fatalf("Flush() error = %q, want gateway URL", err)
	}
}

func BenchmarkIncCounter(b *testing.B) {
	backend, err := NewBackend("visits", "http://example.com")
	if err != nil {
		b.Fatalf("NewBackend: %v", err)
	}
	labels := metrics.Labels{"job": "visits", "kind": "extracted"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.IncCounter(metrics.RecordsTotal, 1, labels)
	}
}
