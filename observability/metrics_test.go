package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestRecordDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDispatch(OutcomeSucceeded, 0.5)
	m.RecordDispatch(OutcomeSucceeded, 1.2)
	m.RecordDispatch(OutcomeFailed, 0.3)
	m.RecordDispatch(OutcomeThrottled, 0)

	fams := gather(t, reg)

	total, ok := fams["sparkcloud_dispatches_total"]
	if !ok {
		t.Fatal("sparkcloud_dispatches_total not found")
	}
	if len(total.GetMetric()) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(total.GetMetric()))
	}

	latency, ok := fams["sparkcloud_dispatch_latency_seconds"]
	if !ok {
		t.Fatal("sparkcloud_dispatch_latency_seconds not found")
	}
	if got := latency.GetMetric()[0].GetHistogram().GetSampleCount(); got != 3 {
		t.Fatalf("throttled dispatches must not be observed: got %d samples", got)
	}
}

func TestRecordPublished(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordPublished(KindSent)
	m.RecordPublished(KindSent)
	m.RecordPublished(KindError)

	f := gather(t, reg)["sparkcloud_events_published_total"]
	if f == nil {
		t.Fatal("sparkcloud_events_published_total not found")
	}

	byKind := map[string]float64{}
	for _, metric := range f.GetMetric() {
		byKind[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
	}
	if byKind[KindSent] != 2 || byKind[KindError] != 1 {
		t.Fatalf("unexpected counts %v", byKind)
	}
}

func TestInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.InFlight(1)
	m.InFlight(1)
	m.InFlight(-1)

	f := gather(t, reg)["sparkcloud_dispatches_in_flight"]
	if f == nil {
		t.Fatal("sparkcloud_dispatches_in_flight not found")
	}
	if v := f.GetMetric()[0].GetGauge().GetValue(); v != 1 {
		t.Fatalf("expected 1 in flight, got %f", v)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordDispatch(OutcomeFailed, 1)
	m.RecordPublished(KindSent)
	m.InFlight(1)
}
