package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRideCollectorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRideCollector(reg)
	if err != nil {
		t.Fatalf("NewRideCollector: %v", err)
	}

	collector.ObserveFix("accepted")
	collector.ObserveFix("accepted")
	collector.ObserveFix("low_accuracy")
	collector.ObserveWaypoint()
	collector.ObserveRideStarted()
	collector.ObserveRideStopped(1234)
	collector.SetActiveRides(3)

	if got := testutil.ToFloat64(collector.Fixes.WithLabelValues("accepted")); got != 2 {
		t.Fatalf("ride_fixes_total{accepted} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Fixes.WithLabelValues("low_accuracy")); got != 1 {
		t.Fatalf("ride_fixes_total{low_accuracy} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Waypoints); got != 1 {
		t.Fatalf("ride_waypoints_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.RidesStarted); got != 1 {
		t.Fatalf("rides_started_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ActiveRides); got != 3 {
		t.Fatalf("active_rides = %v, want 3", got)
	}

	hist := histogram(t, reg, "ride_distance_meters")
	if hist.GetSampleCount() != 1 || hist.GetSampleSum() != 1234 {
		t.Fatalf("ride_distance_meters count=%d sum=%v", hist.GetSampleCount(), hist.GetSampleSum())
	}
}

func TestRideCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRideCollector(reg)
	if err != nil {
		t.Fatalf("first NewRideCollector: %v", err)
	}
	second, err := NewRideCollector(reg)
	if err != nil {
		t.Fatalf("second NewRideCollector: %v", err)
	}

	first.ObserveRideStarted()
	second.ObserveRideStarted()
	if got := testutil.ToFloat64(first.RidesStarted); got != 2 {
		t.Fatalf("expected shared counter, got %v", got)
	}
}

func TestRideCollectorIncompatibleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ride_fixes_total",
		Help: "Location fixes ingested, labeled by how the tracker classified them.",
	}, []string{"outcome"}))

	if _, err := NewRideCollector(reg); err == nil {
		t.Fatalf("expected error for incompatible collector")
	}
}

func TestMetricsHandlerExposesRideMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRideCollector(reg)
	if err != nil {
		t.Fatalf("NewRideCollector: %v", err)
	}
	collector.ObserveFix("bootstrap")
	collector.ObserveRideStopped(42)
	collector.SetActiveRides(1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		`ride_fixes_total{outcome="bootstrap"} 1`,
		"ride_distance_meters_count 1",
		"rides_stopped_total 1",
		"active_rides 1",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func histogram(t *testing.T, gatherer prometheus.Gatherer, name string) *dto.Histogram {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if m.GetHistogram() != nil {
				return m.GetHistogram()
			}
		}
	}
	t.Fatalf("histogram %s not found", name)
	return nil
}
