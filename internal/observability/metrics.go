package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RideCollector bundles the Prometheus metrics for ride tracking. It
// satisfies ride.Metrics.
type RideCollector struct {
	gatherer prometheus.Gatherer

	Fixes        *prometheus.CounterVec
	Waypoints    prometheus.Counter
	RidesStarted prometheus.Counter
	RidesStopped prometheus.Counter
	RideDistance prometheus.Histogram
	ActiveRides  prometheus.Gauge
}

// NewRideCollector registers ride metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewRideCollector(reg prometheus.Registerer) (*RideCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fixes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_fixes_total",
		Help: "Location fixes ingested, labeled by how the tracker classified them.",
	}, []string{"outcome"}), "ride_fixes_total")
	if err != nil {
		return nil, err
	}
	waypoints, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ride_waypoints_total",
		Help: "Waypoints recorded across all rides.",
	}), "ride_waypoints_total")
	if err != nil {
		return nil, err
	}
	started, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rides_started_total",
		Help: "Rides started.",
	}), "rides_started_total")
	if err != nil {
		return nil, err
	}
	stopped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rides_stopped_total",
		Help: "Rides stopped.",
	}), "rides_stopped_total")
	if err != nil {
		return nil, err
	}
	distance, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ride_distance_meters",
		Help:    "Total distance of finished rides in meters.",
		Buckets: []float64{0, 100, 500, 1000, 2500, 5000, 10000, 25000, 50000, 100000},
	}), "ride_distance_meters")
	if err != nil {
		return nil, err
	}
	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_rides",
		Help: "Rides currently in progress on this instance.",
	}), "active_rides")
	if err != nil {
		return nil, err
	}

	return &RideCollector{
		gatherer:     gatherer,
		Fixes:        fixes,
		Waypoints:    waypoints,
		RidesStarted: started,
		RidesStopped: stopped,
		RideDistance: distance,
		ActiveRides:  active,
	}, nil
}

func (c *RideCollector) ObserveFix(outcome string) {
	c.Fixes.WithLabelValues(outcome).Inc()
}

func (c *RideCollector) ObserveWaypoint() {
	c.Waypoints.Inc()
}

func (c *RideCollector) ObserveRideStarted() {
	c.RidesStarted.Inc()
}

func (c *RideCollector) ObserveRideStopped(distanceM float64) {
	c.RidesStopped.Inc()
	c.RideDistance.Observe(distanceM)
}

func (c *RideCollector) SetActiveRides(n int) {
	c.ActiveRides.Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RideCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
