package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueryCollector exposes metrics for calls to the remote prediction service.
type QueryCollector struct {
	gatherer prometheus.Gatherer

	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Points   prometheus.Histogram
}

// NewQueryCollector registers query metrics against the provided registerer.
func NewQueryCollector(reg prometheus.Registerer) (*QueryCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sattrack_query_requests_total",
		Help: "Prediction service queries, labeled by kind (passes|groundtrack) and outcome.",
	}, []string{"kind", "outcome"}), "sattrack_query_requests_total")
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sattrack_query_duration_seconds",
		Help:    "Latency of prediction service queries.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"}), "sattrack_query_duration_seconds")
	if err != nil {
		return nil, err
	}

	points, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sattrack_groundtrack_points",
		Help:    "Number of points returned per ground-track query.",
		Buckets: []float64{2, 10, 50, 100, 200, 300, 500},
	}), "sattrack_groundtrack_points")
	if err != nil {
		return nil, err
	}

	return &QueryCollector{
		gatherer: gatherer,
		Requests: requests,
		Duration: duration,
		Points:   points,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *QueryCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveQuery records one finished query.
func (c *QueryCollector) ObserveQuery(kind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if c.Requests != nil {
		c.Requests.WithLabelValues(kind, outcome).Inc()
	}
	if c.Duration != nil {
		c.Duration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// ObserveGroundTrackPoints records the size of a ground-track response.
func (c *QueryCollector) ObserveGroundTrackPoints(n int) {
	if c == nil || c.Points == nil {
		return
	}
	c.Points.Observe(float64(n))
}
