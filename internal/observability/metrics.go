package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// connectionStates are the label values of sattrack_stream_connection_state.
var connectionStates = []string{"disconnected", "connecting", "connected"}

// TrackerCollector bundles Prometheus metrics for the telemetry stream, the
// scene, and the tracker's HTTP and gRPC surfaces.
type TrackerCollector struct {
	gatherer prometheus.Gatherer

	ConnectionState  *prometheus.GaugeVec
	Reconnects       prometheus.Counter
	ReconnectDelay   prometheus.Histogram
	Messages         prometheus.Counter
	ParseFailures    prometheus.Counter
	SnapshotEntities prometheus.Gauge
	SceneMarkers     prometheus.Gauge

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
	RPCRequests   *prometheus.CounterVec
	RPCDurations  *prometheus.HistogramVec
}

// NewTrackerCollector registers tracker metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewTrackerCollector(reg prometheus.Registerer) (*TrackerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	state, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sattrack_stream_connection_state",
		Help: "1 for the telemetry stream's current connection state, 0 otherwise.",
	}, []string{"state"}), "sattrack_stream_connection_state")
	if err != nil {
		return nil, err
	}
	reconnects, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sattrack_stream_reconnects_total",
		Help: "Reconnect attempts scheduled after a failed or closed telemetry connection.",
	}), "sattrack_stream_reconnects_total")
	if err != nil {
		return nil, err
	}
	delay, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sattrack_stream_reconnect_delay_seconds",
		Help:    "Backoff delay chosen before each reconnect attempt.",
		Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
	}), "sattrack_stream_reconnect_delay_seconds")
	if err != nil {
		return nil, err
	}
	messages, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sattrack_stream_messages_total",
		Help: "Telemetry messages received on the active connection.",
	}), "sattrack_stream_messages_total")
	if err != nil {
		return nil, err
	}
	parseFailures, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sattrack_stream_parse_failures_total",
		Help: "Telemetry messages dropped because they did not decode.",
	}), "sattrack_stream_parse_failures_total")
	if err != nil {
		return nil, err
	}
	entities, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sattrack_snapshot_entities",
		Help: "Entities in the latest telemetry snapshot.",
	}), "sattrack_snapshot_entities")
	if err != nil {
		return nil, err
	}
	markers, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sattrack_scene_markers",
		Help: "Markers currently drawn in the scene.",
	}), "sattrack_scene_markers")
	if err != nil {
		return nil, err
	}

	httpRequests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sattrack_http_requests_total",
		Help: "Handled HTTP API requests, labeled by method, route, and status code.",
	}, []string{"method", "route", "code"}), "sattrack_http_requests_total")
	if err != nil {
		return nil, err
	}
	httpDurations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sattrack_http_request_duration_seconds",
		Help:    "HTTP API latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"}), "sattrack_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	rpcRequests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sattrack_grpc_requests_total",
		Help: "Total number of handled gRPC calls, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "sattrack_grpc_requests_total")
	if err != nil {
		return nil, err
	}
	rpcDurations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sattrack_grpc_request_duration_seconds",
		Help:    "gRPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "sattrack_grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	c := &TrackerCollector{
		gatherer:         gatherer,
		ConnectionState:  state,
		Reconnects:       reconnects,
		ReconnectDelay:   delay,
		Messages:         messages,
		ParseFailures:    parseFailures,
		SnapshotEntities: entities,
		SceneMarkers:     markers,
		HTTPRequests:     httpRequests,
		HTTPDurations:    httpDurations,
		RPCRequests:      rpcRequests,
		RPCDurations:     rpcDurations,
	}
	c.SetConnectionState("disconnected")
	return c, nil
}

// SetConnectionState marks state as the current connection state.
func (c *TrackerCollector) SetConnectionState(state string) {
	if c == nil || c.ConnectionState == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.ConnectionState.WithLabelValues(s).Set(v)
	}
}

// ObserveReconnect records one scheduled reconnect and its delay.
func (c *TrackerCollector) ObserveReconnect(attempt int, delay time.Duration) {
	if c == nil {
		return
	}
	if c.Reconnects != nil {
		c.Reconnects.Inc()
	}
	if c.ReconnectDelay != nil {
		c.ReconnectDelay.Observe(delay.Seconds())
	}
}

// IncMessages counts one received telemetry message.
func (c *TrackerCollector) IncMessages() {
	if c == nil || c.Messages == nil {
		return
	}
	c.Messages.Inc()
}

// IncParseFailures counts one malformed telemetry message.
func (c *TrackerCollector) IncParseFailures() {
	if c == nil || c.ParseFailures == nil {
		return
	}
	c.ParseFailures.Inc()
}

// SetSnapshotEntities updates the snapshot size gauge.
func (c *TrackerCollector) SetSnapshotEntities(n int) {
	if c == nil || c.SnapshotEntities == nil {
		return
	}
	c.SnapshotEntities.Set(float64(n))
}

// SetSceneMarkers updates the scene marker gauge.
func (c *TrackerCollector) SetSceneMarkers(n int) {
	if c == nil || c.SceneMarkers == nil {
		return
	}
	c.SceneMarkers.Set(float64(n))
}

// ObserveHTTP records one handled HTTP request.
func (c *TrackerCollector) ObserveHTTP(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	if c.HTTPRequests != nil {
		c.HTTPRequests.WithLabelValues(method, route, fmt.Sprint(code)).Inc()
	}
	if c.HTTPDurations != nil {
		c.HTTPDurations.WithLabelValues(method, route).Observe(d.Seconds())
	}
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *TrackerCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *TrackerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *TrackerCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}
