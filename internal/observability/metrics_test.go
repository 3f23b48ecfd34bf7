package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewTrackerCollector(reg)
	if err != nil {
		t.Fatalf("NewTrackerCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("sattrack_grpc_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "sattrack_grpc_request_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 1 {
		t.Fatalf("sattrack_grpc_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewTrackerCollector(reg)
	if err != nil {
		t.Fatalf("NewTrackerCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "NotFound")); got != 1 {
		t.Fatalf("sattrack_grpc_requests_total error label = %v, want 1", got)
	}
}

func TestConnectionStateIsOneHot(t *testing.T) {
	collector, err := NewTrackerCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewTrackerCollector: %v", err)
	}

	if got := testutil.ToFloat64(collector.ConnectionState.WithLabelValues("disconnected")); got != 1 {
		t.Fatalf("initial disconnected = %v, want 1", got)
	}

	collector.SetConnectionState("connected")
	want := map[string]float64{"disconnected": 0, "connecting": 0, "connected": 1}
	for state, v := range want {
		if got := testutil.ToFloat64(collector.ConnectionState.WithLabelValues(state)); got != v {
			t.Fatalf("state %s = %v, want %v", state, got, v)
		}
	}
}

func TestStreamRecorderMethods(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewTrackerCollector(reg)
	if err != nil {
		t.Fatalf("NewTrackerCollector: %v", err)
	}

	collector.ObserveReconnect(1, time.Second)
	collector.ObserveReconnect(2, 2*time.Second)
	collector.IncMessages()
	collector.IncMessages()
	collector.IncMessages()
	collector.IncParseFailures()
	collector.SetSnapshotEntities(7)
	collector.SetSceneMarkers(6)

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"reconnects", collector.Reconnects, 2},
		{"messages", collector.Messages, 3},
		{"parse failures", collector.ParseFailures, 1},
		{"snapshot entities", collector.SnapshotEntities, 7},
		{"scene markers", collector.SceneMarkers, 6},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, got, c.want)
		}
	}
	if count := histogramSampleCount(t, reg, "sattrack_stream_reconnect_delay_seconds", nil); count != 2 {
		t.Fatalf("reconnect delay sample_count = %d, want 2", count)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *TrackerCollector
	c.SetConnectionState("connected")
	c.ObserveReconnect(1, time.Second)
	c.IncMessages()
	c.IncParseFailures()
	c.SetSnapshotEntities(1)
	c.SetSceneMarkers(1)
	c.ObserveHTTP("GET", "/api/status", 200, time.Millisecond)

	var q *QueryCollector
	q.ObserveQuery("passes", "ok", time.Second)
	q.ObserveGroundTrackPoints(10)
}

func TestCollectorsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewTrackerCollector(reg)
	if err != nil {
		t.Fatalf("NewTrackerCollector: %v", err)
	}
	second, err := NewTrackerCollector(reg)
	if err != nil {
		t.Fatalf("second NewTrackerCollector: %v", err)
	}
	first.IncMessages()
	if got := testutil.ToFloat64(second.Messages); got != 1 {
		t.Fatalf("shared messages counter = %v, want 1", got)
	}
}

func TestQueryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	q, err := NewQueryCollector(reg)
	if err != nil {
		t.Fatalf("NewQueryCollector: %v", err)
	}
	q.ObserveQuery("passes", "ok", 20*time.Millisecond)
	q.ObserveQuery("passes", "error", 5*time.Millisecond)
	q.ObserveGroundTrackPoints(120)

	if got := testutil.ToFloat64(q.Requests.WithLabelValues("passes", "error")); got != 1 {
		t.Fatalf("query errors = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "sattrack_query_duration_seconds", map[string]string{"kind": "passes"}); count != 2 {
		t.Fatalf("query duration sample_count = %d, want 2", count)
	}
}

func TestMetricsHandlerExposesTrackerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewTrackerCollector(reg)
	if err != nil {
		t.Fatalf("NewTrackerCollector: %v", err)
	}
	collector.SetSnapshotEntities(42)
	collector.ObserveHTTP("GET", "/api/status", 200, 3*time.Millisecond)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"sattrack_stream_connection_state",
		"sattrack_snapshot_entities 42",
		`sattrack_http_requests_total{code="200",method="GET",route="/api/status"} 1`,
		"sattrack_grpc_requests_total",
		"sattrack_grpc_request_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in, service, method string
	}{
		{"/grpc.health.v1.Health/Check", "Health", "Check"},
		{"Health/Watch", "Health", "Watch"},
		{"", "unknown", "unknown"},
		{"/nomethod", "unknown", "unknown"},
	}
	for _, tt := range tests {
		s, m := SplitMethod(tt.in)
		if s != tt.service || m != tt.method {
			t.Fatalf("SplitMethod(%q) = (%q, %q), want (%q, %q)", tt.in, s, m, tt.service, tt.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
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
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
