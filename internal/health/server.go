// Package health serves the standard gRPC health protocol, reporting the
// tracker as SERVING only while the telemetry stream is connected.
package health

import (
	"context"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/sattrack/internal/logging"
	"github.com/signalsfoundry/sattrack/internal/observability"
	"github.com/signalsfoundry/sattrack/internal/stream"
)

// ServiceName is the health service name clients may query besides "".
const ServiceName = "sattrack.Tracker"

// Server wraps a gRPC server exposing grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    logging.Logger
}

// NewServer builds the health server. collector may be nil.
func NewServer(log logging.Logger, collector *observability.TrackerCollector) *Server {
	if log == nil {
		log = logging.Noop()
	}
	log = log.With(logging.String("component", "health"))

	hs := health.NewServer()
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{grpc: srv, health: hs, log: log}
	s.SetConnected(false)
	return s
}

// SetConnected flips the serving status of both the overall server and
// ServiceName.
func (s *Server) SetConnected(connected bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// ObserveStatus maps a stream status onto the serving status. It is safe to
// call from the event loop.
func (s *Server) ObserveStatus(st stream.Status) {
	s.SetConnected(st.State == stream.Connected)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "serving gRPC health", logging.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
