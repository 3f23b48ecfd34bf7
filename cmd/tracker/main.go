package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/sattrack/internal/api"
	"github.com/signalsfoundry/sattrack/internal/config"
	"github.com/signalsfoundry/sattrack/internal/eventloop"
	"github.com/signalsfoundry/sattrack/internal/health"
	"github.com/signalsfoundry/sattrack/internal/logging"
	"github.com/signalsfoundry/sattrack/internal/observability"
	"github.com/signalsfoundry/sattrack/internal/query"
	"github.com/signalsfoundry/sattrack/internal/scene"
	"github.com/signalsfoundry/sattrack/internal/scenesync"
	"github.com/signalsfoundry/sattrack/internal/stream"
	"github.com/signalsfoundry/sattrack/internal/tracker"
	"github.com/signalsfoundry/sattrack/internal/transport/wsconn"
	"github.com/signalsfoundry/sattrack/model"
	"github.com/signalsfoundry/sattrack/timectrl"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (defaults to $"+config.PathEnv+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracker: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.HTTP.Addr), logging.Err(err))
		os.Exit(1)
	}
	var grpcLis net.Listener
	if cfg.Health.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.Health.GRPCAddr)
		if err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Health.GRPCAddr), logging.Err(err))
			os.Exit(1)
		}
	}

	if err := run(ctx, cfg, log, httpLis, grpcLis); err != nil {
		log.Error(ctx, "tracker exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the tracker until ctx is cancelled. grpcLis may be nil to
// disable the health service.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, httpLis, grpcLis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewTrackerCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	queryMetrics, err := observability.NewQueryCollector(reg)
	if err != nil {
		return fmt.Errorf("init query metrics: %w", err)
	}

	loop := eventloop.New(timectrl.SystemClock{})
	dialer := wsconn.New(loop,
		wsconn.WithDialTimeout(cfg.Stream.DialTimeout),
		wsconn.WithReadLimit(cfg.Stream.ReadLimitBytes),
		wsconn.WithKeepalive(cfg.Stream.PingInterval, cfg.Stream.PongWait),
		wsconn.WithLogger(log),
	)
	client, err := stream.New(cfg.Stream.URL, dialer, loop,
		stream.WithBackoff(stream.Backoff{Base: cfg.Stream.ReconnectBase, Max: cfg.Stream.ReconnectMax}),
		stream.WithLogger(log),
		stream.WithMetrics(collector),
	)
	if err != nil {
		return err
	}

	sc := scene.NewMemoryScene(cameraFromConfig(cfg.Camera))
	sync := scenesync.New(sc, scenesync.WithLogger(log), scenesync.WithMetrics(collector))
	predictor := query.New(cfg.Query.PassesURL, cfg.Query.GroundTrackURL,
		query.WithTimeout(cfg.Query.Timeout),
		query.WithLogger(log),
		query.WithMetrics(queryMetrics),
	)

	opts := []tracker.Option{
		tracker.WithObserver(cfg.Observer.Latitude, cfg.Observer.Longitude),
		tracker.WithAutoSelect(cfg.Tracker.AutoSelect),
		tracker.WithLogger(log),
	}
	var healthSrv *health.Server
	if grpcLis != nil {
		healthSrv = health.NewServer(log, collector)
		opts = append(opts, tracker.WithStatusListener(healthSrv.ObserveStatus))
	}
	svc := tracker.New(loop, client, sc, sync, predictor, opts...)

	router := api.NewRouter(svc,
		api.WithLogger(log),
		api.WithMetrics(collector),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		api.WithQueryDefaults(api.QueryDefaults{
			Hours:           cfg.Query.Hours,
			MinElevationDeg: cfg.Query.MinElevation,
			Samples:         cfg.Query.Samples,
		}),
	)
	httpSrv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

	// The loop outlives the servers so shutdown can still run tracker
	// operations on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(loopCtx) })

	if err := svc.Start(gctx); err != nil {
		stopLoop()
		_ = g.Wait()
		return fmt.Errorf("start tracker: %w", err)
	}
	log.Info(ctx, "tracking telemetry stream", logging.String("url", cfg.Stream.URL))

	g.Go(func() error {
		log.Info(ctx, "serving HTTP API", logging.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if healthSrv != nil {
		g.Go(func() error {
			if err := healthSrv.Serve(grpcLis); err != nil {
				return fmt.Errorf("grpc health server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down tracker")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		err := httpSrv.Shutdown(shutdownCtx)
		if healthSrv != nil {
			healthSrv.Stop()
		}
		if stopErr := svc.Stop(shutdownCtx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stop tracker: %w", stopErr))
		}
		stopLoop()
		return err
	})

	return g.Wait()
}

func cameraFromConfig(c config.CameraConfig) scene.Camera {
	return scene.Camera{
		Position: model.Position{Latitude: c.Latitude, Longitude: c.Longitude, AltitudeKm: c.AltitudeKm},
		Width:    c.Width,
		Height:   c.Height,
		FOVDeg:   c.FOVDeg,
	}
}
