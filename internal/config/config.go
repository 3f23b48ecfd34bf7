// Package config loads tracker configuration: built-in defaults, then an
// optional YAML file, then SATTRACK_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"

	"github.com/signalsfoundry/sattrack/internal/logging"
	"github.com/signalsfoundry/sattrack/internal/observability"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SATTRACK_"

// PathEnv names the variable holding the YAML config path.
const PathEnv = EnvPrefix + "CONFIG"

// Config is the complete tracker configuration.
type Config struct {
	Stream   StreamConfig                `yaml:"stream" envPrefix:"STREAM_"`
	Query    QueryConfig                 `yaml:"query" envPrefix:"QUERY_"`
	HTTP     HTTPConfig                  `yaml:"http" envPrefix:"HTTP_"`
	Health   HealthConfig                `yaml:"health" envPrefix:"HEALTH_"`
	Camera   CameraConfig                `yaml:"camera" envPrefix:"CAMERA_"`
	Observer ObserverConfig              `yaml:"observer" envPrefix:"OBSERVER_"`
	Tracker  TrackerConfig               `yaml:"tracker" envPrefix:"TRACKER_"`
	Logging  logging.Config              `yaml:"logging" envPrefix:"LOG_"`
	Tracing  observability.TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
}

// StreamConfig holds telemetry connection settings.
type StreamConfig struct {
	URL            string        `yaml:"url" env:"URL"`
	ReconnectBase  time.Duration `yaml:"reconnectBase" env:"RECONNECT_BASE"`
	ReconnectMax   time.Duration `yaml:"reconnectMax" env:"RECONNECT_MAX"`
	DialTimeout    time.Duration `yaml:"dialTimeout" env:"DIAL_TIMEOUT"`
	ReadLimitBytes int64         `yaml:"readLimitBytes" env:"READ_LIMIT_BYTES"`
	PingInterval   time.Duration `yaml:"pingInterval" env:"PING_INTERVAL"`
	PongWait       time.Duration `yaml:"pongWait" env:"PONG_WAIT"`
}

// QueryConfig holds prediction service settings.
type QueryConfig struct {
	PassesURL      string        `yaml:"passesUrl" env:"PASSES_URL"`
	GroundTrackURL string        `yaml:"groundTrackUrl" env:"GROUNDTRACK_URL"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Hours          float64       `yaml:"hours" env:"HOURS"`
	MinElevation   float64       `yaml:"minElevationDeg" env:"MIN_ELEVATION_DEG"`
	Samples        int           `yaml:"samples" env:"SAMPLES"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// HealthConfig holds gRPC health server settings. An empty address disables it.
type HealthConfig struct {
	GRPCAddr string `yaml:"grpcAddr" env:"GRPC_ADDR"`
}

// CameraConfig places the scene camera.
type CameraConfig struct {
	Latitude   float64 `yaml:"lat" env:"LAT"`
	Longitude  float64 `yaml:"lon" env:"LON"`
	AltitudeKm float64 `yaml:"altKm" env:"ALT_KM"`
	Width      int     `yaml:"width" env:"WIDTH"`
	Height     int     `yaml:"height" env:"HEIGHT"`
	FOVDeg     float64 `yaml:"fovDeg" env:"FOV_DEG"`
}

// ObserverConfig is the ground location used for pass queries and elevation.
type ObserverConfig struct {
	Latitude  float64 `yaml:"lat" env:"LAT"`
	Longitude float64 `yaml:"lon" env:"LON"`
}

// TrackerConfig holds selection behaviour.
type TrackerConfig struct {
	// AutoSelect picks the first entity (by ID) whenever nothing is selected.
	AutoSelect bool `yaml:"autoSelect" env:"AUTO_SELECT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			URL:            "ws://localhost:8000/ws/satellites",
			ReconnectBase:  time.Second,
			ReconnectMax:   15 * time.Second,
			DialTimeout:    10 * time.Second,
			ReadLimitBytes: 4 << 20,
			PingInterval:   30 * time.Second,
			PongWait:       60 * time.Second,
		},
		Query: QueryConfig{
			PassesURL:      "http://localhost:8000/api/passes",
			GroundTrackURL: "http://localhost:8000/api/groundtrack",
			Timeout:        10 * time.Second,
			Hours:          24,
			MinElevation:   10,
			Samples:        120,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Health: HealthConfig{
			GRPCAddr: ":50051",
		},
		Camera: CameraConfig{
			AltitudeKm: 20000,
			Width:      1280,
			Height:     720,
			FOVDeg:     60,
		},
		Observer: ObserverConfig{
			Latitude:  51.5074,
			Longitude: -0.1278,
		},
		Tracker: TrackerConfig{
			AutoSelect: true,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// $SATTRACK_CONFIG when path is empty), and the process environment.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadFromEnvironment is Load with an explicit environment instead of the
// process environment.
func LoadFromEnvironment(path string, environ map[string]string) (*Config, error) {
	if environ == nil {
		environ = map[string]string{}
	}
	return load(path, environ)
}

func load(path string, environ map[string]string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if environ != nil {
			path = environ[PathEnv]
		} else {
			path = os.Getenv(PathEnv)
		}
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error

	if err := validateURL(c.Stream.URL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("stream.url: %w", err))
	}
	if c.Stream.ReconnectBase <= 0 {
		errs = append(errs, fmt.Errorf("stream.reconnectBase must be positive, got %s", c.Stream.ReconnectBase))
	}
	if c.Stream.ReconnectMax < c.Stream.ReconnectBase {
		errs = append(errs, fmt.Errorf("stream.reconnectMax %s is below reconnectBase %s", c.Stream.ReconnectMax, c.Stream.ReconnectBase))
	}
	if c.Stream.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stream.dialTimeout must be positive, got %s", c.Stream.DialTimeout))
	}
	if c.Stream.PingInterval > 0 && c.Stream.PongWait <= c.Stream.PingInterval {
		errs = append(errs, fmt.Errorf("stream.pongWait %s must exceed pingInterval %s", c.Stream.PongWait, c.Stream.PingInterval))
	}

	if c.Query.PassesURL != "" {
		if err := validateURL(c.Query.PassesURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("query.passesUrl: %w", err))
		}
	}
	if c.Query.GroundTrackURL != "" {
		if err := validateURL(c.Query.GroundTrackURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("query.groundTrackUrl: %w", err))
		}
	}
	if c.Query.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("query.timeout must be positive, got %s", c.Query.Timeout))
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}

	if c.Camera.Latitude < -90 || c.Camera.Latitude > 90 {
		errs = append(errs, fmt.Errorf("camera.lat %v outside [-90,90]", c.Camera.Latitude))
	}
	if c.Camera.Longitude < -180 || c.Camera.Longitude > 180 {
		errs = append(errs, fmt.Errorf("camera.lon %v outside [-180,180]", c.Camera.Longitude))
	}
	if c.Camera.AltitudeKm <= 0 {
		errs = append(errs, fmt.Errorf("camera.altKm must be positive, got %v", c.Camera.AltitudeKm))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("camera viewport %dx%d must be positive", c.Camera.Width, c.Camera.Height))
	}
	if c.Camera.FOVDeg <= 0 || c.Camera.FOVDeg >= 180 {
		errs = append(errs, fmt.Errorf("camera.fovDeg %v outside (0,180)", c.Camera.FOVDeg))
	}

	if c.Observer.Latitude < -90 || c.Observer.Latitude > 90 {
		errs = append(errs, fmt.Errorf("observer.lat %v outside [-90,90]", c.Observer.Latitude))
	}
	if c.Observer.Longitude < -180 || c.Observer.Longitude > 180 {
		errs = append(errs, fmt.Errorf("observer.lon %v outside [-180,180]", c.Observer.Longitude))
	}

	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	return errors.Join(errs...)
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q must use scheme %v", raw, schemes)
}
