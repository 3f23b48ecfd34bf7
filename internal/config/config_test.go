package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sattrack.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := LoadFromEnvironment("", nil)
	if err != nil {
		t.Fatalf("LoadFromEnvironment: %v", err)
	}
	if cfg.Stream.ReconnectBase != time.Second || cfg.Stream.ReconnectMax != 15*time.Second {
		t.Fatalf("reconnect = %s/%s, want 1s/15s", cfg.Stream.ReconnectBase, cfg.Stream.ReconnectMax)
	}
	if !cfg.Tracker.AutoSelect {
		t.Fatalf("AutoSelect default = false, want true")
	}
}

func TestFileThenEnvLayering(t *testing.T) {
	path := writeFile(t, `
stream:
  url: wss://telemetry.example.org/ws/satellites
  reconnectBase: 500ms
  reconnectMax: 30s
camera:
  lat: 45
  lon: 7
  altKm: 30000
  width: 800
  height: 600
  fovDeg: 45
tracing:
  enabled: true
  exporter: otlp
  endpoint: collector:4317
`)

	cfg, err := LoadFromEnvironment(path, map[string]string{
		"SATTRACK_STREAM_RECONNECT_MAX":    "20s",
		"SATTRACK_HTTP_ADDR":               "127.0.0.1:9000",
		"SATTRACK_TRACKER_AUTO_SELECT":     "false",
		"SATTRACK_LOG_LEVEL":               "debug",
		"SATTRACK_TRACING_SAMPLE_RATIO":    "0.25",
		"SATTRACK_QUERY_MIN_ELEVATION_DEG": "15",
		"SATTRACK_OBSERVER_LAT":            "-33.9",
	})
	if err != nil {
		t.Fatalf("LoadFromEnvironment: %v", err)
	}

	if cfg.Stream.URL != "wss://telemetry.example.org/ws/satellites" {
		t.Fatalf("stream url = %q, want file value", cfg.Stream.URL)
	}
	if cfg.Stream.ReconnectBase != 500*time.Millisecond {
		t.Fatalf("reconnectBase = %s, want 500ms from file", cfg.Stream.ReconnectBase)
	}
	if cfg.Stream.ReconnectMax != 20*time.Second {
		t.Fatalf("reconnectMax = %s, want env override 20s", cfg.Stream.ReconnectMax)
	}
	if cfg.Stream.DialTimeout != 10*time.Second {
		t.Fatalf("dialTimeout = %s, want default 10s", cfg.Stream.DialTimeout)
	}
	if cfg.Camera.Width != 800 || cfg.Camera.FOVDeg != 45 {
		t.Fatalf("camera = %+v, want file values", cfg.Camera)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Fatalf("http addr = %q, want env override", cfg.HTTP.Addr)
	}
	if cfg.Tracker.AutoSelect {
		t.Fatalf("AutoSelect = true, want env override false")
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.Logging.Level)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Endpoint != "collector:4317" || cfg.Tracing.SampleRatio != 0.25 {
		t.Fatalf("tracing = %+v, want file values plus env ratio", cfg.Tracing)
	}
	if cfg.Query.MinElevation != 15 || cfg.Observer.Latitude != -33.9 {
		t.Fatalf("query/observer overrides not applied: %+v %+v", cfg.Query, cfg.Observer)
	}
}

func TestConfigPathFromEnvironment(t *testing.T) {
	path := writeFile(t, "http:\n  addr: \":7070\"\n")
	cfg, err := LoadFromEnvironment("", map[string]string{PathEnv: path})
	if err != nil {
		t.Fatalf("LoadFromEnvironment: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Fatalf("http addr = %q, want :7070", cfg.HTTP.Addr)
	}
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	path := writeFile(t, "stream:\n  uri: ws://typo\n")
	if _, err := LoadFromEnvironment(path, nil); err == nil {
		t.Fatalf("LoadFromEnvironment accepted unknown key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadFromEnvironment(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("LoadFromEnvironment accepted a missing file")
	}
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	if _, err := LoadFromEnvironment("", map[string]string{"SATTRACK_STREAM_RECONNECT_BASE": "soon"}); err == nil {
		t.Fatalf("LoadFromEnvironment accepted an unparsable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"http stream url", func(c *Config) { c.Stream.URL = "http://x/ws" }, "stream.url"},
		{"empty stream url", func(c *Config) { c.Stream.URL = "" }, "stream.url"},
		{"zero base", func(c *Config) { c.Stream.ReconnectBase = 0 }, "reconnectBase"},
		{"max below base", func(c *Config) { c.Stream.ReconnectMax = 100 * time.Millisecond }, "reconnectMax"},
		{"pong before ping", func(c *Config) { c.Stream.PongWait = time.Second }, "pongWait"},
		{"ws passes url", func(c *Config) { c.Query.PassesURL = "ws://x/passes" }, "query.passesUrl"},
		{"camera lat", func(c *Config) { c.Camera.Latitude = 91 }, "camera.lat"},
		{"camera fov", func(c *Config) { c.Camera.FOVDeg = 180 }, "camera.fovDeg"},
		{"viewport", func(c *Config) { c.Camera.Width = 0 }, "viewport"},
		{"observer lon", func(c *Config) { c.Observer.Longitude = -181 }, "observer.lon"},
		{"tracing ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, "tracing"},
		{"http addr", func(c *Config) { c.HTTP.Addr = "" }, "http.addr"},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("%s: Validate() = %v, want error mentioning %q", tt.name, err, tt.wantErr)
		}
	}

	cfg := Default()
	cfg.Query.PassesURL = ""
	cfg.Query.GroundTrackURL = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate with queries disabled: %v", err)
	}
}
