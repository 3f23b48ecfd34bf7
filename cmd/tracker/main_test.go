package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/sattrack/internal/config"
	"github.com/signalsfoundry/sattrack/internal/logging"
)

const telemetry = `{"last_updated":"2025-06-01T12:00:00Z","satellites":{"ZARYA":{"lat":51.6,"lon":-0.2,"alt_km":420}}}`

func telemetryServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if err := ws.WriteMessage(websocket.TextMessage, []byte(telemetry)); err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	return lis
}

func TestTrackerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws := telemetryServer(t)
	cfg := config.Default()
	cfg.Stream.URL = "ws" + strings.TrimPrefix(ws.URL, "http")
	cfg.Query.PassesURL = ""
	cfg.Query.GroundTrackURL = ""
	cfg.Tracing.Enabled = false

	httpLis, grpcLis := listen(t), listen(t)
	log := logging.New(logging.Config{Level: "warn", Format: "text"})

	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(runCtx, cfg, log, httpLis, grpcLis)
	}()

	base := "http://" + httpLis.Addr().String()
	var status struct {
		State    string `json:"state"`
		Entities int    `json:"entities"`
		Selected string `json:"selected"`
	}
	for {
		resp, err := http.Get(base + "/api/status")
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&status)
			resp.Body.Close()
			if status.State == "connected" && status.Entities == 1 {
				break
			}
		}
		select {
		case <-ctx.Done():
			t.Fatalf("tracker never connected: last status %+v", status)
		case <-time.After(20 * time.Millisecond):
		}
	}
	if status.Selected != "ZARYA" {
		t.Fatalf("Selected = %q, want ZARYA", status.Selected)
	}

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()
	hc := healthpb.NewHealthClient(conn)
	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health status = %v, want SERVING", resp.GetStatus())
	}

	passes, err := http.Get(base + "/api/passes")
	if err != nil {
		t.Fatalf("GET /api/passes: %v", err)
	}
	passes.Body.Close()
	if passes.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("passes with no prediction service = %d, want 503", passes.StatusCode)
	}

	stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("run did not return after cancellation")
	}
}

func TestCameraFromConfig(t *testing.T) {
	cam := cameraFromConfig(config.Default().Camera)
	if cam.Position.AltitudeKm != 20000 || cam.Width != 1280 || cam.Height != 720 || cam.FOVDeg != 60 {
		t.Fatalf("camera = %+v", cam)
	}
}
