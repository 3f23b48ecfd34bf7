// Command streamprobe connects to a telemetry stream and prints the first few
// snapshots it receives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/sattrack/internal/eventloop"
	"github.com/signalsfoundry/sattrack/internal/logging"
	"github.com/signalsfoundry/sattrack/internal/stream"
	"github.com/signalsfoundry/sattrack/internal/transport/wsconn"
	"github.com/signalsfoundry/sattrack/model"
	"github.com/signalsfoundry/sattrack/timectrl"
)

type probeConfig struct {
	URL         string
	Count       int
	Timeout     time.Duration
	DialTimeout time.Duration
}

func main() {
	cfg := probeConfig{}
	flag.StringVar(&cfg.URL, "url", "ws://localhost:8000/ws/satellites", "Telemetry WebSocket URL")
	flag.IntVar(&cfg.Count, "count", 3, "Number of snapshots to print before exiting")
	flag.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Give up after this long")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", 10*time.Second, "Timeout for each connection attempt")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := probe(ctx, cfg, log, os.Stdout); err != nil {
		log.Error(ctx, "probe failed", logging.Err(err))
		os.Exit(1)
	}
}

// probe prints status changes and snapshots to w until cfg.Count snapshots
// have arrived or the timeout expires.
func probe(ctx context.Context, cfg probeConfig, log logging.Logger, w io.Writer) error {
	if cfg.Count <= 0 {
		return errors.New("count must be positive")
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	loop := eventloop.New(timectrl.SystemClock{})
	dialer := wsconn.New(loop, wsconn.WithDialTimeout(cfg.DialTimeout), wsconn.WithLogger(log))
	client, err := stream.New(cfg.URL, dialer, loop, stream.WithLogger(log))
	if err != nil {
		return err
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() { _ = loop.Run(loopCtx) }()

	done := make(chan struct{})
	received := 0
	obs := stream.ObserverFuncs{
		OnStatus: func(st stream.Status) {
			fmt.Fprintf(w, "status: %s", st.State)
			if st.LastError != "" {
				fmt.Fprintf(w, " (%s)", st.LastError)
			}
			fmt.Fprintln(w)
		},
		OnSnapshot: func(snap model.Snapshot) {
			received++
			fmt.Fprintf(w, "snapshot %d: %d satellites", received, snap.Len())
			if ts := snap.Timestamp(); !ts.IsZero() {
				fmt.Fprintf(w, " at %s", ts.UTC().Format(time.RFC3339))
			}
			fmt.Fprintln(w)
			if ids := snap.IDs(); len(ids) > 0 {
				pos, _ := snap.Get(ids[0])
				fmt.Fprintf(w, "  %s: lat=%.4f lon=%.4f alt=%.1fkm\n", ids[0], pos.Latitude, pos.Longitude, pos.AltitudeKm)
			}
			if received == cfg.Count {
				client.Stop()
				close(done)
			}
		},
	}

	var startErr error
	if err := loop.Do(ctx, func() {
		client.Subscribe(obs)
		startErr = client.Start()
	}); err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Stop on the loop so no callback runs after we return.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = loop.Do(stopCtx, client.Stop)
		select {
		case <-done:
			return nil
		default:
		}
		return fmt.Errorf("received %d of %d snapshots: %w", received, cfg.Count, ctx.Err())
	}
}
