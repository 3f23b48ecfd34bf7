// Package stream maintains a best-effort continuous connection to the
// telemetry source and publishes the latest snapshot and connection status.
//
// A Client is owned by one event loop: every method, every transport event
// and every reconnect timer runs on that loop's goroutine, so the state
// machine needs no locking.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/sattrack/internal/eventloop"
	"github.com/signalsfoundry/sattrack/internal/logging"
	"github.com/signalsfoundry/sattrack/model"
)

// ErrStopped is returned by Start once Stop has been called.
var ErrStopped = errors.New("stream: client stopped")

// MetricsRecorder receives stream measurements. observability.TrackerCollector
// implements it.
type MetricsRecorder interface {
	SetConnectionState(state string)
	ObserveReconnect(attempt int, delay time.Duration)
	IncMessages()
	IncParseFailures()
	SetSnapshotEntities(n int)
}

type phase int

const (
	phaseIdle       phase = iota // constructed, never started
	phaseConnecting              // transport dialing
	phaseConnected               // transport open
	phaseWaiting                 // disconnected, reconnect timer armed
	phaseStopped                 // terminal
)

// Client is the telemetry stream session.
type Client struct {
	url     string
	dialer  Dialer
	timers  eventloop.Timers
	backoff Backoff
	log     logging.Logger
	metrics MetricsRecorder

	phase    phase
	attempt  int
	session  *session
	timerID  string
	status   Status
	snapshot model.Snapshot

	observers    []observerEntry
	nextObserver int
}

type observerEntry struct {
	id  int
	obs Observer
}

// Option customises a Client.
type Option func(*Client)

// WithBackoff overrides the reconnect policy.
func WithBackoff(b Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Client) { c.metrics = m }
}

// New constructs an idle client for url. Configuration mistakes are returned
// here rather than surfacing later as connection failures.
func New(url string, dialer Dialer, timers eventloop.Timers, opts ...Option) (*Client, error) {
	c := &Client{
		url:     url,
		dialer:  dialer,
		timers:  timers,
		backoff: DefaultBackoff(),
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if url == "" {
		return nil, errors.New("stream: empty telemetry URL")
	}
	if dialer == nil {
		return nil, errors.New("stream: nil dialer")
	}
	if timers == nil {
		return nil, errors.New("stream: nil timers")
	}
	if err := c.backoff.Validate(); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}

	c.log = c.log.With(logging.String("component", "stream"), logging.String("url", url))
	c.status = Status{State: Disconnected, Since: timers.Now()}
	return c, nil
}

// Start begins connecting. It is a no-op while the client is already running
// and returns ErrStopped after Stop.
func (c *Client) Start() error {
	switch c.phase {
	case phaseStopped:
		return ErrStopped
	case phaseIdle:
		c.connect()
	}
	return nil
}

// Stop permanently disables the client: the reconnect timer is cancelled, the
// transport is detached and closed, and no observer is notified again, even
// for transport events already in flight.
func (c *Client) Stop() {
	if c.phase == phaseStopped {
		return
	}
	if c.timerID != "" {
		c.timers.Cancel(c.timerID)
		c.timerID = ""
	}
	c.detach()
	c.phase = phaseStopped
	c.observers = nil
	c.status.State = Disconnected
	c.status.Since = c.timers.Now()
	if c.metrics != nil {
		c.metrics.SetConnectionState(Disconnected.String())
	}
	c.log.Info(context.Background(), "telemetry stream stopped")
}

// Status returns the current connection status.
func (c *Client) Status() Status { return c.status }

// Snapshot returns the last successfully decoded snapshot. It survives
// disconnects: stale data is preferred over an empty display.
func (c *Client) Snapshot() model.Snapshot { return c.snapshot }

// Subscribe registers obs for pushes and returns a function that removes it.
// Observers are notified in subscription order.
func (c *Client) Subscribe(obs Observer) (unsubscribe func()) {
	if obs == nil || c.phase == phaseStopped {
		return func() {}
	}
	c.nextObserver++
	id := c.nextObserver
	c.observers = append(c.observers, observerEntry{id: id, obs: obs})
	return func() {
		for i, e := range c.observers {
			if e.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// connect replaces any previous transport with a fresh one.
func (c *Client) connect() {
	c.detach()
	c.timerID = ""

	s := &session{id: uuid.NewString(), client: c}
	c.session = s
	c.phase = phaseConnecting
	c.setState(Connecting)
	c.log.Debug(context.Background(), "dialing telemetry source",
		logging.String("session_id", s.id),
		logging.Int("attempt", c.attempt),
	)

	conn, err := c.dialer.Dial(c.url, s)
	if err != nil {
		c.handleClosed(s, fmt.Errorf("dial: %w", err))
		return
	}
	if s.detached {
		// The dialer reported failure synchronously; the session is gone.
		_ = conn.Close()
		return
	}
	s.conn = conn
}

// detach disconnects the current session so none of its late events apply,
// then closes its transport.
func (c *Client) detach() {
	s := c.session
	if s == nil {
		return
	}
	c.session = nil
	s.detached = true
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			c.log.Debug(context.Background(), "closing superseded transport",
				logging.String("session_id", s.id), logging.Err(err))
		}
	}
}

func (c *Client) handleOpen(s *session) {
	if c.phase != phaseConnecting {
		return
	}
	c.phase = phaseConnected
	c.attempt = 0
	c.status.LastError = ""
	c.status.Attempt = 0
	c.setState(Connected)
	c.log.Info(context.Background(), "telemetry stream connected", logging.String("session_id", s.id))
}

func (c *Client) handleMessage(s *session, data []byte) {
	if c.phase != phaseConnected {
		return
	}
	if c.metrics != nil {
		c.metrics.IncMessages()
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		c.log.Warn(context.Background(), "dropping malformed telemetry message",
			logging.String("session_id", s.id), logging.Err(err))
		if c.metrics != nil {
			c.metrics.IncParseFailures()
		}
		if c.status.LastError != parseFailureMessage {
			c.status.LastError = parseFailureMessage
			c.publishStatus()
		}
		return
	}

	c.snapshot = snap
	if c.metrics != nil {
		c.metrics.SetSnapshotEntities(snap.Len())
	}
	if c.status.LastError != "" {
		c.status.LastError = ""
		c.publishStatus()
	}
	c.publishSnapshot()
}

func (c *Client) handleClosed(s *session, err error) {
	if c.phase != phaseConnecting && c.phase != phaseConnected {
		return
	}
	c.detach()

	c.attempt++
	delay := c.backoff.Delay(c.attempt)
	if err != nil {
		c.status.LastError = "transport error: " + err.Error()
	}
	c.status.Attempt = c.attempt
	c.phase = phaseWaiting
	c.timerID = c.timers.Schedule(c.timers.Now().Add(delay), c.reconnect)
	if c.metrics != nil {
		c.metrics.ObserveReconnect(c.attempt, delay)
	}
	c.log.Warn(context.Background(), "telemetry stream disconnected",
		logging.String("session_id", s.id),
		logging.Int("attempt", c.attempt),
		logging.Duration("retry_in", delay),
		logging.Err(err),
	)
	c.setState(Disconnected)
}

func (c *Client) reconnect() {
	if c.phase != phaseWaiting {
		return
	}
	c.connect()
}

func (c *Client) setState(state ConnState) {
	c.status.State = state
	c.status.Since = c.timers.Now()
	if c.metrics != nil {
		c.metrics.SetConnectionState(state.String())
	}
	c.publishStatus()
}

func (c *Client) publishStatus() {
	st := c.status
	for _, e := range c.observerList() {
		if c.phase == phaseStopped {
			return
		}
		e.obs.StatusChanged(st)
	}
}

func (c *Client) publishSnapshot() {
	snap := c.snapshot
	for _, e := range c.observerList() {
		if c.phase == phaseStopped {
			return
		}
		e.obs.SnapshotReceived(snap)
	}
}

// observerList copies the observer list so callbacks may subscribe or
// unsubscribe while being notified.
func (c *Client) observerList() []observerEntry {
	return append([]observerEntry(nil), c.observers...)
}

// session is the Events sink handed to one transport instance. Once detached
// it swallows everything, which is what keeps a superseded transport from
// touching client state.
type session struct {
	id       string
	client   *Client
	conn     Conn
	detached bool
}

func (s *session) Opened() {
	if s.detached {
		return
	}
	s.client.handleOpen(s)
}

func (s *session) Message(data []byte) {
	if s.detached {
		return
	}
	s.client.handleMessage(s, data)
}

func (s *session) Closed(err error) {
	if s.detached {
		return
	}
	s.client.handleClosed(s, err)
}
