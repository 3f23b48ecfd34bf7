// Package wsconn is the WebSocket implementation of stream.Dialer. Each
// connection runs a reader goroutine that never touches client state
// directly: every event is posted onto the owning event loop.
package wsconn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/sattrack/internal/logging"
	"github.com/signalsfoundry/sattrack/internal/stream"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultReadLimit    = 4 << 20
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	writeWait           = 5 * time.Second
)

// Poster queues a closure onto the goroutine that owns the stream client.
// eventloop.Loop implements it.
type Poster interface {
	Post(f func()) bool
}

// Dialer opens telemetry WebSockets.
type Dialer struct {
	poster       Poster
	ws           *websocket.Dialer
	header       http.Header
	readLimit    int64
	pingInterval time.Duration
	pongWait     time.Duration
	log          logging.Logger
}

// Option customises a Dialer.
type Option func(*Dialer)

// WithDialTimeout bounds the opening handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(dl *Dialer) {
		if d > 0 {
			dl.ws.HandshakeTimeout = d
		}
	}
}

// WithReadLimit caps the size of one inbound message in bytes.
func WithReadLimit(n int64) Option {
	return func(dl *Dialer) {
		if n > 0 {
			dl.readLimit = n
		}
	}
}

// WithKeepalive sets the ping interval and how long to wait for any inbound
// frame before the connection is considered dead. A zero interval disables
// pings.
func WithKeepalive(pingInterval, pongWait time.Duration) Option {
	return func(dl *Dialer) {
		dl.pingInterval = pingInterval
		if pongWait > 0 {
			dl.pongWait = pongWait
		}
	}
}

// WithHeader adds request headers to the handshake.
func WithHeader(h http.Header) Option {
	return func(dl *Dialer) { dl.header = h.Clone() }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(dl *Dialer) {
		if l != nil {
			dl.log = l
		}
	}
}

// New returns a Dialer that delivers events through poster.
func New(poster Poster, opts ...Option) *Dialer {
	d := &Dialer{
		poster: poster,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultDialTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		readLimit:    defaultReadLimit,
		pingInterval: defaultPingInterval,
		pongWait:     defaultPongWait,
		log:          logging.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial implements stream.Dialer. It returns immediately; the handshake and
// all reads happen on a background goroutine.
func (d *Dialer) Dial(url string, events stream.Events) (stream.Conn, error) {
	if d.poster == nil {
		return nil, errors.New("wsconn: nil poster")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{dialer: d, events: events, ctx: ctx, cancel: cancel}
	go c.run(url)
	return c, nil
}

type conn struct {
	dialer *Dialer
	events stream.Events
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex // guards ws and writes
	ws        *websocket.Conn
	closeOnce sync.Once
}

// Close implements stream.Conn. After Close no further events are posted.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ws == nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

// post forwards f to the loop unless the connection was closed locally.
func (c *conn) post(f func()) {
	if c.ctx.Err() != nil {
		return
	}
	c.dialer.poster.Post(f)
}

func (c *conn) run(url string) {
	d := c.dialer
	ws, resp, err := d.ws.DialContext(c.ctx, url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.post(func() { c.events.Closed(err) })
		return
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.mu.Unlock()

	ws.SetReadLimit(d.readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(d.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(d.pongWait))
	})

	c.post(c.events.Opened)

	if d.pingInterval > 0 {
		go c.keepalive()
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.log.Info(context.Background(), "telemetry source closed the connection")
				err = nil
			}
			closeErr := err
			c.post(func() { c.events.Closed(closeErr) })
			c.cancel()
			_ = ws.Close()
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(d.pongWait))
		c.post(func() { c.events.Message(data) })
	}
}

func (c *conn) keepalive() {
	ticker := time.NewTicker(c.dialer.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				c.dialer.log.Debug(context.Background(), "ping failed", logging.Err(err))
				return
			}
		}
	}
}
