package stream

// Events receives notifications from one transport instance. Transports must
// deliver them on the loop goroutine that owns the Client (the websocket
// transport posts them through the event loop).
type Events interface {
	// Opened reports that the connection is established.
	Opened()
	// Message delivers one inbound text payload.
	Message(data []byte)
	// Closed reports that the connection failed to open, closed, or broke.
	// err is nil for a clean close.
	Closed(err error)
}

// Conn is a live or connecting transport instance.
type Conn interface {
	// Close releases the connection. Events raised afterwards may still be
	// delivered; the Client ignores them.
	Close() error
}

// Dialer starts transport instances. Dial must not block on the network: it
// begins connecting and reports the outcome through events.
type Dialer interface {
	Dial(url string, events Events) (Conn, error)
}
