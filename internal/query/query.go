// Package query calls the remote prediction service for visibility passes and
// ground tracks. Failures are returned to the caller; they never affect the
// telemetry stream or the scene.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sattrack/internal/logging"
	"github.com/signalsfoundry/sattrack/model"
)

const tracerName = "github.com/signalsfoundry/sattrack/internal/query"

const maxResponseBytes = 8 << 20

var (
	// ErrInvalidRequest marks requests rejected locally or by the service.
	ErrInvalidRequest = errors.New("invalid query")
	// ErrNotFound is returned when the service does not know the entity.
	ErrNotFound = errors.New("entity not found")
	// ErrNotConfigured is returned when the endpoint URL is empty.
	ErrNotConfigured = errors.New("query endpoint not configured")
)

// Recorder receives query measurements. observability.QueryCollector
// implements it.
type Recorder interface {
	ObserveQuery(kind, outcome string, d time.Duration)
	ObserveGroundTrackPoints(n int)
}

// PassesRequest asks for passes of SatID over an observer.
type PassesRequest struct {
	SatID           model.EntityID
	Latitude        float64
	Longitude       float64
	Hours           float64
	MinElevationDeg float64
}

// Validate applies the service's own parameter limits.
func (r PassesRequest) Validate() error {
	switch {
	case r.SatID == "":
		return fmt.Errorf("%w: sat_id is required", ErrInvalidRequest)
	case r.Latitude < -90 || r.Latitude > 90:
		return fmt.Errorf("%w: lat must be between -90 and 90 degrees", ErrInvalidRequest)
	case r.Longitude < -180 || r.Longitude > 180:
		return fmt.Errorf("%w: lon must be between -180 and 180 degrees", ErrInvalidRequest)
	case r.Hours <= 0 || r.Hours > 48:
		return fmt.Errorf("%w: hours must be in (0, 48]", ErrInvalidRequest)
	case r.MinElevationDeg < 0 || r.MinElevationDeg > 90:
		return fmt.Errorf("%w: min_elevation_deg must be in [0, 90]", ErrInvalidRequest)
	}
	return nil
}

// GroundTrackRequest asks for Samples points of SatID's track over Hours.
// Zero Samples leaves the count to the service.
type GroundTrackRequest struct {
	SatID   model.EntityID
	Hours   float64
	Samples int
}

// Validate applies the service's own parameter limits.
func (r GroundTrackRequest) Validate() error {
	switch {
	case r.SatID == "":
		return fmt.Errorf("%w: sat_id is required", ErrInvalidRequest)
	case r.Hours <= 0 || r.Hours > 48:
		return fmt.Errorf("%w: hours must be in (0, 48]", ErrInvalidRequest)
	case r.Samples != 0 && (r.Samples < 2 || r.Samples > 500):
		return fmt.Errorf("%w: samples must be in [2, 500]", ErrInvalidRequest)
	}
	return nil
}

// Client talks to the prediction service.
type Client struct {
	http           *http.Client
	passesURL      string
	groundTrackURL string
	log            logging.Logger
	metrics        Recorder
	tracer         trace.Tracer
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Transport: c.http.Transport, Timeout: d}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics attaches a recorder.
func WithMetrics(m Recorder) Option {
	return func(c *Client) { c.metrics = m }
}

// New returns a client for the given endpoints. An empty URL disables that
// query.
func New(passesURL, groundTrackURL string, opts ...Option) *Client {
	c := &Client{
		http:           &http.Client{Timeout: 10 * time.Second},
		passesURL:      passesURL,
		groundTrackURL: groundTrackURL,
		log:            logging.Noop(),
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logging.String("component", "query"))
	return c
}

type wirePass struct {
	Start           string  `json:"start"`
	Peak            string  `json:"peak"`
	End             string  `json:"end"`
	MaxElevationDeg float64 `json:"max_elevation_deg"`
}

type wirePoint struct {
	Time  string  `json:"time"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	AltKm float64 `json:"alt_km"`
}

// Passes predicts visibility passes.
func (c *Client) Passes(ctx context.Context, req PassesRequest) (passes []model.PassEvent, err error) {
	ctx, span := c.tracer.Start(ctx, "query.Passes", trace.WithAttributes(
		attribute.String("sat_id", string(req.SatID)),
		attribute.Float64("hours", req.Hours),
	))
	start := time.Now()
	defer func() { c.finish(ctx, span, "passes", start, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if c.passesURL == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("lat", formatFloat(req.Latitude))
	q.Set("lon", formatFloat(req.Longitude))
	q.Set("sat_id", string(req.SatID))
	q.Set("hours", formatFloat(req.Hours))
	q.Set("min_elevation_deg", formatFloat(req.MinElevationDeg))

	var body struct {
		Passes []wirePass `json:"passes"`
	}
	if err := c.get(ctx, "Passes", c.passesURL, q, &body); err != nil {
		return nil, err
	}

	passes = make([]model.PassEvent, 0, len(body.Passes))
	for i, p := range body.Passes {
		ev, err := p.toModel()
		if err != nil {
			return nil, fmt.Errorf("pass %d: %w", i, err)
		}
		passes = append(passes, ev)
	}
	span.SetAttributes(attribute.Int("passes", len(passes)))
	return passes, nil
}

func (p wirePass) toModel() (model.PassEvent, error) {
	var ev model.PassEvent
	var err error
	if ev.Start, err = model.ParseTimestamp(p.Start); err != nil {
		return ev, err
	}
	if ev.Peak, err = model.ParseTimestamp(p.Peak); err != nil {
		return ev, err
	}
	if ev.End, err = model.ParseTimestamp(p.End); err != nil {
		return ev, err
	}
	ev.MaxElevationDeg = p.MaxElevationDeg
	return ev, nil
}

// GroundTrack fetches sampled ground-track points in time order.
func (c *Client) GroundTrack(ctx context.Context, req GroundTrackRequest) (points []model.GroundTrackPoint, err error) {
	ctx, span := c.tracer.Start(ctx, "query.GroundTrack", trace.WithAttributes(
		attribute.String("sat_id", string(req.SatID)),
		attribute.Float64("hours", req.Hours),
	))
	start := time.Now()
	defer func() { c.finish(ctx, span, "groundtrack", start, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if c.groundTrackURL == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("sat_id", string(req.SatID))
	q.Set("hours", formatFloat(req.Hours))
	if req.Samples > 0 {
		q.Set("samples", strconv.Itoa(req.Samples))
	}

	var body struct {
		Points []wirePoint `json:"points"`
	}
	if err := c.get(ctx, "Groundtrack", c.groundTrackURL, q, &body); err != nil {
		return nil, err
	}

	points = make([]model.GroundTrackPoint, 0, len(body.Points))
	for i, p := range body.Points {
		ts, err := model.ParseTimestamp(p.Time)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		points = append(points, model.GroundTrackPoint{
			Time:       ts,
			Latitude:   p.Lat,
			Longitude:  p.Lon,
			AltitudeKm: p.AltKm,
		})
	}
	if c.metrics != nil {
		c.metrics.ObserveGroundTrackPoints(len(points))
	}
	span.SetAttributes(attribute.Int("points", len(points)))
	return points, nil
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

func (c *Client) get(ctx context.Context, label, endpoint string, q url.Values, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	merged := u.Query()
	for k, vs := range q {
		merged[k] = vs
	}
	u.RawQuery = merged.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", label, err)
	}
	defer resp.Body.Close()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s response: %w", label, err)
	}

	if resp.StatusCode != http.StatusOK {
		detail := errorDetail(data)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, detail)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %s", ErrInvalidRequest, detail)
		default:
			return fmt.Errorf("%s request failed: %d", label, resp.StatusCode)
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s response: %w", label, err)
	}
	return nil
}

// errorDetail extracts a readable message from an error body of the form
// {"detail": "..."} or {"detail": [...]}.
func errorDetail(data []byte) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || len(body.Detail) == 0 {
		return http.StatusText(http.StatusBadRequest)
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	return string(body.Detail)
}

// finish ends the query span and records the outcome.
func (c *Client) finish(ctx context.Context, span trace.Span, kind string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.ObserveQuery(kind, outcome(err), time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn(ctx, "prediction query failed", logging.String("kind", kind), logging.Err(err))
	}
	span.End()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotConfigured):
		return "disabled"
	default:
		return "error"
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
