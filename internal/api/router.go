// Package api exposes the tracker over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/sattrack/internal/logging"
	"github.com/signalsfoundry/sattrack/internal/observability"
	"github.com/signalsfoundry/sattrack/internal/query"
	"github.com/signalsfoundry/sattrack/internal/scene"
	"github.com/signalsfoundry/sattrack/internal/tracker"
	"github.com/signalsfoundry/sattrack/model"
)

// RequestIDHeader carries the request ID in and out of the API.
const RequestIDHeader = "X-Request-ID"

// Tracker is the subset of *tracker.Service served by the API.
type Tracker interface {
	Status(ctx context.Context) (tracker.Status, error)
	Snapshot(ctx context.Context) (model.Snapshot, error)
	Scene(ctx context.Context) (tracker.SceneView, error)
	Select(ctx context.Context, id model.EntityID) error
	Selected(ctx context.Context) (tracker.SelectedView, bool, error)
	Click(ctx context.Context, p scene.ScreenPoint) (model.EntityID, bool, error)
	Pick(ctx context.Context, p scene.ScreenPoint) (model.EntityID, bool, error)
	Passes(ctx context.Context, hours, minElevationDeg float64) ([]model.PassEvent, error)
	ShowGroundTrack(ctx context.Context, hours float64, samples int) ([]model.GroundTrackPoint, error)
	ClearGroundTrack(ctx context.Context) error
}

// QueryDefaults fill in query parameters the caller leaves out.
type QueryDefaults struct {
	Hours           float64
	MinElevationDeg float64
	Samples         int
}

type handlers struct {
	tracker  Tracker
	log      logging.Logger
	metrics  *observability.TrackerCollector
	promHTTP http.Handler
	defaults QueryDefaults
}

// Option customises the router.
type Option func(*handlers)

// WithLogger sets the base logger. Each request gets a child logger carrying
// its request ID.
func WithLogger(l logging.Logger) Option {
	return func(h *handlers) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMetrics records HTTP requests on c.
func WithMetrics(c *observability.TrackerCollector) Option {
	return func(h *handlers) { h.metrics = c }
}

// WithMetricsHandler serves handler on /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(h *handlers) { h.promHTTP = handler }
}

// WithQueryDefaults sets the defaults for pass and ground-track queries.
func WithQueryDefaults(d QueryDefaults) Option {
	return func(h *handlers) { h.defaults = d }
}

// NewRouter builds the gin engine serving t.
func NewRouter(t Tracker, opts ...Option) *gin.Engine {
	h := &handlers{
		tracker:  t,
		log:      logging.Noop(),
		defaults: QueryDefaults{Hours: 24, MinElevationDeg: 10},
	}
	for _, opt := range opts {
		opt(h)
	}

	r := gin.New()
	r.Use(gin.Recovery(), h.requestContext())

	r.GET("/health", h.health)
	if h.promHTTP != nil {
		r.GET("/metrics", gin.WrapH(h.promHTTP))
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", h.status)
		apiGroup.GET("/satellites", h.satellites)
		apiGroup.GET("/scene.geojson", h.sceneGeoJSON)
		apiGroup.GET("/selection", h.selection)
		apiGroup.POST("/selection", h.selectEntity)
		apiGroup.POST("/click", h.click)
		apiGroup.GET("/pick", h.pick)
		apiGroup.GET("/passes", h.passes)
		apiGroup.POST("/groundtrack", h.showGroundTrack)
		apiGroup.DELETE("/groundtrack", h.clearGroundTrack)
	}
	return r
}

// requestContext attaches a request ID and logger to the request context and
// records the request once handled.
func (h *handlers) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()
		if id := c.GetHeader(RequestIDHeader); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, log := logging.WithRequestLogger(ctx, h.log)
		ctx = logging.ContextWithLogger(ctx, log)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, logging.RequestIDFromContext(ctx))

		c.Next()

		code := c.Writer.Status()
		h.metrics.ObserveHTTP(c.Request.Method, c.FullPath(), code, time.Since(start))
		log.Debug(ctx, "http request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", code),
			logging.Duration("duration", time.Since(start)),
		)
	}
}

// abortWithError maps err to a status code. fallback is used for errors with
// no specific mapping.
func (h *handlers) abortWithError(c *gin.Context, err error, fallback int) {
	code := fallback
	switch {
	case errors.Is(err, query.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, query.ErrNotFound), errors.Is(err, tracker.ErrUnknownEntity):
		code = http.StatusNotFound
	case errors.Is(err, tracker.ErrNoSelection):
		code = http.StatusConflict
	case errors.Is(err, query.ErrNotConfigured):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code >= http.StatusInternalServerError {
		logging.FromContext(c.Request.Context(), h.log).Warn(c.Request.Context(), "request failed",
			logging.String("path", c.Request.URL.Path), logging.Err(err))
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
