package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/sattrack/internal/query"
	"github.com/signalsfoundry/sattrack/internal/scene"
	"github.com/signalsfoundry/sattrack/internal/stream"
	"github.com/signalsfoundry/sattrack/model"
)

type statusResponse struct {
	State       string     `json:"state"`
	LastError   string     `json:"last_error,omitempty"`
	Attempt     int        `json:"attempt"`
	Since       time.Time  `json:"since"`
	Entities    int        `json:"entities"`
	LastUpdated *time.Time `json:"last_updated"`
	Selected    string     `json:"selected,omitempty"`
	QueryError  string     `json:"query_error,omitempty"`
}

func (h *handlers) status(c *gin.Context) {
	st, err := h.tracker.Status(c.Request.Context())
	if err != nil {
		h.abortWithError(c, err, http.StatusInternalServerError)
		return
	}
	resp := statusResponse{
		State:      st.State,
		LastError:  st.LastError,
		Attempt:    st.Attempt,
		Since:      st.Since.UTC(),
		Entities:   st.Entities,
		Selected:   string(st.Selected),
		QueryError: st.QueryError,
	}
	if !st.LastUpdated.IsZero() {
		ts := st.LastUpdated.UTC()
		resp.LastUpdated = &ts
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) satellites(c *gin.Context) {
	snap, err := h.tracker.Snapshot(c.Request.Context())
	if err != nil {
		h.abortWithError(c, err, http.StatusInternalServerError)
		return
	}
	body, err := stream.EncodeSnapshot(snap)
	if err != nil {
		h.abortWithError(c, err, http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

type positionJSON struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	AltKm float64 `json:"alt_km"`
}

func toPositionJSON(p model.Position) *positionJSON {
	return &positionJSON{Lat: p.Latitude, Lon: p.Longitude, AltKm: p.AltitudeKm}
}

type selectionResponse struct {
	ID           string        `json:"id"`
	Position     *positionJSON `json:"position"`
	ElevationDeg *float64      `json:"elevation_deg,omitempty"`
	AboveHorizon bool          `json:"above_horizon"`
}

func (h *handlers) selection(c *gin.Context) {
	view, ok, err := h.tracker.Selected(c.Request.Context())
	if err != nil {
		h.abortWithError(c, err, http.StatusInternalServerError)
		return
	}
	if view.ID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "nothing selected"})
		return
	}
	resp := selectionResponse{ID: string(view.ID)}
	if ok {
		elev := view.ElevationDeg
		resp.Position = toPositionJSON(view.Position)
		resp.ElevationDeg = &elev
		resp.AboveHorizon = view.AboveHorizon
	}
	c.JSON(http.StatusOK, resp)
}

type selectRequest struct {
	ID string `json:"id"`
}

func (h *handlers) selectEntity(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.tracker.Select(c.Request.Context(), model.EntityID(req.ID)); err != nil {
		h.abortWithError(c, err, http.StatusInternalServerError)
		return
	}
	if req.ID == "" {
		c.Status(http.StatusNoContent)
		return
	}
	h.selection(c)
}

type pickResponse struct {
	ID  string `json:"id,omitempty"`
	Hit bool   `json:"hit"`
}

type clickRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (h *handlers) click(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.X == nil || req.Y == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "x and y are required"})
		return
	}
	id, hit, err := h.tracker.Click(c.Request.Context(), scene.ScreenPoint{X: *req.X, Y: *req.Y})
	if err != nil {
		h.abortWithError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, pickResponse{ID: string(id), Hit: hit})
}

func (h *handlers) pick(c *gin.Context) {
	x, errX := strconv.ParseFloat(c.Query("x"), 64)
	y, errY := strconv.ParseFloat(c.Query("y"), 64)
	if err := errors.Join(errX, errY); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "x and y must be numbers"})
		return
	}
	id, hit, err := h.tracker.Pick(c.Request.Context(), scene.ScreenPoint{X: x, Y: y})
	if err != nil {
		h.abortWithError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, pickResponse{ID: string(id), Hit: hit})
}

type passJSON struct {
	Start           time.Time `json:"start"`
	Peak            time.Time `json:"peak"`
	End             time.Time `json:"end"`
	MaxElevationDeg float64   `json:"max_elevation_deg"`
}

// floatQuery reads an optional numeric query parameter.
func floatQuery(c *gin.Context, key string, def float64) (float64, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", query.ErrInvalidRequest, key)
	}
	return v, nil
}

func (h *handlers) passes(c *gin.Context) {
	hours, err := floatQuery(c, "hours", h.defaults.Hours)
	if err != nil {
		h.abortWithError(c, err, http.StatusBadRequest)
		return
	}
	minElev, err := floatQuery(c, "min_elevation_deg", h.defaults.MinElevationDeg)
	if err != nil {
		h.abortWithError(c, err, http.StatusBadRequest)
		return
	}

	passes, err := h.tracker.Passes(c.Request.Context(), hours, minElev)
	if err != nil {
		h.abortWithError(c, err, http.StatusBadGateway)
		return
	}
	out := make([]passJSON, 0, len(passes))
	for _, p := range passes {
		out = append(out, passJSON{Start: p.Start.UTC(), Peak: p.Peak.UTC(), End: p.End.UTC(), MaxElevationDeg: p.MaxElevationDeg})
	}
	c.JSON(http.StatusOK, gin.H{"passes": out})
}

type groundTrackRequest struct {
	Hours   *float64 `json:"hours"`
	Samples *int     `json:"samples"`
}

type groundTrackPointJSON struct {
	Time  time.Time `json:"time"`
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	AltKm float64   `json:"alt_km"`
}

func (h *handlers) showGroundTrack(c *gin.Context) {
	var req groundTrackRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	hours, samples := h.defaults.Hours, h.defaults.Samples
	if req.Hours != nil {
		hours = *req.Hours
	}
	if req.Samples != nil {
		samples = *req.Samples
	}

	points, err := h.tracker.ShowGroundTrack(c.Request.Context(), hours, samples)
	if err != nil {
		h.abortWithError(c, err, http.StatusBadGateway)
		return
	}
	out := make([]groundTrackPointJSON, 0, len(points))
	for _, p := range points {
		out = append(out, groundTrackPointJSON{Time: p.Time.UTC(), Lat: p.Latitude, Lon: p.Longitude, AltKm: p.AltitudeKm})
	}
	c.JSON(http.StatusOK, gin.H{"points": out})
}

func (h *handlers) clearGroundTrack(c *gin.Context) {
	if err := h.tracker.ClearGroundTrack(c.Request.Context()); err != nil {
		h.abortWithError(c, err, http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}
