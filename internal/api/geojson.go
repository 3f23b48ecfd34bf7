package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/signalsfoundry/sattrack/internal/tracker"
)

// sceneFeatures renders the scene as GeoJSON: one Point per marker and, when
// an overlay is shown, one LineString for the ground track. Coordinates are
// [lon, lat]; altitude goes in the properties.
func sceneFeatures(view tracker.SceneView) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range view.Markers {
		f := geojson.NewFeature(orb.Point{m.Position.Longitude, m.Position.Latitude})
		f.ID = string(m.ID)
		f.Properties["kind"] = "marker"
		f.Properties["id"] = string(m.ID)
		f.Properties["alt_km"] = m.Position.AltitudeKm
		f.Properties["selected"] = m.Selected
		f.Properties["pixel_size"] = m.Style.PixelSize
		f.Properties["color"] = m.Style.Color.Hex()
		fc.Append(f)
	}

	if len(view.Overlay) >= 2 {
		line := make(orb.LineString, 0, len(view.Overlay))
		alts := make([]float64, 0, len(view.Overlay))
		for _, p := range view.Overlay {
			line = append(line, orb.Point{p.Longitude, p.Latitude})
			alts = append(alts, p.AltitudeKm)
		}
		f := geojson.NewFeature(line)
		f.Properties["kind"] = "ground_track"
		f.Properties["id"] = string(view.OverlayFor)
		f.Properties["alt_km"] = alts
		fc.Append(f)
	}
	return fc
}

func (h *handlers) sceneGeoJSON(c *gin.Context) {
	view, err := h.tracker.Scene(c.Request.Context())
	if err != nil {
		h.abortWithError(c, err, http.StatusInternalServerError)
		return
	}
	body, err := sceneFeatures(view).MarshalJSON()
	if err != nil {
		h.abortWithError(c, err, http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}
