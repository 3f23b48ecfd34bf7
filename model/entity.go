package model

import (
	"fmt"
	"strings"
	"time"
)

// EntityID identifies a tracked object. It is the join key between stream
// snapshots and scene markers and is stable across updates.
type EntityID string

// Position is a geodetic position. AltitudeKm is height above the reference
// ellipsoid, not above terrain.
type Position struct {
	Latitude   float64 // degrees
	Longitude  float64 // degrees
	AltitudeKm float64
}

// GroundTrackPoint is one sample of a ground track overlay.
type GroundTrackPoint struct {
	Time       time.Time
	Latitude   float64
	Longitude  float64
	AltitudeKm float64
}

// Position returns the geodetic position of the sample.
func (p GroundTrackPoint) Position() Position {
	return Position{Latitude: p.Latitude, Longitude: p.Longitude, AltitudeKm: p.AltitudeKm}
}

// PassEvent is a single rise/peak/set visibility pass for an observer.
type PassEvent struct {
	Start           time.Time
	Peak            time.Time
	End             time.Time
	MaxElevationDeg float64
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the ISO-8601 timestamps emitted by the telemetry and
// prediction services. Values without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
