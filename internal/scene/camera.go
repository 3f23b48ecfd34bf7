package scene

import (
	"math"

	"github.com/signalsfoundry/sattrack/model"
)

// Camera is a perspective camera hovering over a geodetic position and
// looking at the Earth's centre, north up.
type Camera struct {
	Position model.Position
	Width    int
	Height   int
	FOVDeg   float64 // vertical field of view
}

// DefaultCamera looks down on 0°N 0°E from 20,000 km with a 1280x720 viewport.
func DefaultCamera() Camera {
	return Camera{
		Position: model.Position{AltitudeKm: 20000},
		Width:    1280,
		Height:   720,
		FOVDeg:   60,
	}
}

// basis returns the eye position and the right/up/forward unit vectors.
func (c Camera) basis() (eye, right, up, forward Vec3) {
	eye = FromGeodetic(c.Position)
	forward = eye.Scale(-1).Unit()
	right = forward.Cross(Vec3{Z: 1})
	if right.Norm() < 1e-9 {
		// Over a pole: any horizontal axis works.
		right = forward.Cross(Vec3{Y: 1})
	}
	right = right.Unit()
	up = right.Cross(forward)
	return eye, right, up, forward
}

// Project maps an ECEF point to screen pixels. It returns the distance from
// the eye and false when the point is behind the camera or hidden by the
// Earth.
func (c Camera) Project(p Vec3) (ScreenPoint, float64, bool) {
	eye, right, up, forward := c.basis()
	d := p.Sub(eye)
	zc := d.Dot(forward)
	if zc <= 0 {
		return ScreenPoint{}, 0, false
	}
	if !HasLineOfSight(eye, p) {
		return ScreenPoint{}, 0, false
	}
	focal := (float64(c.Height) / 2) / math.Tan(c.FOVDeg*degToRad/2)
	sp := ScreenPoint{
		X: float64(c.Width)/2 + d.Dot(right)/zc*focal,
		Y: float64(c.Height)/2 - d.Dot(up)/zc*focal,
	}
	return sp, d.Norm(), true
}
