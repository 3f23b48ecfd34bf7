// Package scene is the rendering surface SceneSync draws on: point
// billboards, polylines, picking and click input. MemoryScene is the
// headless implementation.
package scene

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/sattrack/model"
)

// ErrUnknownHandle is returned when a handle does not name a live primitive.
var ErrUnknownHandle = errors.New("scene: unknown handle")

// Handle identifies one primitive in a scene. Handles are never reused.
type Handle uint64

// ScreenPoint is a position in viewport pixels, origin top-left.
type ScreenPoint struct {
	X, Y float64
}

// Color is an 8-bit RGBA colour.
type Color struct {
	R, G, B, A uint8
}

var (
	Red  = Color{R: 0xFF, A: 0xFF}
	Gold = Color{R: 0xFF, G: 0xD7, A: 0xFF}
	Cyan = Color{G: 0xFF, B: 0xFF, A: 0xFF}
)

// Hex formats c as #RRGGBB.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Billboard is a screen-aligned square marker at a geodetic position.
type Billboard struct {
	Position  model.Position
	PixelSize float64
	Color     Color
	Label     string
}

// Polyline is a line strip through geodetic positions.
type Polyline struct {
	Positions []model.Position
	WidthPx   float64
	Color     Color
}

// Scene is a mutable scene graph. Implementations are not required to be
// safe for concurrent use; callers own them from a single goroutine.
type Scene interface {
	AddBillboard(b Billboard) Handle
	UpdateBillboard(h Handle, b Billboard) error
	RemoveBillboard(h Handle) error
	// Contains reports whether h names a live billboard or polyline.
	Contains(h Handle) bool

	AddPolyline(p Polyline) Handle
	RemovePolyline(h Handle) error

	// Pick returns the handles under p, nearest first.
	Pick(p ScreenPoint) []Handle
	// OnClick registers fn for click input and returns its remover.
	OnClick(fn func(ScreenPoint)) (remove func())
}
