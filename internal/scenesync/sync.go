// Package scenesync keeps a scene's markers consistent with the latest
// telemetry snapshot, draws the single ground-track overlay, and resolves
// screen clicks back to entity IDs.
//
// A Sync never reads from or writes to the snapshot or selection it is given;
// it only mirrors them into the scene. Like the scene it draws on, a Sync is
// owned by one goroutine.
package scenesync

import (
	"context"
	"errors"
	"sort"

	"github.com/signalsfoundry/sattrack/internal/logging"
	"github.com/signalsfoundry/sattrack/internal/scene"
	"github.com/signalsfoundry/sattrack/model"
)

// ErrClosed is returned by every mutating call after Close.
var ErrClosed = errors.New("scenesync: closed")

// Style is the visual treatment of one marker class.
type Style struct {
	PixelSize float64
	Color     scene.Color
}

var (
	defaultStyle  = Style{PixelSize: 12, Color: scene.Gold}
	selectedStyle = Style{PixelSize: 16, Color: scene.Red}
)

const defaultOverlayWidthPx = 2

// MarkerRecorder receives the live marker count after each reconcile.
type MarkerRecorder interface {
	SetSceneMarkers(n int)
}

type marker struct {
	handle    scene.Handle
	billboard scene.Billboard
	selected  bool
}

// Sync mirrors snapshots into a scene.
type Sync struct {
	scene scene.Scene
	log   logging.Logger

	normal       Style
	selected     Style
	overlayStyle scene.Polyline
	metrics      MarkerRecorder

	markers map[model.EntityID]*marker
	owners  map[scene.Handle]model.EntityID

	overlay       scene.Handle
	hasOverlay    bool
	overlayPoints []model.GroundTrackPoint

	removeClick func()
	closed      bool
}

// Option customises a Sync.
type Option func(*Sync)

// WithStyles overrides the unselected and selected marker styles.
func WithStyles(normal, selected Style) Option {
	return func(s *Sync) {
		s.normal = normal
		s.selected = selected
	}
}

// WithOverlayStyle sets the ground-track line width and colour.
func WithOverlayStyle(widthPx float64, color scene.Color) Option {
	return func(s *Sync) {
		s.overlayStyle.WidthPx = widthPx
		s.overlayStyle.Color = color
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Sync) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches a marker count recorder.
func WithMetrics(m MarkerRecorder) Option {
	return func(s *Sync) { s.metrics = m }
}

// New returns a Sync drawing on sc.
func New(sc scene.Scene, opts ...Option) *Sync {
	s := &Sync{
		scene:        sc,
		log:          logging.Noop(),
		normal:       defaultStyle,
		selected:     selectedStyle,
		overlayStyle: scene.Polyline{WidthPx: defaultOverlayWidthPx, Color: scene.Cyan},
		markers:      make(map[model.EntityID]*marker),
		owners:       make(map[scene.Handle]model.EntityID),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.String("component", "scenesync"))
	return s
}

// ReconcileMarkers makes the scene hold exactly one marker per entity in snap,
// styling the one matching selected (if any) as the selection. Markers whose
// primitive the scene lost are recreated.
func (s *Sync) ReconcileMarkers(snap model.Snapshot, selected model.EntityID) error {
	if s.closed {
		return ErrClosed
	}

	for id, m := range s.markers {
		if _, ok := snap.Get(id); !ok {
			s.removeMarker(id, m)
		}
	}

	var firstErr error
	snap.Range(func(id model.EntityID, pos model.Position) bool {
		isSelected := selected != "" && id == selected
		want := s.billboardFor(id, pos, isSelected)

		m, ok := s.markers[id]
		if ok && !s.scene.Contains(m.handle) {
			s.log.Debug(context.Background(), "recreating lost marker", logging.String("entity_id", string(id)))
			delete(s.owners, m.handle)
			ok = false
		}
		if !ok {
			s.addMarker(id, want, isSelected)
			return true
		}
		if m.billboard == want {
			m.selected = isSelected
			return true
		}

		err := s.scene.UpdateBillboard(m.handle, want)
		switch {
		case errors.Is(err, scene.ErrUnknownHandle):
			delete(s.owners, m.handle)
			s.addMarker(id, want, isSelected)
		case err != nil:
			if firstErr == nil {
				firstErr = err
			}
		default:
			m.billboard = want
			m.selected = isSelected
		}
		return true
	})

	if s.metrics != nil {
		s.metrics.SetSceneMarkers(len(s.markers))
	}
	return firstErr
}

func (s *Sync) billboardFor(id model.EntityID, pos model.Position, selected bool) scene.Billboard {
	st := s.normal
	if selected {
		st = s.selected
	}
	return scene.Billboard{
		Position:  pos,
		PixelSize: st.PixelSize,
		Color:     st.Color,
		Label:     string(id),
	}
}

func (s *Sync) addMarker(id model.EntityID, b scene.Billboard, selected bool) {
	h := s.scene.AddBillboard(b)
	s.markers[id] = &marker{handle: h, billboard: b, selected: selected}
	s.owners[h] = id
}

func (s *Sync) removeMarker(id model.EntityID, m *marker) {
	if err := s.scene.RemoveBillboard(m.handle); err != nil && !errors.Is(err, scene.ErrUnknownHandle) {
		s.log.Warn(context.Background(), "removing marker", logging.String("entity_id", string(id)), logging.Err(err))
	}
	delete(s.owners, m.handle)
	delete(s.markers, id)
}

// SetOverlay replaces the ground-track overlay with a polyline through points
// in order. An empty or nil slice removes the overlay.
func (s *Sync) SetOverlay(points []model.GroundTrackPoint) error {
	if s.closed {
		return ErrClosed
	}
	s.clearOverlay()
	if len(points) == 0 {
		return nil
	}

	line := s.overlayStyle
	line.Positions = make([]model.Position, len(points))
	for i, p := range points {
		line.Positions[i] = p.Position()
	}
	s.overlay = s.scene.AddPolyline(line)
	s.hasOverlay = true
	s.overlayPoints = append([]model.GroundTrackPoint(nil), points...)
	return nil
}

func (s *Sync) clearOverlay() {
	if !s.hasOverlay {
		return
	}
	if err := s.scene.RemovePolyline(s.overlay); err != nil && !errors.Is(err, scene.ErrUnknownHandle) {
		s.log.Warn(context.Background(), "removing overlay", logging.Err(err))
	}
	s.hasOverlay = false
	s.overlay = 0
	s.overlayPoints = nil
}

// Pick returns the entity whose marker is front-most at p. Overlay geometry
// and foreign primitives never resolve.
func (s *Sync) Pick(p scene.ScreenPoint) (model.EntityID, bool) {
	if s.closed {
		return "", false
	}
	for _, h := range s.scene.Pick(p) {
		if id, ok := s.owners[h]; ok {
			return id, true
		}
	}
	return "", false
}

// OnSelect routes scene clicks that land on a marker to fn. Clicks on empty
// space are ignored. A later call replaces the handler; nil removes it.
func (s *Sync) OnSelect(fn func(model.EntityID)) error {
	if s.closed {
		return ErrClosed
	}
	if s.removeClick != nil {
		s.removeClick()
		s.removeClick = nil
	}
	if fn == nil {
		return nil
	}
	s.removeClick = s.scene.OnClick(func(p scene.ScreenPoint) {
		if id, ok := s.Pick(p); ok {
			fn(id)
		}
	})
	return nil
}

// Close removes every marker, the overlay and the click handler.
func (s *Sync) Close() error {
	if s.closed {
		return ErrClosed
	}
	for id, m := range s.markers {
		s.removeMarker(id, m)
	}
	s.clearOverlay()
	if s.removeClick != nil {
		s.removeClick()
		s.removeClick = nil
	}
	s.closed = true
	if s.metrics != nil {
		s.metrics.SetSceneMarkers(0)
	}
	return nil
}

// MarkerView is a read-only description of one marker.
type MarkerView struct {
	ID       model.EntityID
	Position model.Position
	Selected bool
	Style    Style
}

// Markers lists the current markers sorted by ID.
func (s *Sync) Markers() []MarkerView {
	out := make([]MarkerView, 0, len(s.markers))
	for id, m := range s.markers {
		out = append(out, MarkerView{
			ID:       id,
			Position: m.billboard.Position,
			Selected: m.selected,
			Style:    Style{PixelSize: m.billboard.PixelSize, Color: m.billboard.Color},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Overlay returns the points of the current overlay, or nil.
func (s *Sync) Overlay() []model.GroundTrackPoint {
	return append([]model.GroundTrackPoint(nil), s.overlayPoints...)
}
