package scene

import (
	"math"
	"sort"
)

// minPickTolerancePx is the smallest distance at which a polyline still
// counts as hit.
const minPickTolerancePx = 3.0

type clickHandler struct {
	id int
	fn func(ScreenPoint)
}

// MemoryScene keeps primitives in memory and picks against a Camera.
type MemoryScene struct {
	camera Camera

	next       Handle
	billboards map[Handle]Billboard
	polylines  map[Handle]Polyline

	handlers    []clickHandler
	nextHandler int
}

// NewMemoryScene creates an empty scene viewed through camera.
func NewMemoryScene(camera Camera) *MemoryScene {
	return &MemoryScene{
		camera:     camera,
		billboards: make(map[Handle]Billboard),
		polylines:  make(map[Handle]Polyline),
	}
}

// Camera returns the active camera.
func (s *MemoryScene) Camera() Camera { return s.camera }

// SetCamera moves the camera.
func (s *MemoryScene) SetCamera(c Camera) { s.camera = c }

func (s *MemoryScene) AddBillboard(b Billboard) Handle {
	s.next++
	s.billboards[s.next] = b
	return s.next
}

func (s *MemoryScene) UpdateBillboard(h Handle, b Billboard) error {
	if _, ok := s.billboards[h]; !ok {
		return ErrUnknownHandle
	}
	s.billboards[h] = b
	return nil
}

func (s *MemoryScene) RemoveBillboard(h Handle) error {
	if _, ok := s.billboards[h]; !ok {
		return ErrUnknownHandle
	}
	delete(s.billboards, h)
	return nil
}

func (s *MemoryScene) Contains(h Handle) bool {
	if _, ok := s.billboards[h]; ok {
		return true
	}
	_, ok := s.polylines[h]
	return ok
}

func (s *MemoryScene) AddPolyline(p Polyline) Handle {
	s.next++
	p.Positions = append(p.Positions[:0:0], p.Positions...)
	s.polylines[s.next] = p
	return s.next
}

func (s *MemoryScene) RemovePolyline(h Handle) error {
	if _, ok := s.polylines[h]; !ok {
		return ErrUnknownHandle
	}
	delete(s.polylines, h)
	return nil
}

// Billboard returns the billboard named by h.
func (s *MemoryScene) Billboard(h Handle) (Billboard, bool) {
	b, ok := s.billboards[h]
	return b, ok
}

// Polyline returns the polyline named by h.
func (s *MemoryScene) Polyline(h Handle) (Polyline, bool) {
	p, ok := s.polylines[h]
	return p, ok
}

// BillboardCount returns the number of live billboards.
func (s *MemoryScene) BillboardCount() int { return len(s.billboards) }

// PolylineHandles returns the handles of live polylines in creation order.
func (s *MemoryScene) PolylineHandles() []Handle {
	out := make([]Handle, 0, len(s.polylines))
	for h := range s.polylines {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clear removes every primitive. Click handlers stay registered.
func (s *MemoryScene) Clear() {
	s.billboards = make(map[Handle]Billboard)
	s.polylines = make(map[Handle]Polyline)
}

type hit struct {
	h     Handle
	depth float64
}

func (s *MemoryScene) Pick(p ScreenPoint) []Handle {
	var hits []hit

	for h, b := range s.billboards {
		sp, depth, ok := s.camera.Project(FromGeodetic(b.Position))
		if !ok {
			continue
		}
		half := b.PixelSize / 2
		if math.Abs(sp.X-p.X) <= half && math.Abs(sp.Y-p.Y) <= half {
			hits = append(hits, hit{h: h, depth: depth})
		}
	}

	for h, line := range s.polylines {
		if depth, ok := s.pickPolyline(line, p); ok {
			hits = append(hits, hit{h: h, depth: depth})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].depth != hits[j].depth {
			return hits[i].depth < hits[j].depth
		}
		return hits[i].h < hits[j].h
	})
	out := make([]Handle, len(hits))
	for i, ht := range hits {
		out[i] = ht.h
	}
	return out
}

// pickPolyline tests p against every segment whose endpoints are both
// visible and returns the depth of the nearest hit.
func (s *MemoryScene) pickPolyline(line Polyline, p ScreenPoint) (float64, bool) {
	tol := math.Max(line.WidthPx/2, minPickTolerancePx)
	best, found := math.Inf(1), false

	var prev ScreenPoint
	var prevDepth float64
	prevOK := false
	for _, pos := range line.Positions {
		sp, depth, ok := s.camera.Project(FromGeodetic(pos))
		if ok && prevOK && segmentDistance(p, prev, sp) <= tol {
			if d := math.Min(depth, prevDepth); d < best {
				best, found = d, true
			}
		}
		prev, prevDepth, prevOK = sp, depth, ok
	}
	return best, found
}

func segmentDistance(p, a, b ScreenPoint) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	l2 := dx*dx + dy*dy
	t := 0.0
	if l2 > 0 {
		t = ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / l2
		t = math.Max(0, math.Min(1, t))
	}
	cx, cy := a.X+t*dx, a.Y+t*dy
	return math.Hypot(p.X-cx, p.Y-cy)
}

func (s *MemoryScene) OnClick(fn func(ScreenPoint)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	s.nextHandler++
	id := s.nextHandler
	s.handlers = append(s.handlers, clickHandler{id: id, fn: fn})
	return func() {
		for i, ch := range s.handlers {
			if ch.id == id {
				s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

// Click dispatches a click at p to every registered handler.
func (s *MemoryScene) Click(p ScreenPoint) {
	for _, ch := range append([]clickHandler(nil), s.handlers...) {
		ch.fn(p)
	}
}

// HandlerCount returns the number of registered click handlers.
func (s *MemoryScene) HandlerCount() int { return len(s.handlers) }
