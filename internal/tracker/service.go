// Package tracker wires the telemetry stream to the scene. It owns the
// current selection and ground-track overlay and exposes goroutine-safe
// operations that run on the event loop.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/sattrack/internal/eventloop"
	"github.com/signalsfoundry/sattrack/internal/logging"
	"github.com/signalsfoundry/sattrack/internal/query"
	"github.com/signalsfoundry/sattrack/internal/scene"
	"github.com/signalsfoundry/sattrack/internal/scenesync"
	"github.com/signalsfoundry/sattrack/internal/stream"
	"github.com/signalsfoundry/sattrack/model"
)

var (
	// ErrUnknownEntity is returned when selecting an ID absent from the
	// latest snapshot.
	ErrUnknownEntity = errors.New("tracker: unknown entity")
	// ErrNoSelection is returned by queries that need a selected entity.
	ErrNoSelection = errors.New("tracker: nothing selected")
)

// Predictor is the remote prediction service. *query.Client implements it.
type Predictor interface {
	Passes(ctx context.Context, req query.PassesRequest) ([]model.PassEvent, error)
	GroundTrack(ctx context.Context, req query.GroundTrackRequest) ([]model.GroundTrackPoint, error)
}

// Service coordinates the stream client, the scene and the prediction
// service. Fields below the loop marker are only touched on the loop.
type Service struct {
	loop      *eventloop.Loop
	client    *stream.Client
	scene     *scene.MemoryScene
	sync      *scenesync.Sync
	predictor Predictor
	log       logging.Logger

	observer   model.Position
	autoSelect bool

	// loop-owned
	selected        model.EntityID
	overlayFor      model.EntityID
	lastQueryErr    string
	statusListeners []func(stream.Status)
	unsubscribe     func()
	started         bool
}

// Option customises a Service.
type Option func(*Service)

// WithObserver sets the ground location for pass queries and elevation.
func WithObserver(lat, lon float64) Option {
	return func(s *Service) { s.observer = model.Position{Latitude: lat, Longitude: lon} }
}

// WithAutoSelect selects the first entity by ID whenever nothing is selected.
func WithAutoSelect(enabled bool) Option {
	return func(s *Service) { s.autoSelect = enabled }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithStatusListener registers fn for every stream status change. fn runs on
// the loop.
func WithStatusListener(fn func(stream.Status)) Option {
	return func(s *Service) {
		if fn != nil {
			s.statusListeners = append(s.statusListeners, fn)
		}
	}
}

// New assembles a Service. client must use loop for its timers and transport
// events; sync must draw on sc. predictor may be nil to disable queries.
func New(loop *eventloop.Loop, client *stream.Client, sc *scene.MemoryScene, sync *scenesync.Sync, predictor Predictor, opts ...Option) *Service {
	s := &Service{
		loop:      loop,
		client:    client,
		scene:     sc,
		sync:      sync,
		predictor: predictor,
		log:       logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.String("component", "tracker"))
	return s
}

// Start subscribes to the stream, installs click selection and connects.
func (s *Service) Start(ctx context.Context) error {
	var err error
	doErr := s.loop.Do(ctx, func() {
		if s.started {
			return
		}
		s.unsubscribe = s.client.Subscribe(s)
		if err = s.sync.OnSelect(s.selectOnLoop); err != nil {
			return
		}
		if err = s.client.Start(); err != nil {
			return
		}
		s.started = true
	})
	return errors.Join(doErr, err)
}

// Stop disconnects and clears the scene. It is terminal.
func (s *Service) Stop(ctx context.Context) error {
	var err error
	doErr := s.loop.Do(ctx, func() {
		s.client.Stop()
		if s.unsubscribe != nil {
			s.unsubscribe()
			s.unsubscribe = nil
		}
		if cerr := s.sync.Close(); cerr != nil && !errors.Is(cerr, scenesync.ErrClosed) {
			err = cerr
		}
	})
	return errors.Join(doErr, err)
}

// StatusChanged implements stream.Observer.
func (s *Service) StatusChanged(st stream.Status) {
	s.log.Debug(context.Background(), "stream status changed",
		logging.String("state", st.State.String()),
		logging.Int("attempt", st.Attempt),
		logging.String("last_error", st.LastError),
	)
	for _, fn := range s.statusListeners {
		fn(st)
	}
}

// SnapshotReceived implements stream.Observer.
func (s *Service) SnapshotReceived(snap model.Snapshot) {
	if s.selected == "" && s.autoSelect && snap.Len() > 0 {
		s.selected = snap.IDs()[0]
		s.log.Info(context.Background(), "auto-selected entity", logging.String("entity_id", string(s.selected)))
	}
	s.reconcile(snap)
}

func (s *Service) reconcile(snap model.Snapshot) {
	if err := s.sync.ReconcileMarkers(snap, s.selected); err != nil && !errors.Is(err, scenesync.ErrClosed) {
		s.log.Warn(context.Background(), "reconcile markers", logging.Err(err))
	}
}

// selectOnLoop changes the selection and re-renders. The overlay belongs to
// one entity, so it is dropped when the selection moves away from it.
func (s *Service) selectOnLoop(id model.EntityID) {
	if id == s.selected {
		return
	}
	s.selected = id
	if s.overlayFor != "" && s.overlayFor != id {
		_ = s.sync.SetOverlay(nil)
		s.overlayFor = ""
	}
	s.reconcile(s.client.Snapshot())
}

// Select makes id the selection. The empty ID clears it.
func (s *Service) Select(ctx context.Context, id model.EntityID) error {
	var err error
	doErr := s.loop.Do(ctx, func() {
		if id != "" {
			if _, ok := s.client.Snapshot().Get(id); !ok {
				err = fmt.Errorf("%w: %s", ErrUnknownEntity, id)
				return
			}
		}
		s.selectOnLoop(id)
	})
	return errors.Join(doErr, err)
}

// Status describes the stream, the latest snapshot and the selection.
type Status struct {
	State       string
	LastError   string
	Attempt     int
	Since       time.Time
	Entities    int
	LastUpdated time.Time
	Selected    model.EntityID
	QueryError  string
}

// Status reports the current state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	var out Status
	err := s.loop.Do(ctx, func() {
		st := s.client.Status()
		snap := s.client.Snapshot()
		out = Status{
			State:       st.State.String(),
			LastError:   st.LastError,
			Attempt:     st.Attempt,
			Since:       st.Since,
			Entities:    snap.Len(),
			LastUpdated: snap.Timestamp(),
			Selected:    s.selected,
			QueryError:  s.lastQueryErr,
		}
	})
	return out, err
}

// Snapshot returns the latest snapshot.
func (s *Service) Snapshot(ctx context.Context) (model.Snapshot, error) {
	var snap model.Snapshot
	err := s.loop.Do(ctx, func() { snap = s.client.Snapshot() })
	return snap, err
}

// SelectedView is the selected entity as seen from the observer.
type SelectedView struct {
	ID           model.EntityID
	Position     model.Position
	ElevationDeg float64
	AboveHorizon bool
}

// Selected returns the selected entity. ok is false when nothing is selected
// or the selection is absent from the latest snapshot.
func (s *Service) Selected(ctx context.Context) (view SelectedView, ok bool, err error) {
	err = s.loop.Do(ctx, func() {
		if s.selected == "" {
			return
		}
		pos, found := s.client.Snapshot().Get(s.selected)
		if !found {
			view.ID = s.selected
			return
		}
		elev := scene.ElevationDegrees(scene.FromGeodetic(s.observer), scene.FromGeodetic(pos))
		view = SelectedView{ID: s.selected, Position: pos, ElevationDeg: elev, AboveHorizon: elev > 0}
		ok = true
	})
	return view, ok, err
}

// Click dispatches a click on the scene, selecting whatever marker is hit.
func (s *Service) Click(ctx context.Context, p scene.ScreenPoint) (id model.EntityID, hit bool, err error) {
	err = s.loop.Do(ctx, func() {
		id, hit = s.sync.Pick(p)
		s.scene.Click(p)
	})
	return id, hit, err
}

// Pick resolves p without changing the selection.
func (s *Service) Pick(ctx context.Context, p scene.ScreenPoint) (id model.EntityID, hit bool, err error) {
	err = s.loop.Do(ctx, func() { id, hit = s.sync.Pick(p) })
	return id, hit, err
}

// SceneView is a copy of what the scene currently shows.
type SceneView struct {
	Markers    []scenesync.MarkerView
	Overlay    []model.GroundTrackPoint
	OverlayFor model.EntityID
}

// Scene returns the drawn markers and overlay.
func (s *Service) Scene(ctx context.Context) (SceneView, error) {
	var v SceneView
	err := s.loop.Do(ctx, func() {
		v = SceneView{Markers: s.sync.Markers(), Overlay: s.sync.Overlay(), OverlayFor: s.overlayFor}
	})
	return v, err
}

// Passes queries visibility passes of the selected entity over the observer.
func (s *Service) Passes(ctx context.Context, hours, minElevationDeg float64) ([]model.PassEvent, error) {
	id, observer, err := s.selection(ctx)
	if err != nil {
		return nil, err
	}
	passes, qerr := s.predictor.Passes(ctx, query.PassesRequest{
		SatID:           id,
		Latitude:        observer.Latitude,
		Longitude:       observer.Longitude,
		Hours:           hours,
		MinElevationDeg: minElevationDeg,
	})
	s.recordQuery(ctx, qerr)
	return passes, qerr
}

// ShowGroundTrack fetches the selected entity's ground track and draws it.
// The overlay is not drawn if the selection changed while fetching.
func (s *Service) ShowGroundTrack(ctx context.Context, hours float64, samples int) ([]model.GroundTrackPoint, error) {
	id, _, err := s.selection(ctx)
	if err != nil {
		return nil, err
	}
	points, qerr := s.predictor.GroundTrack(ctx, query.GroundTrackRequest{SatID: id, Hours: hours, Samples: samples})
	if qerr != nil {
		s.recordQuery(ctx, qerr)
		return nil, qerr
	}

	var setErr error
	doErr := s.loop.Do(ctx, func() {
		s.lastQueryErr = ""
		if s.selected != id {
			s.log.Debug(ctx, "discarding ground track for stale selection", logging.String("entity_id", string(id)))
			return
		}
		if setErr = s.sync.SetOverlay(points); setErr == nil {
			s.overlayFor = id
		}
	})
	return points, errors.Join(doErr, setErr)
}

// ClearGroundTrack removes the overlay.
func (s *Service) ClearGroundTrack(ctx context.Context) error {
	var err error
	doErr := s.loop.Do(ctx, func() {
		err = s.sync.SetOverlay(nil)
		s.overlayFor = ""
	})
	return errors.Join(doErr, err)
}

func (s *Service) selection(ctx context.Context) (model.EntityID, model.Position, error) {
	if s.predictor == nil {
		return "", model.Position{}, query.ErrNotConfigured
	}
	var id model.EntityID
	var observer model.Position
	if err := s.loop.Do(ctx, func() { id, observer = s.selected, s.observer }); err != nil {
		return "", model.Position{}, err
	}
	if id == "" {
		return "", model.Position{}, ErrNoSelection
	}
	return id, observer, nil
}

// recordQuery keeps the last query failure for Status. Queries never touch
// the stream or the scene on failure.
func (s *Service) recordQuery(ctx context.Context, qerr error) {
	msg := ""
	if qerr != nil {
		msg = qerr.Error()
	}
	_ = s.loop.Do(ctx, func() { s.lastQueryErr = msg })
}
