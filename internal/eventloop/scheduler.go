package eventloop

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/sattrack/timectrl"
)

// Timers is the subset of a scheduler that loop-owned components need: arm a
// callback for a point in time, cancel it, and read the current time.
type Timers interface {
	// Schedule registers f to run at 'at'. It returns an opaque ID that can
	// be passed to Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel drops a scheduled callback. It is a no-op if the ID is unknown
	// or the callback already ran.
	Cancel(id string)

	// Now returns the scheduler's notion of the current time.
	Now() time.Time
}

// EventScheduler orders callbacks by due time. Whoever drives it (the Loop,
// or a test) calls RunDue after time advances.
type EventScheduler interface {
	Timers

	// RunDue executes all callbacks whose scheduled time is <= Now(). It is
	// safe to call repeatedly; a callback never runs twice.
	RunDue()

	// NextDue reports the due time of the earliest pending callback.
	NextDue() (time.Time, bool)
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// eventScheduler keeps events sorted by due time and reads time from a Clock.
type eventScheduler struct {
	clock timectrl.Clock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // earliest first
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates a scheduler backed by clock.
func NewEventScheduler(clock timectrl.Clock) EventScheduler {
	return newEventScheduler(clock)
}

func newEventScheduler(clock timectrl.Clock) *eventScheduler {
	if clock == nil {
		clock = timectrl.SystemClock{}
	}
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("timer-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}

	// Equal due times keep insertion order.
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(at)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[id] = ev
	return id
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy; RunDue and NextDue skip cancelled events.
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *eventScheduler) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.events) > 0 && s.events[0].cancelled {
		s.events = s.events[1:]
	}
	if len(s.events) == 0 {
		return time.Time{}, false
	}
	return s.events[0].when, true
}

// popDueLocked removes and returns the earliest non-cancelled event that is
// due, or nil. Caller must hold s.mu.
func (s *eventScheduler) popDueLocked(now time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

func (s *eventScheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.popDueLocked(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return
		}

		// Run outside the lock; callbacks commonly schedule follow-ups.
		if ev.f != nil {
			ev.f()
		}
	}
}
