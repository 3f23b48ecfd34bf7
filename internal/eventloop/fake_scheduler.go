package eventloop

import (
	"time"

	"github.com/signalsfoundry/sattrack/timectrl"
)

// FakeScheduler is a test EventScheduler with its own manual clock. Tests
// call Advance or AdvanceTo to move time and fire due callbacks
// deterministically on the calling goroutine.
type FakeScheduler struct {
	*eventScheduler
	clock *timectrl.ManualClock
}

// NewFakeScheduler creates a fake scheduler starting at start.
func NewFakeScheduler(start time.Time) *FakeScheduler {
	clock := timectrl.NewManualClock(start)
	return &FakeScheduler{
		eventScheduler: newEventScheduler(clock),
		clock:          clock,
	}
}

// AdvanceTo moves fake time to t (never backwards) and runs due callbacks.
func (s *FakeScheduler) AdvanceTo(t time.Time) {
	s.clock.Set(t)
	s.RunDue()
}

// Advance moves fake time forward by d and runs due callbacks.
func (s *FakeScheduler) Advance(d time.Duration) {
	s.clock.Advance(d)
	s.RunDue()
}

// Pending returns the number of callbacks still scheduled.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}
