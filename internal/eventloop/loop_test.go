package eventloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalsfoundry/sattrack/timectrl"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	loop := New(timectrl.SystemClock{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop, cancel
}

func TestLoopRunsPostedWorkInOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if !loop.Post(func() { got = append(got, i) }) {
			t.Fatalf("Post returned false on a running loop")
		}
	}

	var n int
	if err := loop.Do(context.Background(), func() { n = len(got) }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if n != 5 {
		t.Fatalf("ran %d closures before Do, want 5", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v, want ascending", got)
		}
	}
}

func TestLoopFiresTimers(t *testing.T) {
	loop, _ := startLoop(t)

	fired := make(chan time.Time, 1)
	loop.Post(func() {
		loop.Schedule(loop.Now().Add(20*time.Millisecond), func() { fired <- time.Now() })
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire")
	}
}

func TestLoopCancelledTimerDoesNotFire(t *testing.T) {
	loop, _ := startLoop(t)

	var fired atomic.Bool
	var id string
	if err := loop.Do(context.Background(), func() {
		id = loop.Schedule(loop.Now().Add(30*time.Millisecond), func() { fired.Store(true) })
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	loop.Cancel(id)

	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Fatalf("cancelled timer fired")
	}
}

func TestLoopRejectsWorkAfterExit(t *testing.T) {
	loop := New(timectrl.SystemClock{})
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(exited)
	}()
	cancel()
	<-exited

	if loop.Post(func() {}) {
		t.Fatalf("Post succeeded after loop exit")
	}
	if err := loop.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Do after exit = %v, want ErrClosed", err)
	}
}
