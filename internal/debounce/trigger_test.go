package debounce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quiet = 60 * time.Millisecond

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func TestTrigger_CollapsesBurst(t *testing.T) {
	trigger := NewTrigger(nil)
	defer trigger.Stop()

	var calls atomic.Int32
	action := func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}

	for i := 0; i < 3; i++ {
		trigger.Schedule(action, quiet)
		time.Sleep(quiet / 4)
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(2 * quiet)
	assert.Equal(t, int32(1), calls.Load())

	scheduled, runs := trigger.Stats()
	assert.Equal(t, int64(3), scheduled)
	assert.Equal(t, int64(1), runs)
}

func TestTrigger_RunsLatestAction(t *testing.T) {
	trigger := NewTrigger(nil)
	defer trigger.Stop()

	got := make(chan string, 4)
	for _, name := range []string{"first", "second", "third"} {
		name := name
		trigger.Schedule(func(ctx context.Context) error {
			got <- name
			return nil
		}, quiet)
	}

	select {
	case name := <-got:
		assert.Equal(t, "third", name)
	case <-time.After(time.Second):
		t.Fatal("action never ran")
	}
}

func TestTrigger_SeparatedCallsRunSeparately(t *testing.T) {
	trigger := NewTrigger(nil)
	defer trigger.Stop()

	var calls atomic.Int32
	action := func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}

	trigger.Schedule(action, quiet)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	trigger.Schedule(action, quiet)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestTrigger_AtMostOneInFlight(t *testing.T) {
	trigger := NewTrigger(nil)
	defer trigger.Stop()

	var inFlight, maxInFlight, calls atomic.Int32
	release := make(chan struct{})
	action := func(ctx context.Context) error {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		if calls.Add(1) == 1 {
			<-release
		}
		inFlight.Add(-1)
		return nil
	}

	trigger.Schedule(action, 10*time.Millisecond)
	require.Eventually(t, trigger.Running, time.Second, 2*time.Millisecond)

	// countdown elapses while the first run is still blocked
	trigger.Schedule(action, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, trigger.Pending())

	close(release)

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestTrigger_ScheduleDuringRunResetsCountdown(t *testing.T) {
	trigger := NewTrigger(nil)
	defer trigger.Stop()

	var calls atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	action := func(ctx context.Context) error {
		n := calls.Add(1)
		started <- struct{}{}
		if n == 1 {
			<-release
		}
		return nil
	}

	trigger.Schedule(action, 10*time.Millisecond)
	<-started

	trigger.Schedule(action, 200*time.Millisecond)
	close(release)

	// the first run finished, but the second countdown has not elapsed yet
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("second run never started")
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestTrigger_ReportsErrors(t *testing.T) {
	sink := &errorSink{}
	trigger := NewTrigger(sink.handle)
	defer trigger.Stop()

	trigger.Schedule(func(ctx context.Context) error {
		return errors.New("extraction failed")
	}, 5*time.Millisecond)

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualError(t, sink.all()[0], "extraction failed")

	// a failure does not stop later scheduling
	var ran atomic.Bool
	trigger.Schedule(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}, 5*time.Millisecond)
	assert.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
}

func TestTrigger_RecoversPanics(t *testing.T) {
	sink := &errorSink{}
	trigger := NewTrigger(sink.handle)
	defer trigger.Stop()

	trigger.Schedule(func(ctx context.Context) error {
		panic("boom")
	}, 5*time.Millisecond)

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, sink.all()[0].Error(), "boom")
	assert.False(t, trigger.Running())
}

func TestTrigger_StopCancelsCountdown(t *testing.T) {
	trigger := NewTrigger(nil)

	var calls atomic.Int32
	trigger.Schedule(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, quiet)
	trigger.Stop()

	time.Sleep(2 * quiet)
	assert.Equal(t, int32(0), calls.Load())
	assert.False(t, trigger.Pending())

	trigger.Schedule(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	// stopping twice is harmless
	trigger.Stop()
}

func TestTrigger_StopCancelsInFlightContext(t *testing.T) {
	trigger := NewTrigger(nil)

	started := make(chan struct{})
	var cancelled atomic.Bool
	trigger.Schedule(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}, time.Millisecond)

	<-started
	trigger.Stop()

	assert.True(t, cancelled.Load())
	assert.False(t, trigger.Running())
}

func TestTrigger_NilAction(t *testing.T) {
	trigger := NewTrigger(nil)
	defer trigger.Stop()

	trigger.Schedule(nil, time.Millisecond)
	assert.False(t, trigger.Pending())
}
