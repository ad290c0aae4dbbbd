// Package debounce collapses bursts of downstream work into single runs.
package debounce

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Action is the downstream work run by a Trigger
type Action func(ctx context.Context) error

// ErrorHandler receives errors returned (or panics raised) by an Action
type ErrorHandler func(err error)

// Trigger runs the most recently scheduled Action once the schedule calls
// have been quiet for the requested period.
//
// At most one Action runs at a time. A Schedule call that arrives while an
// Action is running restarts the countdown, and a fresh run starts only
// after the current one returns.
type Trigger struct {
	onError ErrorHandler

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64 // identifies the live countdown
	armed   bool   // countdown for gen has not fired yet
	pending bool
	running bool
	stopped bool
	action  Action

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	scheduled atomic.Int64
	runs      atomic.Int64
}

// NewTrigger creates a trigger. onError may be nil.
func NewTrigger(onError ErrorHandler) *Trigger {
	ctx, cancel := context.WithCancel(context.Background())
	return &Trigger{
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule marks action as pending and (re)starts the quiet-period countdown.
// It never blocks on the action and is a no-op after Stop.
func (t *Trigger) Schedule(action Action, quiet time.Duration) {
	if action == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	t.scheduled.Add(1)
	t.pending = true
	t.action = action

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.armed = true
	t.timer = time.AfterFunc(quiet, func() { t.fire(gen) })
}

// fire is called when the countdown identified by gen elapses
func (t *Trigger) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		// superseded by a later Schedule
		t.mu.Unlock()
		return
	}
	t.armed = false
	if t.stopped || !t.pending || t.running {
		t.mu.Unlock()
		return
	}
	action := t.begin()
	t.mu.Unlock()

	t.run(action)
}

// begin claims the pending action. Caller must hold t.mu.
func (t *Trigger) begin() Action {
	t.pending = false
	t.running = true
	t.wg.Add(1)
	return t.action
}

// run executes action, then keeps going while work is pending and no
// countdown is outstanding
func (t *Trigger) run(action Action) {
	for action != nil {
		t.invoke(action)

		t.mu.Lock()
		t.running = false
		t.wg.Done()
		action = nil
		if t.pending && !t.armed && !t.stopped {
			action = t.begin()
		}
		t.mu.Unlock()
	}
}

func (t *Trigger) invoke(action Action) {
	defer func() {
		if r := recover(); r != nil {
			t.report(fmt.Errorf("debounced action panicked: %v", r))
		}
	}()

	t.runs.Add(1)
	if err := action(t.ctx); err != nil {
		t.report(err)
	}
}

func (t *Trigger) report(err error) {
	if t.onError != nil {
		t.onError(err)
	}
}

// Stop cancels any outstanding countdown and the context passed to an
// in-flight action, then waits for that action to return. Later Schedule
// calls are ignored.
func (t *Trigger) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.pending = false
	t.armed = false
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}

// Pending reports whether an action is waiting for its countdown
func (t *Trigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Running reports whether an action is currently executing
func (t *Trigger) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Stats returns how many times Schedule was accepted and how many times an
// action actually ran
func (t *Trigger) Stats() (scheduled, runs int64) {
	return t.scheduled.Load(), t.runs.Load()
}
