package session

import (
	"context"
	"errors"
	"sync"
)

// ErrShuttingDown is returned by Registry.Track once Shutdown has begun
var ErrShuttingDown = errors.New("server shutting down")

// Registry tracks the live sessions of one server so that shutdown can
// stop them, flushing their pending turns and writes, before shared
// resources such as the store are closed.
type Registry struct {
	mu       sync.Mutex
	live     map[*Session]func()
	closing  bool
	handlers sync.WaitGroup
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{live: make(map[*Session]func())}
}

// Track registers a session owned by a connection handler. disconnect is
// called by Shutdown after the session has stopped and should close the
// client connection. The handler must call release when it returns, after
// its own Stop. A nil Registry tracks nothing.
func (r *Registry) Track(sess *Session, disconnect func()) (release func(), err error) {
	if r == nil {
		return func() {}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return nil, ErrShuttingDown
	}
	r.live[sess] = disconnect
	r.handlers.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.live, sess)
			r.mu.Unlock()
			r.handlers.Done()
		})
	}, nil
}

// Len returns the number of tracked sessions
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Shutdown refuses new sessions, stops every live one with ctx, disconnects
// their clients and waits for the connection handlers to return.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	r.closing = true
	live := make(map[*Session]func(), len(r.live))
	for sess, disconnect := range r.live {
		live[sess] = disconnect
	}
	r.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for sess, disconnect := range live {
		wg.Add(1)
		go func(sess *Session, disconnect func()) {
			defer wg.Done()
			if err := sess.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			if disconnect != nil {
				disconnect()
			}
		}(sess, disconnect)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		r.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
